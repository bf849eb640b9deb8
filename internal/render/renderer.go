// Package render is the rendering context: it decodes source bytes, crops
// them into tiles and encodes each tile independently.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"assetslicer/internal/domain"
	"assetslicer/internal/slicing"
)

const (
	// DefaultConcurrency bounds how many tile encodes run at once.
	DefaultConcurrency = 4
	// DefaultMaxPixels caps the surface a single render may allocate
	// (16384 x 16384).
	DefaultMaxPixels int64 = 1 << 28
)

// Encoder writes one tile surface as compressed bytes.
type Encoder func(w io.Writer, img image.Image, cell slicing.Cell) error

// PNGEncoder encodes tiles as PNG with a fixed compression level.
func PNGEncoder(w io.Writer, img image.Image, _ slicing.Cell) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

// Options configures a Renderer.
type Options struct {
	Concurrency int
	// MaxPixels bounds both the declared and the decoded pixel count.
	MaxPixels int64
	Logger    *zerolog.Logger
	Encode    Encoder
}

// Renderer cuts a decoded raster into encoded tiles.
type Renderer struct {
	concurrency int
	maxPixels   int64
	logger      zerolog.Logger
	encode      Encoder
}

// NewRenderer builds a Renderer with defaults applied.
func NewRenderer(opts Options) *Renderer {
	r := &Renderer{
		concurrency: opts.Concurrency,
		maxPixels:   opts.MaxPixels,
		logger:      zerolog.Nop(),
		encode:      opts.Encode,
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}
	if r.maxPixels <= 0 {
		r.maxPixels = DefaultMaxPixels
	}
	if opts.Logger != nil {
		r.logger = opts.Logger.With().Str("component", "renderer").Logger()
	}
	if r.encode == nil {
		r.encode = PNGEncoder
	}
	return r
}

// Render decodes data into a width x height surface and returns the encoded
// tiles of strategy in row-major order. A decode failure fails the whole
// batch with domain.ErrWorkerDecode. A cell whose encode fails is logged and
// left out; the batch only fails with domain.ErrTileEncode when no cell
// survives. A strategy that does not cover width x height, or a surface
// larger than the pixel cap, is rejected with domain.ErrPlanning before
// anything is allocated.
func (r *Renderer) Render(ctx context.Context, data []byte, mimeType string, width, height int, strategy slicing.Strategy, name string) ([]domain.Tile, error) {
	if err := strategy.ValidateFor(width, height); err != nil {
		return nil, err
	}
	if px := int64(width) * int64(height); px > r.maxPixels {
		return nil, fmt.Errorf("%w: declared %dx%d exceeds %d pixels", domain.ErrPlanning, width, height, r.maxPixels)
	}

	src, err := r.decode(data, mimeType, width, height)
	if err != nil {
		return nil, err
	}

	cells := strategy.Cells(width, height)
	results := make([]*domain.Tile, len(cells))
	var completed atomic.Int32
	var failedMu sync.Mutex
	var failed []slicing.Cell

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, cell := range cells {
		i, cell := i, cell
		g.Go(func() error {
			defer completed.Add(1)
			tile, err := r.safeRenderCell(ctx, src, cell, name)
			if err != nil {
				r.logger.Warn().Err(err).
					Str("asset", name).
					Int("row", cell.Row).
					Int("col", cell.Col).
					Msg("render: tile encode failed, skipping cell")
				failedMu.Lock()
				failed = append(failed, cell)
				failedMu.Unlock()
				return nil
			}
			results[i] = tile
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if int(completed.Load()) != strategy.TotalTiles {
		return nil, fmt.Errorf("render: %d of %d cells settled", completed.Load(), strategy.TotalTiles)
	}

	tiles := make([]domain.Tile, 0, len(cells))
	for _, t := range results {
		if t != nil {
			tiles = append(tiles, *t)
		}
	}
	if len(tiles) == 0 {
		return nil, fmt.Errorf("%w: all %d cells failed", domain.ErrTileEncode, len(cells))
	}
	slices.SortFunc(tiles, func(a, b domain.Tile) int {
		if a.Row != b.Row {
			return a.Row - b.Row
		}
		return a.Col - b.Col
	})

	r.logger.Debug().
		Str("asset", name).
		Int("tiles", len(tiles)).
		Int("failed", len(failed)).
		Str("direction", string(strategy.Direction)).
		Msg("render: batch settled")
	return tiles, nil
}

func (r *Renderer) decode(data []byte, mimeType string, width, height int) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source", domain.ErrWorkerDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkerDecode, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > r.maxPixels {
		return nil, fmt.Errorf("%w: source %dx%d exceeds %d pixels", domain.ErrWorkerDecode, cfg.Width, cfg.Height, r.maxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWorkerDecode, err)
	}
	if declared := formatFromMIME(mimeType); declared != "" && declared != format {
		r.logger.Debug().Str("declared", mimeType).Str("detected", format).Msg("render: mime type does not match content")
	}

	b := img.Bounds()
	if b.Min == (image.Point{}) && b.Dx() == width && b.Dy() == height {
		return img, nil
	}
	// Declared size wins: draw the decoded raster at the origin of a surface
	// of the declared size.
	surface := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(surface, surface.Bounds(), img, b.Min, draw.Src)
	return surface, nil
}

// safeRenderCell turns a panicking encoder into a failed cell.
func (r *Renderer) safeRenderCell(ctx context.Context, src image.Image, cell slicing.Cell, name string) (tile *domain.Tile, err error) {
	defer func() {
		if p := recover(); p != nil {
			tile, err = nil, fmt.Errorf("%w: r%d c%d: panic: %v", domain.ErrTileEncode, cell.Row, cell.Col, p)
		}
	}()
	return r.renderCell(ctx, src, cell, name)
}

func (r *Renderer) renderCell(ctx context.Context, src image.Image, cell slicing.Cell, name string) (*domain.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, cell.Width, cell.Height))
	origin := src.Bounds().Min.Add(image.Pt(cell.X, cell.Y))
	draw.Draw(dst, dst.Bounds(), src, origin, draw.Src)

	var buf bytes.Buffer
	if err := r.encode(&buf, dst, cell); err != nil {
		return nil, fmt.Errorf("%w: r%d c%d: %v", domain.ErrTileEncode, cell.Row, cell.Col, err)
	}
	return &domain.Tile{
		Bytes:  buf.Bytes(),
		Width:  cell.Width,
		Height: cell.Height,
		X:      cell.X,
		Y:      cell.Y,
		Row:    cell.Row,
		Col:    cell.Col,
		Name:   domain.TileName(name, cell.Row, cell.Col),
	}, nil
}

func formatFromMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	default:
		return ""
	}
}
