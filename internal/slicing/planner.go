// Package slicing decides how an oversized raster is cut into tiles the host
// can render.
package slicing

import (
	"fmt"

	"assetslicer/internal/domain"
)

// Direction names the axis (or axes) along which an image is cut.
type Direction string

const (
	DirectionNone       Direction = "none"
	DirectionHorizontal Direction = "horizontal"
	DirectionVertical   Direction = "vertical"
	DirectionBoth       Direction = "both"
)

// Safety margin applied below the hard limit, expressed as a ratio.
// Encoders in the rendering context may add container overhead, so tiles
// stay at 90% of the limit.
const (
	marginNumerator   = 9
	marginDenominator = 10
)

// Strategy is a tiling plan. It is never mutated after Plan returns it.
type Strategy struct {
	Direction   Direction `json:"direction"`
	TileWidth   int       `json:"tileWidth"`
	TileHeight  int       `json:"tileHeight"`
	Cols        int       `json:"cols"`
	Rows        int       `json:"rows"`
	TotalTiles  int       `json:"totalTiles"`
	Description string    `json:"description"`
}

// Cell is the rectangle covered by one tile, in source image coordinates.
type Cell struct {
	Row    int
	Col    int
	X      int
	Y      int
	Width  int
	Height int
}

// Plan computes the tiling plan for a width x height image under maxDim.
func Plan(width, height, maxDim int) (Strategy, error) {
	if width <= 0 || height <= 0 {
		return Strategy{}, fmt.Errorf("%w: dimensions %dx%d must be positive", domain.ErrPlanning, width, height)
	}
	if maxDim <= 0 {
		return Strategy{}, fmt.Errorf("%w: max dimension %d must be positive", domain.ErrPlanning, maxDim)
	}

	widthExceeds := width > maxDim
	heightExceeds := height > maxDim
	safe := SafeTileSize(maxDim)

	var s Strategy
	switch {
	case !widthExceeds && !heightExceeds:
		s = Strategy{
			Direction:  DirectionNone,
			TileWidth:  width,
			TileHeight: height,
			Cols:       1,
			Rows:       1,
		}
	case widthExceeds && !heightExceeds:
		s = Strategy{
			Direction:  DirectionVertical,
			TileWidth:  safe,
			TileHeight: height,
			Cols:       ceilDiv(width, safe),
			Rows:       1,
		}
	case !widthExceeds && heightExceeds:
		s = Strategy{
			Direction:  DirectionHorizontal,
			TileWidth:  width,
			TileHeight: safe,
			Cols:       1,
			Rows:       ceilDiv(height, safe),
		}
	default:
		s = Strategy{
			Direction:  DirectionBoth,
			TileWidth:  safe,
			TileHeight: safe,
			Cols:       ceilDiv(width, safe),
			Rows:       ceilDiv(height, safe),
		}
	}
	s.TotalTiles = s.Cols * s.Rows
	s.Description = describe(s, width, height)
	return s, nil
}

// SafeTileSize returns floor(maxDim * 0.9), never less than one pixel.
func SafeTileSize(maxDim int) int {
	size := maxDim * marginNumerator / marginDenominator
	if size < 1 {
		return 1
	}
	return size
}

// Validate checks the structural invariants of a plan received from
// elsewhere, e.g. over the wire.
func (s Strategy) Validate() error {
	if s.TileWidth <= 0 || s.TileHeight <= 0 || s.Cols <= 0 || s.Rows <= 0 {
		return fmt.Errorf("%w: strategy has non-positive tile geometry", domain.ErrPlanning)
	}
	if s.Cols*s.Rows != s.TotalTiles {
		return fmt.Errorf("%w: cols*rows=%d but totalTiles=%d", domain.ErrPlanning, s.Cols*s.Rows, s.TotalTiles)
	}
	if (s.Direction == DirectionNone) != (s.TotalTiles == 1) {
		return fmt.Errorf("%w: direction %q inconsistent with %d tiles", domain.ErrPlanning, s.Direction, s.TotalTiles)
	}
	return nil
}

// ValidateFor checks that s is structurally sound and that its grid covers a
// width x height image exactly: every column and row holds at least one
// pixel and together they reach the far edges.
func (s Strategy) ValidateFor(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d must be positive", domain.ErrPlanning, width, height)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.TileWidth > width || s.TileHeight > height {
		return fmt.Errorf("%w: tile %dx%d larger than image %dx%d", domain.ErrPlanning, s.TileWidth, s.TileHeight, width, height)
	}
	if want := ceilDiv(width, s.TileWidth); s.Cols != want {
		return fmt.Errorf("%w: %d columns of %d px do not cover width %d (want %d)", domain.ErrPlanning, s.Cols, s.TileWidth, width, want)
	}
	if want := ceilDiv(height, s.TileHeight); s.Rows != want {
		return fmt.Errorf("%w: %d rows of %d px do not cover height %d (want %d)", domain.ErrPlanning, s.Rows, s.TileHeight, height, want)
	}
	switch s.Direction {
	case DirectionNone, DirectionVertical, DirectionHorizontal, DirectionBoth:
	default:
		return fmt.Errorf("%w: unknown direction %q", domain.ErrPlanning, s.Direction)
	}
	if (s.Direction == DirectionVertical && s.Rows != 1) || (s.Direction == DirectionHorizontal && s.Cols != 1) {
		return fmt.Errorf("%w: direction %q inconsistent with %dx%d grid", domain.ErrPlanning, s.Direction, s.Cols, s.Rows)
	}
	return nil
}

// Cells lists the tile rectangles in row-major order. Edge cells are clipped
// to the image so that the cells partition [0,width)x[0,height) exactly.
func (s Strategy) Cells(width, height int) []Cell {
	cells := make([]Cell, 0, s.TotalTiles)
	for row := 0; row < s.Rows; row++ {
		for col := 0; col < s.Cols; col++ {
			x := col * s.TileWidth
			y := row * s.TileHeight
			cells = append(cells, Cell{
				Row:    row,
				Col:    col,
				X:      x,
				Y:      y,
				Width:  min(s.TileWidth, width-x),
				Height: min(s.TileHeight, height-y),
			})
		}
	}
	return cells
}

func describe(s Strategy, width, height int) string {
	switch s.Direction {
	case DirectionNone:
		return fmt.Sprintf("no slicing needed (%dx%d)", width, height)
	case DirectionVertical:
		return fmt.Sprintf("vertical slicing: %d columns of up to %dx%d", s.Cols, s.TileWidth, s.TileHeight)
	case DirectionHorizontal:
		return fmt.Sprintf("horizontal slicing: %d rows of up to %dx%d", s.Rows, s.TileWidth, s.TileHeight)
	default:
		return fmt.Sprintf("grid slicing: %dx%d = %d tiles of up to %dx%d", s.Cols, s.Rows, s.TotalTiles, s.TileWidth, s.TileHeight)
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
