package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"assetslicer/internal/bridge"
	"assetslicer/internal/domain"
	"assetslicer/internal/slicing"
)

const (
	defaultMaxInFlight = 2
	replyTimeout       = 5 * time.Second
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// MaxInFlight bounds how many slice requests render at once.
	MaxInFlight int
	Logger      *zerolog.Logger
}

// TileRenderer turns one source image into encoded tiles. *Renderer is the
// production implementation.
type TileRenderer interface {
	Render(ctx context.Context, data []byte, mimeType string, width, height int, strategy slicing.Strategy, name string) ([]domain.Tile, error)
}

// Worker is the rendering context's message loop: it answers every
// slice-request arriving on its transport with exactly one slice-response.
type Worker struct {
	transport bridge.Transport
	renderer  TileRenderer
	logger    zerolog.Logger
	slots     chan struct{}
	wg        sync.WaitGroup
}

// NewWorker wires a renderer to a transport.
func NewWorker(transport bridge.Transport, renderer TileRenderer, opts WorkerOptions) *Worker {
	limit := opts.MaxInFlight
	if limit <= 0 {
		limit = defaultMaxInFlight
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "render-worker").Logger()
	}
	if renderer == nil {
		renderer = NewRenderer(Options{Logger: opts.Logger})
	}
	return &Worker{
		transport: transport,
		renderer:  renderer,
		logger:    logger,
		slots:     make(chan struct{}, limit),
	}
}

// Run subscribes to the transport and serves requests until ctx is done. It
// waits for in-flight renders before returning; a render that has started
// is never preempted.
func (w *Worker) Run(ctx context.Context) error {
	unsubscribe, err := w.transport.Subscribe(func(data []byte) {
		w.accept(ctx, data)
	})
	if err != nil {
		return fmt.Errorf("render worker: subscribe: %w", err)
	}
	w.logger.Info().Msg("render worker: started")
	<-ctx.Done()
	unsubscribe()
	w.wg.Wait()
	w.logger.Info().Msg("render worker: stopped")
	return ctx.Err()
}

func (w *Worker) accept(ctx context.Context, data []byte) {
	typ, err := bridge.MessageType(data)
	if err != nil {
		w.logger.Warn().Err(err).Msg("render worker: dropping malformed message")
		return
	}
	if typ != bridge.TypeSliceRequest {
		return
	}
	var req bridge.SliceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		w.logger.Warn().Err(err).Msg("render worker: dropping undecodable slice request")
		return
	}
	if ctx.Err() != nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case w.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-w.slots }()
		w.reply(w.serve(ctx, req))
	}()
}

// serve answers req even when rendering panics, so the host is never left
// waiting for a response that will not come.
func (w *Worker) serve(ctx context.Context, req bridge.SliceRequest) (resp bridge.SliceResponse) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Interface("panic", r).
				Str("request_id", req.RequestID).
				Str("asset", req.ImageData.Name).
				Msg("render worker: recovered panic")
			resp = bridge.SliceResponse{
				Type:           bridge.TypeSliceResponse,
				RequestID:      req.RequestID,
				ImageName:      req.ImageData.Name,
				OriginalWidth:  req.ImageData.Width,
				OriginalHeight: req.ImageData.Height,
				Error:          fmt.Sprintf("render panic: %v", r),
				ErrorKind:      bridge.ErrorKindInvalid,
			}
		}
	}()
	return w.handle(ctx, req)
}

// handle renders one request. Rendering runs detached from ctx so that work
// already begun completes; the host ignores responses that arrive too late.
func (w *Worker) handle(ctx context.Context, req bridge.SliceRequest) bridge.SliceResponse {
	img := req.ImageData
	log := w.logger.With().Str("request_id", req.RequestID).Str("asset", img.Name).Logger()
	resp := bridge.SliceResponse{
		Type:           bridge.TypeSliceResponse,
		RequestID:      req.RequestID,
		ImageName:      img.Name,
		OriginalWidth:  img.Width,
		OriginalHeight: img.Height,
	}

	if err := req.SliceStrategy.ValidateFor(img.Width, img.Height); err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = bridge.ErrorKindInvalid
		log.Warn().Err(err).Msg("render worker: rejecting invalid strategy")
		return resp
	}

	start := time.Now()
	tiles, err := w.renderer.Render(context.WithoutCancel(ctx), img.Bytes, img.Type, img.Width, img.Height, req.SliceStrategy, img.Name)
	if err != nil {
		resp.Error = err.Error()
		switch {
		case errors.Is(err, domain.ErrWorkerDecode):
			resp.ErrorKind = bridge.ErrorKindDecode
		case errors.Is(err, domain.ErrTileEncode):
			resp.ErrorKind = bridge.ErrorKindEncode
		default:
			resp.ErrorKind = bridge.ErrorKindInvalid
		}
		log.Error().Err(err).Msg("render worker: render failed")
		return resp
	}

	resp.Success = true
	resp.Slices = bridge.TilesToSlices(tiles)
	log.Info().
		Int("tiles", len(tiles)).
		Int("planned", req.SliceStrategy.TotalTiles).
		Dur("elapsed", time.Since(start)).
		Msg("render worker: tiles ready")
	return resp
}

func (w *Worker) reply(resp bridge.SliceResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		w.logger.Error().Err(err).Str("request_id", resp.RequestID).Msg("render worker: encode response failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := w.transport.Send(ctx, data); err != nil {
		w.logger.Error().Err(err).Str("request_id", resp.RequestID).Msg("render worker: send response failed")
	}
}
