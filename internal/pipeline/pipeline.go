// Package pipeline places an asset into the scene: directly when it fits,
// as a reassembled composite of tiles when it does not, and as a labeled
// placeholder whenever any step fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"assetslicer/internal/domain"
	"assetslicer/internal/placeholder"
	"assetslicer/internal/reconstruct"
	"assetslicer/internal/scene"
	"assetslicer/internal/slicing"
)

// TileRequester ships an asset to the rendering context. *bridge.Bridge
// satisfies it.
type TileRequester interface {
	RequestTiles(ctx context.Context, asset domain.AssetDescriptor, strategy slicing.Strategy) ([]domain.Tile, error)
}

// Outcome names which path produced the result node.
type Outcome string

const (
	OutcomeImage       Outcome = "image"
	OutcomeComposite   Outcome = "composite"
	OutcomePlaceholder Outcome = "placeholder"
)

// Request is one placement.
type Request struct {
	Asset  domain.AssetDescriptor
	Parent string
	X      int
	Y      int
	// Language localizes placeholder labels.
	Language language.Tag
}

// Result is either a usable image node or a placeholder with a reason.
type Result struct {
	Node     scene.NodeRef     `json:"node"`
	Outcome  Outcome           `json:"outcome"`
	Degraded bool              `json:"degraded"`
	Reason   string            `json:"reason,omitempty"`
	Strategy *slicing.Strategy `json:"strategy,omitempty"`
	Tiles    int               `json:"tiles,omitempty"`
}

// Options configures a Pipeline.
type Options struct {
	// MaxDimension is the host's per-side raster limit.
	MaxDimension int
	// MaxTiles caps a plan's tile count; zero means no cap.
	MaxTiles int
	// SlicingDisabled sends every oversized asset straight to the placeholder.
	SlicingDisabled bool
	Logger          *zerolog.Logger
	Metrics         *Metrics
}

// Pipeline is safe for concurrent use when its host and requester are.
type Pipeline struct {
	host      scene.Host
	tiles     TileRequester
	assembler *reconstruct.Assembler
	fallback  *placeholder.Fallback
	logger    zerolog.Logger
	metrics   *Metrics

	maxDim   int
	maxTiles int
	slicing  bool
}

// New wires a pipeline over host and the tile requester.
func New(host scene.Host, tiles TileRequester, opts Options) *Pipeline {
	p := &Pipeline{
		host:     host,
		tiles:    tiles,
		logger:   zerolog.Nop(),
		metrics:  opts.Metrics,
		maxDim:   opts.MaxDimension,
		maxTiles: opts.MaxTiles,
		slicing:  !opts.SlicingDisabled,
	}
	if opts.Logger != nil {
		p.logger = opts.Logger.With().Str("component", "pipeline").Logger()
	}
	if p.maxDim <= 0 {
		p.maxDim = domain.HardDimensionLimit
	}
	p.assembler = reconstruct.New(host, &p.logger)
	p.fallback = placeholder.New(host, placeholder.Options{Logger: &p.logger})
	return p
}

// Place runs the pipeline for req. It never returns an error and never
// panics: every failure ends in a placeholder node.
func (p *Pipeline) Place(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	log := p.logger.With().
		Str("asset", req.Asset.Name).
		Int("width", req.Asset.Width).
		Int("height", req.Asset.Height).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pipeline: recovered panic")
			res = p.degrade(ctx, req, fmt.Errorf("pipeline: panic: %v", r), res.Strategy)
		}
		p.metrics.observe(res, time.Since(start))
		log.Info().
			Str("outcome", string(res.Outcome)).
			Str("reason", res.Reason).
			Dur("elapsed", time.Since(start)).
			Msg("pipeline: placement finished")
	}()

	if err := req.Asset.Validate(); err != nil {
		return p.degrade(ctx, req, err, nil)
	}
	strategy, err := slicing.Plan(req.Asset.Width, req.Asset.Height, p.maxDim)
	if err != nil {
		return p.degrade(ctx, req, err, nil)
	}
	log = log.With().Str("direction", string(strategy.Direction)).Int("tiles", strategy.TotalTiles).Logger()

	if strategy.Direction == slicing.DirectionNone {
		node, err := p.placeDirect(ctx, req)
		if err != nil {
			return p.degrade(ctx, req, err, &strategy)
		}
		return Result{Node: node, Outcome: OutcomeImage, Strategy: &strategy, Tiles: 1}
	}

	if !p.slicing {
		return p.degrade(ctx, req, domain.ErrSlicingOff, &strategy)
	}
	if p.maxTiles > 0 && strategy.TotalTiles > p.maxTiles {
		return p.degrade(ctx, req, fmt.Errorf("%w: %d exceeds %d", domain.ErrTooManyTiles, strategy.TotalTiles, p.maxTiles), &strategy)
	}

	log.Debug().Str("plan", strategy.Description).Msg("pipeline: requesting tiles")
	tiles, err := p.tiles.RequestTiles(ctx, req.Asset, strategy)
	if err != nil {
		return p.degrade(ctx, req, err, &strategy)
	}
	if len(tiles) < strategy.TotalTiles {
		log.Warn().Int("received", len(tiles)).Msg("pipeline: composite will have gaps")
	}

	node, err := p.assembler.Assemble(ctx, tiles, req.Asset.Name, reconstruct.Target{
		Parent: req.Parent,
		X:      req.X,
		Y:      req.Y,
		Width:  req.Asset.Width,
		Height: req.Asset.Height,
	})
	if err != nil {
		return p.degrade(ctx, req, err, &strategy)
	}
	return Result{Node: node, Outcome: OutcomeComposite, Strategy: &strategy, Tiles: len(tiles)}
}

// placeDirect creates a single image rectangle for an asset that fits.
func (p *Pipeline) placeDirect(ctx context.Context, req Request) (scene.NodeRef, error) {
	hash, err := p.host.CreateImage(ctx, req.Asset.Bytes)
	if err != nil {
		return scene.NodeRef{}, fmt.Errorf("%w: create image: %v", domain.ErrReconstruction, err)
	}
	id, err := p.host.CreateRectangle(ctx, scene.RectSpec{
		Name:   req.Asset.Name,
		X:      req.X,
		Y:      req.Y,
		Width:  req.Asset.Width,
		Height: req.Asset.Height,
		Fill:   scene.ImagePaint(hash),
	})
	if err != nil {
		return scene.NodeRef{}, fmt.Errorf("%w: create rectangle: %v", domain.ErrReconstruction, err)
	}
	if err := p.host.Append(ctx, req.Parent, id); err != nil {
		if rmErr := p.host.Remove(context.WithoutCancel(ctx), id); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return scene.NodeRef{}, fmt.Errorf("%w: append image: %v", domain.ErrReconstruction, err)
	}
	return scene.NodeRef{
		ID:     id,
		Name:   req.Asset.Name,
		Kind:   scene.KindRectangle,
		Width:  req.Asset.Width,
		Height: req.Asset.Height,
	}, nil
}

func (p *Pipeline) degrade(ctx context.Context, req Request, cause error, strategy *slicing.Strategy) Result {
	reason := domain.FailureReason(cause)
	p.logger.Warn().Err(cause).Str("asset", req.Asset.Name).Str("reason", reason).Msg("pipeline: degrading to placeholder")
	node := p.fallback.Build(ctx, placeholder.Request{
		Parent:   req.Parent,
		X:        req.X,
		Y:        req.Y,
		Width:    req.Asset.Width,
		Height:   req.Asset.Height,
		Name:     req.Asset.Name,
		Reason:   reason,
		Category: placeholder.CategoryFor(cause),
		Language: req.Language,
	})
	return Result{Node: node, Outcome: OutcomePlaceholder, Degraded: true, Reason: reason, Strategy: strategy}
}
