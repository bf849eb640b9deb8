// Package reconstruct turns rendered tiles back into a single composite node
// in the host scene.
package reconstruct

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"assetslicer/internal/domain"
	"assetslicer/internal/scene"
)

// Target says where the composite goes. X and Y are where the source
// image's origin lands in Parent. Width and Height are the planned composite
// size; when zero the extent of the tiles is reported instead.
type Target struct {
	Parent string
	X      int
	Y      int
	Width  int
	Height int
}

// Assembler creates one image rectangle per tile and groups them. Nothing is
// left behind in the scene when it fails.
type Assembler struct {
	host   scene.Host
	logger zerolog.Logger
}

// New returns an Assembler mutating host.
func New(host scene.Host, logger *zerolog.Logger) *Assembler {
	a := &Assembler{host: host, logger: zerolog.Nop()}
	if logger != nil {
		a.logger = logger.With().Str("component", "reconstructor").Logger()
	}
	return a
}

// Assemble stages a node per tile, appends them all to target.Parent in one
// batch, then groups exactly that set. A tile whose node cannot be created
// is skipped and leaves a gap; the surviving tiles keep their offsets from
// the image origin. If appending, grouping or the final rename/move fails,
// or anything panics on the way, every staged node is removed before the
// error is returned.
func (a *Assembler) Assemble(ctx context.Context, tiles []domain.Tile, originalName string, target Target) (ref scene.NodeRef, err error) {
	if len(tiles) == 0 {
		return scene.NodeRef{}, fmt.Errorf("%w: no tiles", domain.ErrReconstruction)
	}
	log := a.logger.With().Str("asset", originalName).Logger()

	// pending holds what must be removed if Assemble does not finish.
	var pending []string
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("reconstruct: recovered panic")
			err = fmt.Errorf("%w: panic: %v", domain.ErrReconstruction, r)
			ref = scene.NodeRef{}
		}
		if err != nil && len(pending) > 0 {
			a.rollback(ctx, pending)
		}
	}()

	staged := make([]string, 0, len(tiles))
	var minX, minY, maxX, maxY int
	for _, tile := range tiles {
		id, err := a.createTile(ctx, tile)
		if err != nil {
			log.Error().Err(err).Int("row", tile.Row).Int("col", tile.Col).Msg("reconstruct: tile node creation failed, skipping")
			continue
		}
		if len(staged) == 0 {
			minX, minY = tile.X, tile.Y
			maxX, maxY = tile.X+tile.Width, tile.Y+tile.Height
		} else {
			minX = min(minX, tile.X)
			minY = min(minY, tile.Y)
			maxX = max(maxX, tile.X+tile.Width)
			maxY = max(maxY, tile.Y+tile.Height)
		}
		staged = append(staged, id)
		pending = staged
	}
	if len(staged) == 0 {
		return scene.NodeRef{}, fmt.Errorf("%w: none of %d tile nodes could be created", domain.ErrReconstruction, len(tiles))
	}

	if err := a.host.Append(ctx, target.Parent, staged...); err != nil {
		return scene.NodeRef{}, fmt.Errorf("%w: append tiles: %v", domain.ErrReconstruction, err)
	}

	groupID, err := a.host.Group(ctx, target.Parent, staged)
	if err != nil {
		return scene.NodeRef{}, fmt.Errorf("%w: group tiles: %v", domain.ErrReconstruction, err)
	}
	pending = []string{groupID}

	// The group's position is its bounding box, which starts at the first
	// surviving tile rather than at the image origin when a leading tile is
	// missing.
	if err := errors.Join(
		a.host.Rename(ctx, groupID, originalName),
		a.host.Move(ctx, groupID, target.X+minX, target.Y+minY),
	); err != nil {
		return scene.NodeRef{}, fmt.Errorf("%w: place composite: %v", domain.ErrReconstruction, err)
	}
	pending = nil

	width, height := target.Width, target.Height
	if width <= 0 || height <= 0 {
		width, height = maxX, maxY
	}
	log.Info().
		Str("node_id", groupID).
		Int("tiles", len(staged)).
		Int("skipped", len(tiles)-len(staged)).
		Msg("reconstruct: composite assembled")
	return scene.NodeRef{
		ID:     groupID,
		Name:   originalName,
		Kind:   scene.KindGroup,
		Width:  width,
		Height: height,
	}, nil
}

func (a *Assembler) createTile(ctx context.Context, tile domain.Tile) (string, error) {
	hash, err := a.host.CreateImage(ctx, tile.Bytes)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	id, err := a.host.CreateRectangle(ctx, scene.RectSpec{
		Name:   tile.Name,
		X:      tile.X,
		Y:      tile.Y,
		Width:  tile.Width,
		Height: tile.Height,
		Fill:   scene.ImagePaint(hash),
	})
	if err != nil {
		return "", fmt.Errorf("create rectangle: %w", err)
	}
	return id, nil
}

// rollback removes every staged node individually. It runs even when ctx is
// already cancelled.
func (a *Assembler) rollback(ctx context.Context, ids []string) {
	cleanup := context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := a.host.Remove(cleanup, id); err != nil {
			a.logger.Error().Err(err).Str("node_id", id).Msg("reconstruct: rollback remove failed")
		}
	}
	a.logger.Warn().Int("removed", len(ids)).Msg("reconstruct: rolled back staged nodes")
}
