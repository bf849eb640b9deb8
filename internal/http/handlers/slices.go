package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"assetslicer/internal/domain"
	"assetslicer/internal/slicing"
	"assetslicer/pkg/zip"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type sliceManifest struct {
	Name     string           `json:"name"`
	Width    int              `json:"width"`
	Height   int              `json:"height"`
	Strategy slicing.Strategy `json:"strategy"`
	Tiles    []manifestTile   `json:"tiles"`
}

type manifestTile struct {
	File   string `json:"file"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CreateSlices plans and renders an upload in-process and returns the tiles
// as a zip archive with a manifest.json describing their placement.
func (a *App) CreateSlices(w http.ResponseWriter, r *http.Request) {
	if err := a.parseForm(w, r); err != nil {
		code, kind := uploadStatus(err)
		a.error(w, code, kind, err.Error())
		return
	}
	asset, err := readUpload(r)
	if err != nil {
		code, kind := uploadStatus(err)
		a.error(w, code, kind, err.Error())
		return
	}

	maxDim, maxTiles := domain.HardDimensionLimit, 0
	if a.Config != nil {
		maxDim, maxTiles = a.Config.MaxDimension, a.Config.MaxTiles
	}
	strategy, err := slicing.Plan(asset.Width, asset.Height, maxDim)
	if err != nil {
		a.error(w, http.StatusUnprocessableEntity, "invalid_dimensions", err.Error())
		return
	}
	if maxTiles > 0 && strategy.TotalTiles > maxTiles {
		a.error(w, http.StatusUnprocessableEntity, "too_many_tiles",
			fmt.Sprintf("%d tiles exceeds the limit of %d", strategy.TotalTiles, maxTiles))
		return
	}

	tiles, err := a.Renderer.Render(r.Context(), asset.Bytes, asset.MIMEType, asset.Width, asset.Height, strategy, asset.Name)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrWorkerDecode):
			a.error(w, http.StatusUnprocessableEntity, "decode_failed", domain.FailureReason(err))
		default:
			a.Logger.Error().Err(err).Str("asset", asset.Name).Msg("render slices failed")
			a.error(w, http.StatusInternalServerError, "internal", domain.FailureReason(err))
		}
		return
	}

	dir := unsafeNameChars.ReplaceAllString(asset.Name, "_")
	now := time.Now()
	manifest := sliceManifest{Name: asset.Name, Width: asset.Width, Height: asset.Height, Strategy: strategy}
	entries := make([]zip.Entry, 0, len(tiles)+1)
	for _, tile := range tiles {
		file := fmt.Sprintf("%s/r%02d_c%02d.png", dir, tile.Row, tile.Col)
		entries = append(entries, zip.Entry{Filename: file, Modified: now, Data: tile.Bytes})
		manifest.Tiles = append(manifest.Tiles, manifestTile{
			File: file, Row: tile.Row, Col: tile.Col, X: tile.X, Y: tile.Y, Width: tile.Width, Height: tile.Height,
		})
	}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build manifest")
		return
	}
	entries = append(entries, zip.Entry{Filename: "manifest.json", Modified: now, Data: body})

	archive, err := zip.ArchiveAssets(entries)
	if err != nil {
		a.Logger.Error().Err(err).Msg("archive slices failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-slices.zip", dir))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
