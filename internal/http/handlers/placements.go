package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"assetslicer/internal/domain"
	"assetslicer/internal/middleware"
	"assetslicer/internal/pipeline"
	"assetslicer/internal/sqlinline"
)

// CreatePlacement runs the pipeline for an uploaded file or a stored asset
// and places the result in the scene. The response always carries a node:
// degraded placements report the placeholder and its reason.
func (a *App) CreatePlacement(w http.ResponseWriter, r *http.Request) {
	if err := a.parseForm(w, r); err != nil {
		code, kind := uploadStatus(err)
		a.error(w, code, kind, err.Error())
		return
	}
	ctx := r.Context()
	requestID := middleware.RequestIDFromContext(ctx)

	var (
		asset   domain.AssetDescriptor
		assetID = strings.TrimSpace(r.FormValue("asset_id"))
		err     error
	)
	if assetID != "" {
		if a.Assets == nil {
			a.error(w, http.StatusNotImplemented, "not_configured", "asset lookup requires a database")
			return
		}
		asset, err = a.Assets.Load(ctx, assetID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				a.error(w, http.StatusNotFound, "not_found", "asset not found")
				return
			}
			a.Logger.Error().Err(err).Str("asset_id", assetID).Msg("load asset failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load asset")
			return
		}
	} else {
		asset, err = readUpload(r)
		if err != nil {
			code, kind := uploadStatus(err)
			a.error(w, code, kind, err.Error())
			return
		}
		assetID = a.registerUpload(r, requestID, asset)
	}

	x, errX := formInt(r, "x")
	y, errY := formInt(r, "y")
	if err := errors.Join(errX, errY); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	parent := strings.TrimSpace(r.FormValue("parent"))
	if parent == "" {
		parent = a.Scene.Root()
	}

	res := a.Pipeline.Place(ctx, pipeline.Request{
		Asset:    asset,
		Parent:   parent,
		X:        x,
		Y:        y,
		Language: middleware.LocaleFromContext(ctx),
	})
	a.recordPlacement(r, requestID, asset.Name, res)

	a.json(w, http.StatusCreated, map[string]any{
		"request_id": requestID,
		"asset_id":   assetID,
		"result":     res,
	})
}

// ListPlacements pages through recorded placements.
func (a *App) ListPlacements(w http.ResponseWriter, r *http.Request) {
	if a.SQL == nil {
		a.error(w, http.StatusNotImplemented, "not_configured", "placement history requires a database")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	rows, err := a.SQL.Query(r.Context(), sqlinline.QListPlacements, limit, offset)
	if err != nil {
		a.Logger.Error().Err(err).Msg("list placements failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load placements")
		return
	}
	defer rows.Close()
	items := make([]map[string]any, 0, limit)
	for rows.Next() {
		var requestID *string
		var name, outcome, reason, direction, nodeID string
		var tiles int
		var createdAt time.Time
		if err := rows.Scan(&requestID, &name, &outcome, &reason, &direction, &tiles, &nodeID, &createdAt); err != nil {
			a.Logger.Warn().Err(err).Msg("scan placement failed, skipping row")
			continue
		}
		item := map[string]any{
			"asset_name": name,
			"outcome":    outcome,
			"reason":     reason,
			"direction":  direction,
			"tiles":      tiles,
			"node_id":    nodeID,
			"created_at": createdAt,
		}
		if requestID != nil {
			item["request_id"] = *requestID
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		a.Logger.Error().Err(err).Msg("iterate placements failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load placements")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// registerUpload stores the upload and its asset row when a database is
// configured, returning the new asset id. Failures only cost the id.
func (a *App) registerUpload(r *http.Request, requestID string, asset domain.AssetDescriptor) string {
	if a.Assets == nil || a.Uploads == nil {
		return ""
	}
	key := fmt.Sprintf("uploads/%s%s", requestID, extensionFor(asset.MIMEType))
	stored, err := a.Uploads.Write(r.Context(), key, asset.Bytes)
	if err != nil {
		a.Logger.Warn().Err(err).Str("request_id", requestID).Msg("store upload failed")
		return ""
	}
	id, err := a.Assets.Register(r.Context(), stored, asset)
	if err != nil {
		a.Logger.Warn().Err(err).Str("request_id", requestID).Msg("register upload failed")
		if delErr := a.Uploads.Delete(context.WithoutCancel(r.Context()), stored); delErr != nil {
			a.Logger.Warn().Err(delErr).Str("key", stored).Msg("remove unregistered upload failed")
		}
		return ""
	}
	return id
}

func (a *App) recordPlacement(r *http.Request, requestID, name string, res pipeline.Result) {
	if a.SQL == nil {
		return
	}
	var direction string
	if res.Strategy != nil {
		direction = string(res.Strategy.Direction)
	}
	if _, err := a.SQL.Exec(r.Context(), sqlinline.QInsertPlacement,
		requestID, name, string(res.Outcome), res.Reason, direction, res.Tiles, res.Node.ID); err != nil {
		a.Logger.Warn().Err(err).Str("request_id", requestID).Msg("record placement failed")
	}
}

func formInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func extensionFor(mimeType string) string {
	if sub, ok := strings.CutPrefix(mimeType, "image/"); ok && sub != "" && !strings.ContainsAny(sub, "/;+") {
		if sub == "jpeg" {
			return ".jpg"
		}
		return "." + sub
	}
	return ".bin"
}
