package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"assetslicer/internal/domain"
	"assetslicer/internal/infra"
	"assetslicer/internal/pipeline"
	"assetslicer/internal/render"
	"assetslicer/internal/scene"
)

// AssetStore resolves stored source assets by id and registers new ones.
// assetsource.PostgresSource satisfies it.
type AssetStore interface {
	Load(ctx context.Context, assetID string) (domain.AssetDescriptor, error)
	Register(ctx context.Context, storageKey string, asset domain.AssetDescriptor) (string, error)
}

// Uploads persists uploaded source bytes. storage.FileStore satisfies it.
type Uploads interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// App carries the dependencies shared by the HTTP handlers. Assets, Uploads
// and SQL are optional and only set when a database is configured.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Pipeline *pipeline.Pipeline
	Scene    *scene.Tree
	Renderer *render.Renderer
	Assets   AssetStore
	Uploads  Uploads
	SQL      infra.SQLExecutor
	Gatherer prometheus.Gatherer
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
