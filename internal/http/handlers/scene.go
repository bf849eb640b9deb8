package handlers

import (
	"net/http"
)

// SceneSnapshot dumps the current design tree.
func (a *App) SceneSnapshot(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Scene.Snapshot())
}
