package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hippocms/daemon"
)

// ManagerStatus is what the status endpoint needs from a manager.
type ManagerStatus interface {
	State() daemon.ManagerState
	Modules() []daemon.ModuleStatus
	Reconfigure(ctx context.Context, name string) error
}

// NewStatusRouter serves:
//
//	GET  /healthz                        manager state, 503 unless running
//	GET  /modules                        module statuses in start order
//	POST /modules/{name}/reconfigure     push current config to one module
func NewStatusRouter(mgr ManagerStatus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		state := mgr.State()
		code := http.StatusOK
		if state != daemon.ManagerRunning {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"state": state})
	})
	r.Get("/modules", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, mgr.Modules())
	})
	r.Post("/modules/{name}/reconfigure", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		err := mgr.Reconfigure(req.Context(), name)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"module": name, "reconfigured": true})
		case errors.Is(err, daemon.ErrModuleNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		case errors.Is(err, daemon.ErrModuleNotReconfigurable), errors.Is(err, daemon.ErrModuleNotStarted):
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		}
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
