package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/yourorg/listing-sync/internal/events"
	"github.com/yourorg/listing-sync/internal/syncer"
)

type SyncRunner interface {
	Trigger(reason string) (bool, error)
	Status() syncer.Status
}

type SyncState interface {
	Cursor(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

type SyncDeps struct {
	Runner  SyncRunner
	State   SyncState
	Journal *events.Journal
}

func RegisterSync(r chi.Router, d SyncDeps) {
	r.Post("/v1/sync", func(w http.ResponseWriter, req *http.Request) {
		queued, err := d.Runner.Trigger("api")
		switch {
		case errors.Is(err, syncer.ErrNotRunning):
			render.Status(req, http.StatusServiceUnavailable)
			render.JSON(w, req, map[string]any{"error": "scheduler_not_running"})
			return
		case err != nil:
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]any{"error": "trigger_failed", "detail": err.Error()})
			return
		case !queued:
			render.Status(req, http.StatusConflict)
			render.JSON(w, req, map[string]any{"error": "sync_in_progress"})
			return
		}
		render.Status(req, http.StatusAccepted)
		render.JSON(w, req, map[string]any{"ok": true, "queued": true})
	})

	r.Get("/v1/sync/status", func(w http.ResponseWriter, req *http.Request) {
		cursor, err := d.State.Cursor(req.Context())
		if err != nil {
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]any{"error": "cursor_error", "detail": err.Error()})
			return
		}
		render.JSON(w, req, map[string]any{"ok": true, "cursor": cursor, "runner": d.Runner.Status()})
	})

	r.Post("/v1/sync/reset", func(w http.ResponseWriter, req *http.Request) {
		if d.Runner.Status().Running {
			render.Status(req, http.StatusConflict)
			render.JSON(w, req, map[string]any{"error": "sync_in_progress"})
			return
		}
		if err := d.State.Reset(req.Context()); err != nil {
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]any{"error": "reset_failed", "detail": err.Error()})
			return
		}
		render.JSON(w, req, map[string]any{"ok": true})
	})

	r.Get("/v1/sync/changes", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil && i > 0 {
				limit = i
			}
		}
		var changes []events.ListingChanged
		if d.Journal != nil {
			changes = d.Journal.Recent(limit)
		}
		render.JSON(w, req, map[string]any{"ok": true, "count": len(changes), "changes": changes})
	})
}
