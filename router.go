package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"

	httpapi "github.com/yourorg/listing-sync/http"
	httpv1 "github.com/yourorg/listing-sync/http/v1"
	"github.com/yourorg/listing-sync/internal/app"
	"github.com/yourorg/listing-sync/internal/logger"
)

func BuildRouter(a *app.App, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.Middleware(log))
	r.Use(httprate.LimitByIP(60, 1*time.Minute))
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"ok":true}`)) })

	httpv1.RegisterSync(r, httpv1.SyncDeps{Runner: a.Runner, State: a.Orchestrator, Journal: a.Journal})
	httpapi.RegisterListings(r, httpapi.ListingsDeps{Store: a.Store})

	return r
}
