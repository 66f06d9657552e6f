// Package app assembles the synchronizer from resolved settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/listing-sync/apimo"
	"github.com/yourorg/listing-sync/exchangerate"
	"github.com/yourorg/listing-sync/internal/config"
	"github.com/yourorg/listing-sync/internal/currency"
	"github.com/yourorg/listing-sync/internal/events"
	"github.com/yourorg/listing-sync/internal/listing"
	"github.com/yourorg/listing-sync/internal/media"
	"github.com/yourorg/listing-sync/internal/reconcile"
	"github.com/yourorg/listing-sync/internal/redisx"
	"github.com/yourorg/listing-sync/internal/remotecache"
	"github.com/yourorg/listing-sync/internal/store"
	"github.com/yourorg/listing-sync/internal/syncer"
)

type App struct {
	Settings     config.Settings
	Log          *slog.Logger
	Store        *store.Store
	Redis        *redisx.Client
	Remote       *remotecache.RemoteDataCache
	Journal      *events.Journal
	Orchestrator *syncer.Orchestrator
	Runner       *syncer.Runner
}

// New connects to Postgres and, when configured, Redis. Without a reachable
// Redis the caches live in process memory and no cross-process lock is held.
func New(ctx context.Context, cfg config.Settings, log *slog.Logger) (*App, error) {
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("PG_DSN is required")
	}
	a := &App{Settings: cfg, Log: log}

	st, err := store.Open(cfg.Postgres.DSN, media.NewFetcher(cfg.Images.DownloadRPS))
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	a.Store = st

	var cache remotecache.Cache = remotecache.NewMemoryCache()
	var lock syncer.Locker
	if cfg.Redis.Addr != "" {
		rc := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rc.Ping(pingCtx); err != nil {
			log.Warn("Redis unavailable, using in-process cache", "addr", cfg.Redis.Addr, "err", err)
			_ = rc.Close()
		} else {
			a.Redis = rc
			cache = rc
			lock = rc
		}
	}

	apimoClient := apimo.NewClient(cfg.Apimo.Provider, cfg.Apimo.Token, cfg.Apimo.Agency, apimo.WithBaseURL(cfg.Apimo.BaseURL))
	a.Remote = remotecache.New(cache, apimoClient, exchangerate.NewClient(cfg.Currency.BaseURL), remotecache.Config{
		PageLimit:  cfg.Apimo.PageLimit,
		ListingTTL: cfg.Cache.ListingTTL,
		RatesTTL:   cfg.Cache.RatesTTL,
	}, log.With("component", "remotecache"))

	pass := cfg.PassSettings()
	conv := currency.NewConverter(a.Remote, log.With("component", "currency"))
	mapper := listing.NewMapper(conv, listing.MapperConfig{BaseCurrency: pass.BaseCurrency, CurrencyAPIKey: pass.CurrencyAPIKey})
	rec := reconcile.New(st, reconcile.Config{SiteLanguage: pass.SiteLanguage, FreshnessWindow: pass.FreshnessWindow}, log.With("component", "reconcile"))

	a.Journal = events.NewJournal(512)
	a.Orchestrator = syncer.New(syncer.Deps{
		Source:     a.Remote,
		Mapper:     mapper,
		Reconciler: rec,
		Store:      st,
		Events:     a.Journal,
	}, pass.DataLimit, log.With("component", "syncer"))
	a.Runner = syncer.NewRunner(a.Orchestrator, lock, syncer.RunnerConfig{
		Interval:    pass.Interval,
		PassTimeout: pass.PassTimeout,
	}, log.With("component", "runner"))
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
