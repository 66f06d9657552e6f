// Command synchronizer runs listing sync passes without the admin server:
// one pass, the periodic schedule, or the install/uninstall steps.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yourorg/listing-sync/internal/app"
	"github.com/yourorg/listing-sync/internal/config"
	"github.com/yourorg/listing-sync/internal/env"
	"github.com/yourorg/listing-sync/internal/logger"
)

func main() {
	_ = godotenv.Load()

	var (
		once      bool
		install   bool
		uninstall bool
	)
	flag.BoolVar(&once, "once", env.GetBool("SYNC_RUN_ONCE", false), "Run a single pass and exit. Env: SYNC_RUN_ONCE")
	flag.BoolVar(&install, "install", false, "Create the store schema and exit")
	flag.BoolVar(&uninstall, "uninstall", false, "Clear the sync cursor and the cached listing batch, then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Env: os.Getenv("APP_ENV")})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	switch {
	case install:
		if err := a.Orchestrator.Install(rootCtx); err != nil {
			log.Error("install failed", "err", err)
			os.Exit(1)
		}
		log.Info("schema installed")
		return
	case uninstall:
		if err := a.Orchestrator.Reset(rootCtx); err != nil {
			log.Error("uninstall failed", "err", err)
			os.Exit(1)
		}
		log.Info("sync state cleared")
		return
	}

	if err := a.Orchestrator.Install(rootCtx); err != nil {
		log.Error("schema install failed", "err", err)
		os.Exit(1)
	}

	if once {
		rep, err := a.Runner.RunOnce(rootCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sync pass failed", "err", err)
			os.Exit(1)
		}
		log.Info("sync pass done", "created", rep.Created, "updated", rep.Updated, "deleted", rep.Deleted, "next_offset", rep.NextOffset)
		return
	}

	if err := a.Runner.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sync scheduler stopped with error", "err", err)
		os.Exit(1)
	}
}
