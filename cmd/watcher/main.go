package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher"
	"market-watch/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if it exists
	godotenv.Load()

	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	config, err := core.LoadConfig()
	if err != nil {
		core.NewLogger().Error("Failed to load configuration", "error", err)
		return err
	}

	logger := core.NewLoggerWithConfig(config.Log, os.Stdout)

	db, err := core.OpenSQLite(config.Database.Path, logger)
	if err != nil {
		logger.Error("Failed to open database", "path", config.Database.Path, "error", err)
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := core.NewRegistry(logger)
	if config.IsFeatureEnabled("watcher") {
		feature, err := watcher.NewFeature(logger, db, watcher.NewConfig(config))
		if err != nil {
			logger.Error("Failed to create watcher feature", "error", err)
			return err
		}
		if err := registry.Register(feature); err != nil {
			logger.Error("Failed to register watcher feature", "error", err)
			return err
		}
	}

	if err := registry.InitAll(ctx); err != nil {
		logger.Error("Failed to initialize features", "error", err)
		shutdown(registry, logger)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if config.Server.Enabled {
		srv := server.New(config, logger, registry)
		g.Go(func() error {
			// Polling keeps running without the status API.
			if err := srv.Run(gctx); err != nil {
				logger.Error("Status API stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")
		return nil
	})

	g.Wait()
	shutdown(registry, logger)
	db.LogStats()
	return nil
}

func shutdown(registry *core.Registry, logger *core.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := registry.ShutdownAll(ctx); err != nil {
		logger.Error("Failed to shutdown features", "error", err)
	}
}
