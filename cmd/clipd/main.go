package main

import (
	"clipd/internal/config"
	"clipd/internal/hub"
	"clipd/internal/server"
	"clipd/internal/storage"
	"clipd/internal/storage/sqlite"
	"clipd/internal/thumbnail"
	"clipd/internal/watch"
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	cfg := config.New()

	var logger *zap.Logger
	var err error
	if cfg.Production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := os.MkdirAll(cfg.BaseDir(), 0755); err != nil {
		sugar.Fatalw("failed to create base directory", "error", err)
	}

	// The store is the single source of truth; failure to open it is the
	// only fatal startup condition besides a duplicate instance.
	store, err := sqlite.New(storage.Config{DBPath: cfg.DBPath}, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize storage", "error", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcastHub := hub.New(sugar)
	go broadcastHub.Run(ctx)

	thumbnails := thumbnail.New(store, cfg.ThumbnailWorkers, cfg.QueueSize, cfg.ThumbnailMaxEdge, sugar)
	thumbnails.Start(ctx)

	watcher := watch.New(store, broadcastHub, cfg.PollInterval, sugar)
	go watcher.Run(ctx)

	srv := server.New(store, broadcastHub, thumbnails, server.Config{
		IngestSocket: cfg.IngestSocket,
		ClientSocket: cfg.ClientSocket,
		HTTPAddr:     cfg.HTTPAddr,
		MaxItems:     cfg.MaxItems,
	}, sugar)
	if err := srv.Start(ctx); err != nil {
		sugar.Fatalw("failed to start server", "error", err)
	}

	sugar.Infow("clipd started", "db", cfg.DBPath, "max_items", cfg.MaxItems)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	sugar.Infow("shutting down")
	// Stop the server first: connection handlers deregister from the hub
	// on the way out, so the hub loop must still be running.
	if err := srv.Stop(); err != nil {
		sugar.Errorw("error stopping server", "error", err)
	}
	cancel()
	thumbnails.Wait()
}
