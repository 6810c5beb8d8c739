package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/i474232898/querycache/internal/config"
	"github.com/i474232898/querycache/internal/daemon"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	logger = logger.With(zap.String("service", cfg.Service))
	logger.Info("Starting querycache daemon")

	d, err := daemon.FromConfig(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize daemon", zap.Error(err))
	}

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP forces a refresh cycle.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				d.Trigger()
			}
		}
	}()

	if err := d.Run(ctx); err != nil {
		logger.Fatal("Daemon failed", zap.Error(err))
	}
}
