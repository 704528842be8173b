package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"faceattend/internal/bootstrap"
	"faceattend/internal/config"
	"faceattend/internal/logger"
)

// Worker consumes photo archive jobs and uploads enrollment photos to Cloudinary.
func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if cfg.QueueBackend != "redis" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the in-memory queue is drained by the api process")
	}
	if !cfg.CloudinaryEnabled() {
		log.Warn("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set), jobs will be skipped")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	stack, err := bootstrap.Open(startCtx, cfg, log, bootstrap.Options{})
	cancel()
	if err != nil {
		log.Fatal("open stack", zap.Error(err))
	}
	defer stack.Close()

	if err := stack.Archiver().Run(ctx, stack.Queue); err != nil {
		log.Error("worker failed", zap.Error(err))
	}
	log.Info("worker stopped")
}
