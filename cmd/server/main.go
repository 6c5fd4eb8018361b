// Package main implements the entry point for the tunevault server, a
// caching proxy in front of a music generation API that tracks
// asynchronous generation tasks and materializes their audio and cover
// assets on local disk.
package main

import (
	"context"
	"log"

	"github.com/corvida/tunevault/internal/config"
	"github.com/corvida/tunevault/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.Setup(cfg.Server)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"audio_dir", cfg.Storage.AudioDir,
		"poll_interval_seconds", cfg.Poll.IntervalSeconds,
		"poll_max_attempts", cfg.Poll.MaxAttempts)

	ctx := context.Background()
	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
