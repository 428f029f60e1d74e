// Package main runs the bookstore HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mhollis/bookstore/internal/app"
	"github.com/mhollis/bookstore/internal/config"
	"github.com/mhollis/bookstore/pkg/logger"
)

func main() {
	log := logger.NewDefault("server")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to start application")
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("server error")
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}

	log.Info("shutting down")
	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
}
