package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"categorytree/rewriter/internal/config"
	"categorytree/rewriter/internal/container"

	log "github.com/sirupsen/logrus"
)

func main() {
	log.Info("Starting category tree rewriter...")

	// Load configuration using viper
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Infof("Configuration loaded successfully (mode %s)", cfg.App.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize container with all dependencies
	app, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer app.Close()

	// Run the application
	if err := app.Run(ctx); err != nil {
		log.Errorf("Application exited with error: %v", err)
		app.Close()
		os.Exit(1)
	}

	log.Info("Application finished successfully")
}
