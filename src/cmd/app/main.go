package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"aphorism/src/internal/config"
	"aphorism/src/internal/domain"
	"aphorism/src/internal/service"
)

var Version = "1.0.0"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(Version)
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("Error parsing log level: %v", err)
	}
	logger.SetLevel(level)

	// Initialize Context
	ctx := &domain.Context{
		Config: cfg,
		Logger: logger,
	}

	// Create and Run Orchestrator
	orchestrator := service.CreateOrchestrator(ctx)
	if err := orchestrator.Run(context.Background()); err != nil {
		logger.Fatalf("Error running orchestrator: %v", err)
	}
}
