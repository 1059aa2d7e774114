package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"schema-mapper/handler"
	"schema-mapper/internal/app"
	"schema-mapper/internal/config"
	"schema-mapper/internal/logging"
	"schema-mapper/internal/server"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	// ---- Pipeline ----
	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	opts := []server.Option{server.WithLogger(logger)}
	if pipeline.Artifacts != nil {
		opts = append(opts, server.WithArtifactReader(pipeline.Artifacts))
	}
	routes, err := server.NewHandler(pipeline.Service, opts...)
	if err != nil {
		logger.Error("failed to create routes", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(server.New(routes))
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
