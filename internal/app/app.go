// Package app wires configuration into a ready-to-serve pipeline. The
// binaries under cmd/ differ only in how they expose it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/config"
	"schema-mapper/internal/domain"
	"schema-mapper/internal/integrations/paramstore"
	"schema-mapper/internal/integrations/provider"
	"schema-mapper/internal/observability"
	"schema-mapper/internal/repository"
	"schema-mapper/internal/usecase"
)

const (
	tokenParam = "llm-token"
	modelParam = "config/model"
)

// ArtifactStore is the union of what the pipeline writes and the HTTP layer
// reads.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a domain.Artifact) error
	GetArtifact(ctx context.Context, runID string, stage domain.Stage) (domain.Artifact, error)
	ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error)
}

// App holds the wired pipeline.
type App struct {
	Service *usecase.Service
	// Artifacts is nil when the artifacts backend is "none".
	Artifacts ArtifactStore
	Config    config.Config
}

var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// Build wires cfg into an App. AWS configuration is only loaded when the
// parameter store or the DynamoDB backend is actually needed.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &wiring{cfg: cfg, logger: logger}

	keys, err := w.keySource(ctx)
	if err != nil {
		return nil, err
	}
	model, err := w.model(ctx)
	if err != nil {
		return nil, err
	}

	client, err := provider.New(ctx, provider.Config{
		Name:    cfg.LLM.Provider,
		Model:   model,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.CallTimeout,
	}, keys)
	if err != nil {
		return nil, fmt.Errorf("app: create completion client: %w", err)
	}

	driver, err := assembly.NewDriver(client, assembly.Config{
		Model:       model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		MaxRounds:   cfg.LLM.MaxRounds,
		CallTimeout: cfg.LLM.CallTimeout,
	}, assembly.WithObserver(observability.RoundObserver{}), assembly.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("app: create driver: %w", err)
	}

	shortlister, err := usecase.NewShortlister(driver, cfg.RenderWorkers)
	if err != nil {
		return nil, err
	}
	mapper, err := usecase.NewMappingGenerator(driver, logger)
	if err != nil {
		return nil, err
	}
	sqlGen, err := usecase.NewSQLGenerator(driver)
	if err != nil {
		return nil, err
	}

	store, err := w.artifactStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []usecase.Option{usecase.WithLogger(logger)}
	if store != nil {
		opts = append(opts, usecase.WithArtifactStore(store))
	}
	svc, err := usecase.NewService(shortlister, mapper, sqlGen, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create service: %w", err)
	}

	logger.Info("app_ready",
		"provider", cfg.LLM.Provider,
		"model", model,
		"artifacts", cfg.Artifacts.Backend,
		"max_rounds", driver.Config().MaxRounds,
	)
	return &App{Service: svc, Artifacts: store, Config: cfg}, nil
}

type wiring struct {
	cfg    config.Config
	logger *slog.Logger

	aws    *aws.Config
	params *paramstore.Client
}

func (w *wiring) awsConfig(ctx context.Context) (aws.Config, error) {
	if w.aws != nil {
		return *w.aws, nil
	}
	c, err := loadAWSConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	w.aws = &c
	return c, nil
}

func (w *wiring) paramStore(ctx context.Context) (*paramstore.Client, error) {
	if w.params != nil {
		return w.params, nil
	}
	if w.cfg.LLM.ParamPrefix == "" {
		return nil, errors.New("app: llm.param_prefix is required when no API key is configured")
	}
	c, err := w.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	params, err := paramstore.New(awsssm.NewFromConfig(c), w.cfg.LLM.ParamPrefix)
	if err != nil {
		return nil, err
	}
	w.params = params
	return params, nil
}

func (w *wiring) keySource(ctx context.Context) (provider.KeySource, error) {
	if !w.cfg.LLM.NeedsAPIKey() {
		return nil, nil
	}
	if w.cfg.LLM.APIKey != "" {
		return paramstore.StaticKey(w.cfg.LLM.APIKey), nil
	}
	params, err := w.paramStore(ctx)
	if err != nil {
		return nil, err
	}
	return paramstore.NewTokenSource(params, tokenParam)
}

// model applies the parameter store override when the store is in use.
func (w *wiring) model(ctx context.Context) (string, error) {
	if w.params == nil {
		return w.cfg.LLM.Model, nil
	}
	model, err := w.params.GetOptional(ctx, modelParam, w.cfg.LLM.Model)
	if err != nil {
		return "", fmt.Errorf("app: read model override: %w", err)
	}
	return model, nil
}

func (w *wiring) artifactStore(ctx context.Context) (ArtifactStore, error) {
	switch w.cfg.Artifacts.Backend {
	case config.ArtifactsFile:
		return repository.NewFileStore(w.cfg.Artifacts.Dir)
	case config.ArtifactsDynamoDB:
		c, err := w.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return repository.New(awsdynamodb.NewFromConfig(c), w.cfg.Artifacts.StateTable)
	default:
		return nil, nil
	}
}
