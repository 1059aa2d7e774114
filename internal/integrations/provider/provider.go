package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/integrations/anthropic"
	"schema-mapper/internal/integrations/gemini"
	"schema-mapper/internal/integrations/openai"
	"schema-mapper/internal/integrations/openrouter"
)

const (
	OpenAI     = "openai"
	OpenRouter = "openrouter"
	Gemini     = "gemini"
	Anthropic  = "anthropic"
	Mock       = "mock"
)

// KeySource resolves the API key for the selected provider.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

type Config struct {
	Name    string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Names lists the supported provider names.
func Names() []string {
	return []string{OpenAI, OpenRouter, Gemini, Anthropic, Mock}
}

// New builds the completion client for cfg.Name. The openai client resolves
// its key lazily on every call; the SDK-backed clients need it up front.
func New(ctx context.Context, cfg Config, keys KeySource) (assembly.Completer, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == Mock {
		slog.Warn("provider_mock_enabled")
		return NewMockClient(), nil
	}
	if keys == nil {
		return nil, fmt.Errorf("provider: %s requires an API key source", name)
	}

	switch name {
	case OpenAI, "":
		opts := []openai.Option{openai.WithDefaultModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		client, err := openai.NewClient(keys, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	case OpenRouter, Gemini, Anthropic:
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.Name)
	}

	apiKey, err := keys.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider: resolve %s key: %w", name, err)
	}
	var (
		client assembly.Completer
		cerr   error
	)
	switch name {
	case OpenRouter:
		client, cerr = openrouter.NewClient(openrouter.Config{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case Gemini:
		client, cerr = gemini.NewClient(ctx, gemini.Config{APIKey: apiKey, Model: cfg.Model})
	default:
		client, cerr = anthropic.NewClient(anthropic.Config{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	}
	if cerr != nil {
		return nil, cerr
	}
	return client, nil
}
