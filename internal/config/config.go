// Package config loads runtime settings: built-in defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnvVar names the environment variable holding the YAML path when
// none is passed explicitly.
const ConfigFileEnvVar = "MAPPER_CONFIG"

const (
	ArtifactsNone     = "none"
	ArtifactsFile     = "file"
	ArtifactsDynamoDB = "dynamodb"
)

var providers = []string{"openai", "openrouter", "gemini", "anthropic", "mock"}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	// RenderWorkers bounds the sheet rendering pool; 0 means GOMAXPROCS.
	RenderWorkers int `yaml:"render_workers"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// APIKey is used as-is when set; otherwise the key is read from the
	// parameter store under ParamPrefix.
	APIKey      string        `yaml:"api_key,omitempty"`
	ParamPrefix string        `yaml:"param_prefix,omitempty"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	MaxRounds   int           `yaml:"max_rounds"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type ArtifactsConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir,omitempty"`
	StateTable string `yaml:"state_table,omitempty"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables a rotating file sink instead of stderr.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.7,
			MaxRounds:   16,
			CallTimeout: 120 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			Backend: ArtifactsFile,
			Dir:     "artifacts",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration. An empty path falls back to $MAPPER_CONFIG;
// when both are empty no file is read.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		path = os.Getenv(ConfigFileEnvVar)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("MAPPER_PROVIDER", &cfg.LLM.Provider)
	str("MAPPER_MODEL", &cfg.LLM.Model)
	str("MAPPER_BASE_URL", &cfg.LLM.BaseURL)
	str("MAPPER_API_KEY", &cfg.LLM.APIKey)
	str("PARAM_PREFIX", &cfg.LLM.ParamPrefix)
	num("MAPPER_MAX_TOKENS", &cfg.LLM.MaxTokens)
	float("MAPPER_TEMPERATURE", &cfg.LLM.Temperature)
	num("MAPPER_MAX_ROUNDS", &cfg.LLM.MaxRounds)
	duration("MAPPER_CALL_TIMEOUT", &cfg.LLM.CallTimeout)

	str("MAPPER_ARTIFACTS", &cfg.Artifacts.Backend)
	str("MAPPER_ARTIFACT_DIR", &cfg.Artifacts.Dir)
	str("STATE_TABLE", &cfg.Artifacts.StateTable)

	str("MAPPER_ADDR", &cfg.Server.Addr)
	num("MAPPER_RENDER_WORKERS", &cfg.RenderWorkers)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_FILE", &cfg.Log.File)

	return errors.Join(errs...)
}

// Validate reports every offending key.
func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(providers, strings.ToLower(c.LLM.Provider)) {
		errs = append(errs, fmt.Errorf("config: llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(providers, ", ")))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("config: llm.max_tokens must be positive, got %d", c.LLM.MaxTokens))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("config: llm.temperature must be within [0, 2], got %g", c.LLM.Temperature))
	}
	if c.LLM.MaxRounds <= 0 {
		errs = append(errs, fmt.Errorf("config: llm.max_rounds must be positive, got %d", c.LLM.MaxRounds))
	}
	if c.LLM.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: llm.call_timeout must not be negative"))
	}
	if c.RenderWorkers < 0 {
		errs = append(errs, fmt.Errorf("config: render_workers must not be negative"))
	}

	switch c.Artifacts.Backend {
	case ArtifactsNone:
	case ArtifactsFile:
		if strings.TrimSpace(c.Artifacts.Dir) == "" {
			errs = append(errs, errors.New("config: artifacts.dir is required for the file backend"))
		}
	case ArtifactsDynamoDB:
		if strings.TrimSpace(c.Artifacts.StateTable) == "" {
			errs = append(errs, errors.New("config: artifacts.state_table is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: artifacts.backend %q is not one of none, file, dynamodb", c.Artifacts.Backend))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not one of json, text", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NeedsAPIKey reports whether the provider requires a key at all.
func (c LLMConfig) NeedsAPIKey() bool {
	return strings.ToLower(c.Provider) != "mock"
}
