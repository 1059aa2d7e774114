package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"schema-mapper/internal/domain"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
	defaultMaxRounds   = 16
)

// Completer submits one conversation to the LLM service.
type Completer interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
}

// Observer receives one callback per completed service round.
type Observer interface {
	ObserveRound(stage string, round int, completion domain.Completion, elapsed time.Duration)
}

// Config tunes a Driver. Non-positive MaxTokens and MaxRounds fall back to
// defaults and a negative Temperature falls back to 0.7. A zero CallTimeout
// means no per-call deadline.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRounds   int
	CallTimeout time.Duration
}

// Driver runs the continuation protocol against a Completer. A Driver holds
// no per-run state and may be shared between goroutines; each run owns its
// conversation and accumulated text exclusively.
type Driver struct {
	client   Completer
	cfg      Config
	observer Observer
	logger   *slog.Logger
}

type Option func(*Driver)

func WithObserver(o Observer) Option {
	return func(d *Driver) {
		d.observer = o
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// NewDriver creates a Driver.
func NewDriver(client Completer, cfg Config, opts ...Option) (*Driver, error) {
	if client == nil {
		return nil, errors.New("assembly: completer must not be nil")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	d := &Driver{client: client, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Assembly is the result of a successful JSON continuation run.
type Assembly struct {
	Elements []json.RawMessage
	Rounds   int
	// EmptyRounds counts rounds whose fragment made no net progress.
	EmptyRounds int
}

// AssembleArray runs the continuation loop, sanitizing every completion and
// splicing the fragments into a single JSON array. It returns a
// *ServiceError when a call fails and an *AssemblyError when the loop hits
// the round cap or the final text does not parse.
func (d *Driver) AssembleArray(ctx context.Context, stage string, conv Conversation, continuePrompt string) (Assembly, error) {
	var (
		buf   strings.Builder
		empty int
	)
	rounds, err := d.run(ctx, stage, conv, continuePrompt, func(round int, raw string) {
		frag := Sanitize(raw)
		if frag.Empty() {
			empty++
		}
		d.logger.Debug("assembly_fragment",
			"stage", stage,
			"round", round,
			"objects", frag.Objects,
			"trimmed", frag.Trimmed,
			"orphaned", frag.Orphaned,
			"bytes", len(frag.Text),
		)
		buf.WriteString(frag.Text)
	})
	if err != nil {
		return Assembly{}, err
	}

	payload := "[" + strings.TrimSuffix(buf.String(), ",") + "]"
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &elements); err != nil {
		return Assembly{}, &AssemblyError{Kind: KindMalformed, Rounds: rounds, Err: err}
	}
	return Assembly{Elements: elements, Rounds: rounds, EmptyRounds: empty}, nil
}

// CollectText runs the continuation loop without any JSON repair and joins
// the trimmed completions with newlines.
func (d *Driver) CollectText(ctx context.Context, stage string, conv Conversation, continuePrompt string) (string, int, error) {
	var parts []string
	rounds, err := d.run(ctx, stage, conv, continuePrompt, func(_ int, raw string) {
		parts = append(parts, strings.TrimSpace(raw))
	})
	if err != nil {
		return "", rounds, err
	}
	return strings.Join(parts, "\n"), rounds, nil
}

// CompleteOnce performs a single call with no continuation.
func (d *Driver) CompleteOnce(ctx context.Context, stage string, conv Conversation) (domain.Completion, error) {
	completion, err := d.call(ctx, stage, 1, conv)
	if err != nil {
		return domain.Completion{}, &ServiceError{Round: 1, Err: err}
	}
	return completion, nil
}

func (d *Driver) run(ctx context.Context, stage string, conv Conversation, continuePrompt string, sink func(round int, raw string)) (int, error) {
	for round := 1; ; round++ {
		if round > d.cfg.MaxRounds {
			return d.cfg.MaxRounds, &AssemblyError{Kind: KindIncomplete, Rounds: d.cfg.MaxRounds}
		}
		completion, err := d.call(ctx, stage, round, conv)
		if err != nil {
			return round, &ServiceError{Round: round, Err: err}
		}
		sink(round, completion.Content)

		next, done := Advance(conv, completion, continuePrompt)
		if done {
			return round, nil
		}
		conv = next
	}
}

func (d *Driver) call(ctx context.Context, stage string, round int, conv Conversation) (domain.Completion, error) {
	if d.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := d.client.Complete(ctx, domain.CompletionRequest{
		Model:       d.cfg.Model,
		Messages:    conv.Messages(),
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	})
	elapsed := time.Since(start)
	if err != nil {
		d.logger.Error("completion_failed", "stage", stage, "round", round, "err", err)
		return domain.Completion{}, err
	}
	d.logger.Debug("completion_received",
		"stage", stage,
		"round", round,
		"stop_reason", completion.StopReason,
		"bytes", len(completion.Content),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	if d.observer != nil {
		d.observer.ObserveRound(stage, round, completion, elapsed)
	}
	return completion, nil
}

// RequireObjects returns a *ShapeError for the first element that is not a
// JSON object.
func RequireObjects(elements []json.RawMessage) error {
	for i, el := range elements {
		trimmed := strings.TrimSpace(string(el))
		if strings.HasPrefix(trimmed, "{") {
			continue
		}
		return &ShapeError{Index: i, Found: jsonKind(trimmed)}
	}
	return nil
}

func jsonKind(v string) string {
	switch {
	case v == "":
		return "empty"
	case v[0] == '[':
		return "an array"
	case v[0] == '"':
		return "a string"
	case v == "null":
		return "null"
	case v == "true" || v == "false":
		return "a boolean"
	default:
		return "a number"
	}
}
