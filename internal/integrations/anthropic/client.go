package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"schema-mapper/internal/domain"
)

const (
	defaultModel   = "claude-sonnet-4-5"
	defaultTimeout = 120 * time.Second
)

type messagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client completes conversations through the Anthropic Messages API.
type Client struct {
	messages     messagesClient
	defaultModel string
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(opts...)
	return newWithMessages(&client.Messages, cfg.Model), nil
}

func newWithMessages(messages messagesClient, model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &Client{messages: messages, defaultModel: model}
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return domain.Completion{}, err
	}
	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("anthropic: create message: %w", err)
	}
	if msg == nil {
		return domain.Completion{}, errors.New("anthropic: empty response")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return domain.Completion{Content: sb.String(), StopReason: stopReason(msg.StopReason)}, nil
}

func (c *Client) buildParams(req domain.CompletionRequest) (anthropic.MessageNewParams, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var (
		system   []anthropic.TextBlockParam
		messages []anthropic.MessageParam
	)
	for _, msg := range req.Messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case domain.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case domain.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, errors.New("anthropic: at least one user or assistant message is required")
	}

	return anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}, nil
}

func stopReason(reason anthropic.StopReason) domain.StopReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return domain.StopComplete
	default:
		return domain.StopTruncated
	}
}
