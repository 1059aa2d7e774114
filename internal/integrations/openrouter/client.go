package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"schema-mapper/internal/domain"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o"
	defaultTimeout = 120 * time.Second
	finishStop     = "stop"
)

// chatCompletions is the subset of the SDK completion service used here.
type chatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client completes conversations through OpenRouter's OpenAI-compatible API.
type Client struct {
	completions  chatCompletions
	defaultModel string
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	)
	return newWithCompletions(&client.Chat.Completions, cfg.Model), nil
}

func newWithCompletions(c chatCompletions, model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &Client{completions: c, defaultModel: model}
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return domain.Completion{}, err
	}
	resp, err := c.completions.New(ctx, params)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("openrouter: chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return domain.Completion{}, errors.New("openrouter: no choices in response")
	}
	choice := resp.Choices[0]
	stop := domain.StopTruncated
	if string(choice.FinishReason) == finishStop {
		stop = domain.StopComplete
	}
	return domain.Completion{Content: choice.Message.Content, StopReason: stop}, nil
}

func (c *Client) buildParams(req domain.CompletionRequest) (openai.ChatCompletionNewParams, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openrouter: messages are required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		param, err := toMessageParam(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, param)
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

func toMessageParam(msg domain.ChatMessage) (openai.ChatCompletionMessageParamUnion, error) {
	switch strings.ToLower(strings.TrimSpace(msg.Role)) {
	case domain.RoleSystem:
		return openai.SystemMessage(msg.Content), nil
	case domain.RoleUser:
		return openai.UserMessage(msg.Content), nil
	case domain.RoleAssistant:
		return openai.AssistantMessage(msg.Content), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openrouter: unsupported role: %s", msg.Role)
	}
}
