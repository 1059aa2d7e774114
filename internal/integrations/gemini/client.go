package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"schema-mapper/internal/domain"
)

const defaultModel = "gemini-2.5-flash"

type modelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var newGenaiClient = func(ctx context.Context, cfg *genai.ClientConfig) (*genai.Client, error) {
	return genai.NewClient(ctx, cfg)
}

type Config struct {
	APIKey string
	Model  string
}

// Client completes conversations through the Gemini API.
type Client struct {
	models       modelsClient
	defaultModel string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := newGenaiClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newWithModels(client.Models, cfg.Model), nil
}

func newWithModels(models modelsClient, model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &Client{models: models, defaultModel: model}
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	contents, config, err := buildRequest(req)
	if err != nil {
		return domain.Completion{}, err
	}

	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return domain.Completion{}, errors.New("gemini: no candidates in response")
	}
	candidate := resp.Candidates[0]

	stop := domain.StopTruncated
	if candidate.FinishReason == genai.FinishReasonStop {
		stop = domain.StopComplete
	}
	return domain.Completion{Content: visibleText(candidate), StopReason: stop}, nil
}

// buildRequest moves system turns into the system instruction and maps the
// assistant role onto Gemini's model role.
func buildRequest(req domain.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, msg := range req.Messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case domain.RoleSystem:
			system = append(system, msg.Content)
		case domain.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("gemini: at least one user or assistant message is required")
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, config, nil
}

func visibleText(candidate *genai.Candidate) string {
	if candidate.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
