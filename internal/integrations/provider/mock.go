package provider

import (
	"context"
	"strings"

	"schema-mapper/internal/domain"
)

// MockClient answers every request with a fixed completion so the pipeline
// can run without network access.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return domain.Completion{}, err
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	return domain.Completion{
		Content:    "mock completion for: " + firstLine(last),
		StopReason: domain.StopComplete,
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
