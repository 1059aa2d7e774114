package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/domain"
)

type reply struct {
	content string
	stop    domain.StopReason
	err     error
}

func done(content string) reply      { return reply{content: content, stop: domain.StopComplete} }
func truncated(content string) reply { return reply{content: content, stop: domain.StopTruncated} }

type scriptedLLM struct {
	mu       sync.Mutex
	replies  []reply
	requests []domain.CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.requests) > len(s.replies) {
		return domain.Completion{}, errors.New("scriptedLLM: unexpected call")
	}
	r := s.replies[len(s.requests)-1]
	if r.err != nil {
		return domain.Completion{}, r.err
	}
	return domain.Completion{Content: r.content, StopReason: r.stop}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestDriver(t *testing.T, llm assembly.Completer) *assembly.Driver {
	t.Helper()
	d, err := assembly.NewDriver(llm, assembly.Config{Model: "test-model", MaxTokens: 256, Temperature: 0.7, MaxRounds: 4})
	require.NoError(t, err)
	return d
}

type memoryStore struct {
	mu    sync.Mutex
	saved []domain.Artifact
	err   error
}

func (m *memoryStore) SaveArtifact(_ context.Context, a domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, a)
	return nil
}
