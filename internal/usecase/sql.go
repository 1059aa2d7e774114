package usecase

import (
	"context"
	"errors"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/domain"
)

// SQLGenerator writes SQL from approved mappings. Its continuation loop joins
// raw completions and applies no JSON repair.
type SQLGenerator struct {
	driver *assembly.Driver
}

func NewSQLGenerator(driver *assembly.Driver) (*SQLGenerator, error) {
	if driver == nil {
		return nil, errors.New("usecase: driver must not be nil")
	}
	return &SQLGenerator{driver: driver}, nil
}

func (g *SQLGenerator) Generate(ctx context.Context, mappings []domain.ApprovedMapping) (string, error) {
	text, _, err := g.driver.CollectText(ctx, string(domain.StageSQL), buildSQLConversation(mappings), sqlContinuePrompt)
	if err != nil {
		return "", err
	}
	return stripSQLFence(text), nil
}
