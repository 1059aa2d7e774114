package usecase

import (
	"context"
	"errors"
	"regexp"

	"schema-mapper/internal/assembly"
	"schema-mapper/internal/domain"
)

// tableNamePattern matches maximal runs of CJK unified ideographs, ASCII
// letters, digits and underscore.
var tableNamePattern = regexp.MustCompile(`[\x{4e00}-\x{9fa5}a-zA-Z0-9_]+`)

// ExtractTableNames scans free text for candidate table names. Every run is
// returned in order of appearance, duplicates and stray words included; the
// model's output is not trusted to be JSON.
func ExtractTableNames(text string) []string {
	names := tableNamePattern.FindAllString(text, -1)
	if names == nil {
		return []string{}
	}
	return names
}

// Shortlister asks the model, in a single call, which source tables relate to
// the target table.
type Shortlister struct {
	driver  *assembly.Driver
	workers int
}

func NewShortlister(driver *assembly.Driver, renderWorkers int) (*Shortlister, error) {
	if driver == nil {
		return nil, errors.New("usecase: driver must not be nil")
	}
	return &Shortlister{driver: driver, workers: renderWorkers}, nil
}

func (s *Shortlister) Shortlist(ctx context.Context, sheets []domain.Sheet, target domain.TargetDocument) ([]string, error) {
	tableData, err := renderSheets(ctx, sheets, s.workers)
	if err != nil {
		return nil, err
	}
	conv, err := buildShortlistConversation(tableData, target.Raw)
	if err != nil {
		return nil, err
	}
	completion, err := s.driver.CompleteOnce(ctx, string(domain.StageShortlist), conv)
	if err != nil {
		return nil, err
	}
	return ExtractTableNames(completion.Content), nil
}
