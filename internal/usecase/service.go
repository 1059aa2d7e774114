package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"schema-mapper/internal/domain"
)

// ArtifactStore persists stage outputs under a run id.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a domain.Artifact) error
}

// Service runs the three pipeline stages, classifies their failures and
// records each stage output as an artifact.
type Service struct {
	shortlister *Shortlister
	mapper      *MappingGenerator
	sql         *SQLGenerator
	store       ArtifactStore
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Service)

// WithArtifactStore enables artifact recording. Without a store outputs are
// only returned to the caller.
func WithArtifactStore(store ArtifactStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func NewService(shortlister *Shortlister, mapper *MappingGenerator, sql *SQLGenerator, opts ...Option) (*Service, error) {
	if shortlister == nil {
		return nil, errors.New("usecase: shortlister must not be nil")
	}
	if mapper == nil {
		return nil, errors.New("usecase: mapping generator must not be nil")
	}
	if sql == nil {
		return nil, errors.New("usecase: sql generator must not be nil")
	}
	s := &Service{
		shortlister: shortlister,
		mapper:      mapper,
		sql:         sql,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type RecommendTablesInput struct {
	RunID  string
	Sheets []domain.Sheet
	Target domain.TargetDocument
}

type RecommendTablesOutput struct {
	RunID  string
	Tables []string
}

// RecommendTables shortlists the source tables relevant to the target.
func (s *Service) RecommendTables(ctx context.Context, in RecommendTablesInput) (RecommendTablesOutput, error) {
	if len(in.Sheets) == 0 {
		return RecommendTablesOutput{}, newError(ErrorInvalidInput, "empty_workbook", nil)
	}
	if strings.TrimSpace(in.Target.Table.Name) == "" {
		return RecommendTablesOutput{}, newError(ErrorInvalidInput, "missing_target_name", nil)
	}
	runID, err := resolveRunID(in.RunID)
	if err != nil {
		return RecommendTablesOutput{}, err
	}

	tables, err := s.shortlister.Shortlist(ctx, in.Sheets, in.Target)
	if err != nil {
		return RecommendTablesOutput{}, classify("shortlist", err)
	}
	s.record(ctx, runID, domain.StageShortlist, map[string][]string{"union": tables})
	return RecommendTablesOutput{RunID: runID, Tables: tables}, nil
}

type RecommendFieldsInput struct {
	RunID        string
	SourceTables []json.RawMessage
	Target       domain.TargetDocument
}

type RecommendFieldsOutput struct {
	RunID    string
	Mappings []domain.MappingRecord
}

// RecommendFields proposes field mappings from the source tables to the
// normalized target table.
func (s *Service) RecommendFields(ctx context.Context, in RecommendFieldsInput) (RecommendFieldsOutput, error) {
	if strings.TrimSpace(in.Target.Table.Name) == "" {
		return RecommendFieldsOutput{}, newError(ErrorInvalidInput, "missing_target_name", nil)
	}
	runID, err := resolveRunID(in.RunID)
	if err != nil {
		return RecommendFieldsOutput{}, err
	}

	mappings, err := s.mapper.Generate(ctx, in.SourceTables, in.Target.Table)
	if err != nil {
		return RecommendFieldsOutput{}, classify("mapping", err)
	}
	s.record(ctx, runID, domain.StageMapping, mappings)
	return RecommendFieldsOutput{RunID: runID, Mappings: mappings}, nil
}

type GenerateSQLInput struct {
	RunID    string
	Mappings []domain.ApprovedMapping
}

type GenerateSQLOutput struct {
	RunID string
	SQL   string
}

// GenerateSQL synthesizes SQL from approved mappings.
func (s *Service) GenerateSQL(ctx context.Context, in GenerateSQLInput) (GenerateSQLOutput, error) {
	if len(in.Mappings) == 0 {
		return GenerateSQLOutput{}, newError(ErrorInvalidInput, "empty_mappings", nil)
	}
	runID, err := resolveRunID(in.RunID)
	if err != nil {
		return GenerateSQLOutput{}, err
	}

	text, err := s.sql.Generate(ctx, in.Mappings)
	if err != nil {
		return GenerateSQLOutput{}, classify("sql", err)
	}
	s.recordRaw(ctx, runID, domain.StageSQL, []byte(text))
	return GenerateSQLOutput{RunID: runID, SQL: text}, nil
}

// record stores v as an indented JSON artifact. Failures are logged only.
func (s *Service) record(ctx context.Context, runID string, stage domain.Stage, v any) {
	if s.store == nil {
		return
	}
	body, err := prettyJSON(v)
	if err != nil {
		s.logger.Error("artifact_encode_failed", "run_id", runID, "stage", stage, "err", err)
		return
	}
	s.recordRaw(ctx, runID, stage, []byte(body))
}

func (s *Service) recordRaw(ctx context.Context, runID string, stage domain.Stage, body []byte) {
	if s.store == nil {
		return
	}
	err := s.store.SaveArtifact(ctx, domain.Artifact{
		RunID:       runID,
		Stage:       stage,
		ContentType: stage.ContentType(),
		Body:        body,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("artifact_write_failed", "run_id", runID, "stage", stage, "err", err)
	}
}

// resolveRunID keeps a caller-supplied run id so later stages land next to
// earlier ones; it must be a UUID.
func resolveRunID(runID string) (string, error) {
	id := strings.TrimSpace(runID)
	if id == "" {
		return newUUID(), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", newError(ErrorInvalidInput, "invalid_run_id", err)
	}
	return parsed.String(), nil
}

var newUUID = func() string {
	return uuid.NewString()
}
