package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"schema-mapper/internal/domain"
	"schema-mapper/internal/integrations/openai"
	"schema-mapper/internal/workbook"
)

const fixedRunID = "7f3c1e52-3b0e-4d55-9a8e-1c2d3e4f5a6b"

func newTestService(t *testing.T, llm *scriptedLLM, store ArtifactStore) *Service {
	t.Helper()
	d := newTestDriver(t, llm)
	shortlister, err := NewShortlister(d, 2)
	require.NoError(t, err)
	mapper, err := NewMappingGenerator(d, nil)
	require.NoError(t, err)
	sqlGen, err := NewSQLGenerator(d)
	require.NoError(t, err)

	opts := []Option{}
	if store != nil {
		opts = append(opts, WithArtifactStore(store))
	}
	s, err := NewService(shortlister, mapper, sqlGen, opts...)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func withFixedUUID(t *testing.T) {
	t.Helper()
	prev := newUUID
	newUUID = func() string { return fixedRunID }
	t.Cleanup(func() { newUUID = prev })
}

var target = domain.TargetDocument{
	Table: domain.TableSchema{Name: "patient", Fields: []json.RawMessage{}},
	Raw:   json.RawMessage(`{"name":"patient"}`),
}

func TestRecommendTables_RecordsUnionArtifact(t *testing.T) {
	withFixedUUID(t)
	store := &memoryStore{}
	s := newTestService(t, &scriptedLLM{replies: []reply{done(`["患者信息表","检验表"]`)}}, store)

	out, err := s.RecommendTables(context.Background(), RecommendTablesInput{
		Sheets: []domain.Sheet{{Name: "患者信息表"}},
		Target: target,
	})
	require.NoError(t, err)
	require.Equal(t, fixedRunID, out.RunID)
	require.Equal(t, []string{"患者信息表", "检验表"}, out.Tables)

	require.Len(t, store.saved, 1)
	a := store.saved[0]
	require.Equal(t, domain.StageShortlist, a.Stage)
	require.Equal(t, fixedRunID, a.RunID)
	require.JSONEq(t, `{"union": ["患者信息表", "检验表"]}`, string(a.Body))
	require.Contains(t, string(a.Body), "患者信息表", "non-ASCII names stay unescaped")
}

func TestRecommendFields_KeepsCallerRunID(t *testing.T) {
	store := &memoryStore{}
	s := newTestService(t, &scriptedLLM{replies: []reply{done(`{"sourceField":"pid","sourceTable":"patients","targetField":"id","targetTable":"patient"}`)}}, store)

	out, err := s.RecommendFields(context.Background(), RecommendFieldsInput{
		RunID:        " " + fixedRunID + " ",
		SourceTables: []json.RawMessage{json.RawMessage(`{"name":"patients"}`)},
		Target:       target,
	})
	require.NoError(t, err)
	require.Equal(t, fixedRunID, out.RunID)
	require.Len(t, out.Mappings, 1)

	require.Len(t, store.saved, 1)
	require.Equal(t, domain.StageMapping, store.saved[0].Stage)
	require.Equal(t, fixedRunID, store.saved[0].RunID)
	require.JSONEq(t, `[{"sourceField":"pid","sourceTable":"patients","targetField":"id","targetTable":"patient"}]`, string(store.saved[0].Body))
}

func TestRecommendFields_DegradedResultIsStillRecorded(t *testing.T) {
	store := &memoryStore{}
	s := newTestService(t, &scriptedLLM{replies: []reply{done(`{"broken": }`)}}, store)

	out, err := s.RecommendFields(context.Background(), RecommendFieldsInput{Target: target})
	require.NoError(t, err)
	require.Empty(t, out.Mappings)
	require.Equal(t, "[]", string(store.saved[0].Body))
}

func TestGenerateSQL_ArtifactFailureDoesNotFailRequest(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	s := newTestService(t, &scriptedLLM{replies: []reply{done("```sql\nSELECT 1;\n```")}}, store)

	out, err := s.GenerateSQL(context.Background(), GenerateSQLInput{Mappings: approved})
	require.NoError(t, err)
	require.Equal(t, "SELECT 1;", out.SQL)
}

func TestGenerateSQL_WithoutStore(t *testing.T) {
	s := newTestService(t, &scriptedLLM{replies: []reply{done("SELECT 1;")}}, nil)
	out, err := s.GenerateSQL(context.Background(), GenerateSQLInput{Mappings: approved})
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)
}

func TestService_InputValidation(t *testing.T) {
	llm := &scriptedLLM{}
	s := newTestService(t, llm, nil)
	ctx := context.Background()

	_, err := s.RecommendTables(ctx, RecommendTablesInput{Target: target})
	requireCode(t, err, ErrorInvalidInput, "empty_workbook")

	_, err = s.RecommendTables(ctx, RecommendTablesInput{Sheets: []domain.Sheet{{Name: "A"}}})
	requireCode(t, err, ErrorInvalidInput, "missing_target_name")

	_, err = s.RecommendFields(ctx, RecommendFieldsInput{RunID: "../../etc", Target: target})
	requireCode(t, err, ErrorInvalidInput, "invalid_run_id")

	_, err = s.GenerateSQL(ctx, GenerateSQLInput{})
	requireCode(t, err, ErrorInvalidInput, "empty_mappings")

	require.Zero(t, llm.calls())
}

func TestService_ClassifiesUpstreamFailures(t *testing.T) {
	ctx := context.Background()

	rateLimited := &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}
	s := newTestService(t, &scriptedLLM{replies: []reply{{err: rateLimited}}}, nil)
	_, err := s.GenerateSQL(ctx, GenerateSQLInput{Mappings: approved})
	requireCode(t, err, ErrorRateLimited, "sql_llm_rate_limited")

	s = newTestService(t, &scriptedLLM{replies: []reply{{err: &openai.HTTPStatusError{StatusCode: 500}}}}, nil)
	_, err = s.RecommendFields(ctx, RecommendFieldsInput{Target: target})
	requireCode(t, err, ErrorUpstream, "mapping_llm_error")

	s = newTestService(t, &scriptedLLM{replies: []reply{truncated("a"), truncated("b"), truncated("c"), truncated("d")}}, nil)
	_, err = s.GenerateSQL(ctx, GenerateSQLInput{Mappings: approved})
	requireCode(t, err, ErrorUpstream, "sql_incomplete_output")
}

func TestClassify(t *testing.T) {
	invalid := fmt.Errorf("workbook: %w: bad", workbook.ErrInvalidInput)
	requireCode(t, classify("shortlist", invalid), ErrorInvalidInput, "shortlist_invalid_input")
	requireCode(t, classify("shortlist", errors.New("boom")), ErrorInternal, "shortlist_internal_error")

	coded := newError(ErrorRateLimited, "x", nil)
	require.Same(t, coded, classify("sql", coded))
}

func requireCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, code, ue.Code)
	require.Equal(t, reason, ue.Reason)
}
