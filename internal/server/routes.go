package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"schema-mapper/internal/domain"
	"schema-mapper/internal/observability"
	"schema-mapper/internal/usecase"
	"schema-mapper/internal/workbook"
)

var (
	errFilesMissing = errors.New("source file or target file not provided")
	errNoMappings   = errors.New("no field mappings provided")
)

// RecommendTables handles POST /api/recommend: multipart source_file (xlsx)
// and target_file (JSON). Responds with the shortlisted table names.
func (h *Handler) RecommendTables(c echo.Context) error {
	source, target, err := openUploads(c)
	if err != nil {
		return h.writeError(c, domain.StageShortlist, err)
	}
	defer source.Close()
	defer target.Close()

	sheets, err := workbook.ReadSheets(source)
	if err != nil {
		return h.writeError(c, domain.StageShortlist, invalidInput("invalid_source_file", err))
	}
	doc, err := workbook.DecodeTarget(target)
	if err != nil {
		return h.writeError(c, domain.StageShortlist, invalidInput("invalid_target_file", err))
	}

	out, err := h.pipeline.RecommendTables(c.Request().Context(), usecase.RecommendTablesInput{
		RunID:  runIDFrom(c),
		Sheets: sheets,
		Target: doc,
	})
	if err != nil {
		return h.writeError(c, domain.StageShortlist, err)
	}
	return h.ok(c, domain.StageShortlist, out.RunID, out.Tables)
}

// RecommendFields handles POST /api/recommend_fields: multipart source_file
// (JSON array of table schemas) and target_file (JSON).
func (h *Handler) RecommendFields(c echo.Context) error {
	source, target, err := openUploads(c)
	if err != nil {
		return h.writeError(c, domain.StageMapping, err)
	}
	defer source.Close()
	defer target.Close()

	tables, err := workbook.DecodeSourceTables(source)
	if err != nil {
		return h.writeError(c, domain.StageMapping, invalidInput("invalid_source_file", err))
	}
	doc, err := workbook.DecodeTarget(target)
	if err != nil {
		return h.writeError(c, domain.StageMapping, invalidInput("invalid_target_file", err))
	}

	out, err := h.pipeline.RecommendFields(c.Request().Context(), usecase.RecommendFieldsInput{
		RunID:        runIDFrom(c),
		SourceTables: tables,
		Target:       doc,
	})
	if err != nil {
		return h.writeError(c, domain.StageMapping, err)
	}
	return h.ok(c, domain.StageMapping, out.RunID, out.Mappings)
}

type sqlResponse struct {
	SQL string `json:"sql"`
}

// GenerateSQL handles POST /api/generate_sql with a JSON array of approved
// mappings as the body.
func (h *Handler) GenerateSQL(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUploadBytes))
	if err != nil {
		return h.writeError(c, domain.StageSQL, invalidInput("unreadable_body", err))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return h.writeError(c, domain.StageSQL, invalidInput("empty_mappings", errNoMappings))
	}
	mappings, err := workbook.DecodeApprovedMappings(bytes.NewReader(body))
	if err != nil {
		return h.writeError(c, domain.StageSQL, invalidInput("invalid_mappings", err))
	}
	if len(mappings) == 0 {
		return h.writeError(c, domain.StageSQL, invalidInput("empty_mappings", errNoMappings))
	}

	out, err := h.pipeline.GenerateSQL(c.Request().Context(), usecase.GenerateSQLInput{
		RunID:    runIDFrom(c),
		Mappings: mappings,
	})
	if err != nil {
		return h.writeError(c, domain.StageSQL, err)
	}
	return h.ok(c, domain.StageSQL, out.RunID, sqlResponse{SQL: out.SQL})
}

type artifactSummary struct {
	Stage     domain.Stage `json:"stage"`
	File      string       `json:"file"`
	Bytes     int          `json:"bytes"`
	CreatedAt string       `json:"createdAt"`
}

// ListRunArtifacts handles GET /api/runs/:run_id.
func (h *Handler) ListRunArtifacts(c echo.Context) error {
	runID, err := runIDParam(c)
	if err != nil {
		return h.writeError(c, "", err)
	}
	list, err := h.artifacts.ListArtifacts(c.Request().Context(), runID)
	if err != nil {
		return h.writeError(c, "", fmt.Errorf("server: list artifacts: %w", err))
	}
	if len(list) == 0 {
		return notFound(c, "run %s has no artifacts", runID)
	}
	out := make([]artifactSummary, 0, len(list))
	for _, a := range list {
		out = append(out, artifactSummary{
			Stage:     a.Stage,
			File:      a.Stage.FileName(),
			Bytes:     len(a.Body),
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GetRunArtifact handles GET /api/runs/:run_id/:stage and returns the stored
// body verbatim.
func (h *Handler) GetRunArtifact(c echo.Context) error {
	runID, err := runIDParam(c)
	if err != nil {
		return h.writeError(c, "", err)
	}
	stage := domain.Stage(c.Param("stage"))
	if !stage.Valid() {
		return notFound(c, "unknown stage %q", stage)
	}
	a, err := h.artifacts.GetArtifact(c.Request().Context(), runID, stage)
	if isNotFound(err) {
		return notFound(c, "run %s has no %s artifact", runID, stage)
	}
	if err != nil {
		return h.writeError(c, "", fmt.Errorf("server: get artifact: %w", err))
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = stage.ContentType()
	}
	return c.Blob(http.StatusOK, contentType, a.Body)
}

func (h *Handler) ok(c echo.Context, stage domain.Stage, runID string, body any) error {
	observability.ObserveStageOutcome(stage, "ok")
	c.Response().Header().Set(HeaderRunID, runID)
	return c.JSON(http.StatusOK, body)
}

// runIDParam reads the :run_id path segment. Run ids are always UUIDs, so
// anything else is rejected before it reaches a store.
func runIDParam(c echo.Context) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("run_id")))
	if err != nil {
		return "", invalidInput("invalid_run_id", fmt.Errorf("run id must be a UUID: %w", err))
	}
	return id.String(), nil
}

func runIDFrom(c echo.Context) string {
	if id := strings.TrimSpace(c.Request().Header.Get(HeaderRunID)); id != "" {
		return id
	}
	return strings.TrimSpace(c.FormValue("run_id"))
}

// openUploads opens the source_file and target_file parts of a multipart
// request.
func openUploads(c echo.Context) (io.ReadCloser, io.ReadCloser, error) {
	req := c.Request()
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, invalidInput("files_missing", errFilesMissing)
	}
	sourceHeader, err := c.FormFile("source_file")
	if err != nil {
		return nil, nil, invalidInput("files_missing", errFilesMissing)
	}
	targetHeader, err := c.FormFile("target_file")
	if err != nil {
		return nil, nil, invalidInput("files_missing", errFilesMissing)
	}
	source, err := sourceHeader.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("server: open source_file: %w", err)
	}
	target, err := targetHeader.Open()
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("server: open target_file: %w", err)
	}
	return source, target, nil
}
