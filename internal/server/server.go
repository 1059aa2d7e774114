// Package server exposes the mapping pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"schema-mapper/internal/domain"
	"schema-mapper/internal/observability"
	"schema-mapper/internal/repository"
	"schema-mapper/internal/usecase"
)

const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderRunID         = "X-Run-Id"

	maxUploadBytes = 32 << 20
)

// Pipeline is the usecase surface served over HTTP.
type Pipeline interface {
	RecommendTables(ctx context.Context, in usecase.RecommendTablesInput) (usecase.RecommendTablesOutput, error)
	RecommendFields(ctx context.Context, in usecase.RecommendFieldsInput) (usecase.RecommendFieldsOutput, error)
	GenerateSQL(ctx context.Context, in usecase.GenerateSQLInput) (usecase.GenerateSQLOutput, error)
}

// ArtifactReader serves previously recorded stage outputs.
type ArtifactReader interface {
	GetArtifact(ctx context.Context, runID string, stage domain.Stage) (domain.Artifact, error)
	ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error)
}

// Handler handles HTTP requests.
type Handler struct {
	pipeline  Pipeline
	artifacts ArtifactReader
	logger    *slog.Logger
}

type Option func(*Handler)

// WithArtifactReader enables the run artifact routes.
func WithArtifactReader(r ArtifactReader) Option {
	return func(h *Handler) {
		h.artifacts = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

func NewHandler(p Pipeline, opts ...Option) (*Handler, error) {
	if p == nil {
		return nil, errors.New("server: pipeline must not be nil")
	}
	h := &Handler{pipeline: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// New builds an echo instance with middleware and every route registered.
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("40M"))
	e.Use(h.correlationID)
	e.Use(h.accessLog)
	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/recommend", h.RecommendTables)
	e.POST("/api/recommend_fields", h.RecommendFields)
	e.POST("/api/generate_sql", h.GenerateSQL)

	if h.artifacts != nil {
		e.GET("/api/runs/:run_id", h.ListRunArtifacts)
		e.GET("/api/runs/:run_id/:stage", h.GetRunArtifact)
	}

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// correlationID echoes the caller's correlation id, minting one when absent.
func (h *Handler) correlationID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(HeaderCorrelationID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("correlation_id", id)
		c.Response().Header().Set(HeaderCorrelationID, id)
		return next(c)
	}
}

func (h *Handler) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		status := c.Response().Status
		elapsed := time.Since(start)

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		observability.ObserveHTTPRequest(req.Method, route, status, elapsed)
		h.logger.Info("http_request",
			"method", req.Method,
			"route", route,
			"status", status,
			"elapsed_ms", elapsed.Milliseconds(),
			"correlation_id", correlationIDFrom(c),
		)
		return nil
	}
}

func correlationIDFrom(c echo.Context) string {
	if v, ok := c.Get("correlation_id").(string); ok {
		return v
	}
	return ""
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps a usecase error onto a status code and the {"error": ...}
// body. Anything uncoded is an internal error.
func (h *Handler) writeError(c echo.Context, stage domain.Stage, err error) error {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		ue = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
	}
	status := statusFor(ue.Code)

	if stage != "" {
		observability.ObserveStageOutcome(stage, string(ue.Code))
	}
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(c.Request().Context(), level, "request_failed",
		"stage", stage,
		"code", ue.Code,
		"reason", ue.Reason,
		"correlation_id", correlationIDFrom(c),
		"err", err,
	)
	return c.JSON(status, errorResponse{Error: messageFor(ue), Code: string(ue.Code), Reason: ue.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(e *usecase.Error) string {
	switch e.Code {
	case usecase.ErrorInvalidInput:
		if e.Err != nil {
			return e.Err.Error()
		}
		return strings.ReplaceAll(e.Reason, "_", " ")
	case usecase.ErrorRateLimited:
		return "LLM service rate limit reached, retry later"
	case usecase.ErrorUpstream:
		return "LLM service request failed"
	default:
		return "internal error"
	}
}

func invalidInput(reason string, err error) *usecase.Error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason, Err: err}
}

func notFound(c echo.Context, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg, Code: "NOT_FOUND"})
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
