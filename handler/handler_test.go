package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"schema-mapper/internal/domain"
	"schema-mapper/internal/server"
	"schema-mapper/internal/usecase"
)

type stubPipeline struct {
	sqlOut    usecase.GenerateSQLOutput
	fieldsOut usecase.RecommendFieldsOutput
	err       error
	sqlIn     usecase.GenerateSQLInput
	fieldsIn  usecase.RecommendFieldsInput
}

func (s *stubPipeline) RecommendTables(context.Context, usecase.RecommendTablesInput) (usecase.RecommendTablesOutput, error) {
	return usecase.RecommendTablesOutput{}, s.err
}

func (s *stubPipeline) RecommendFields(_ context.Context, in usecase.RecommendFieldsInput) (usecase.RecommendFieldsOutput, error) {
	s.fieldsIn = in
	return s.fieldsOut, s.err
}

func (s *stubPipeline) GenerateSQL(_ context.Context, in usecase.GenerateSQLInput) (usecase.GenerateSQLOutput, error) {
	s.sqlIn = in
	return s.sqlOut, s.err
}

func newLambdaHandler(t *testing.T, p server.Pipeline) *Handler {
	t.Helper()
	sh, err := server.NewHandler(p)
	require.NoError(t, err)
	h, err := NewHandler(server.New(sh))
	require.NoError(t, err)
	return h
}

const mappingsBody = `[{"source":{"field":"pid","table":{"name":"patients"}},"target":{"field":"patient_id","table":{"name":"patient"}}}]`

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/api/generate_sql",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	p := &stubPipeline{sqlOut: usecase.GenerateSQLOutput{RunID: "run-1", SQL: "SELECT 1;"}}
	h := newLambdaHandler(t, p)

	resp, err := h.Handle(context.Background(), makeEvent(mappingsBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "SELECT 1;", parseBody[map[string]string](t, resp.Body)["sql"])
	require.Equal(t, "patient_id", p.sqlIn.Mappings[0].Target.Field)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "run-1", resp.Headers["X-Run-Id"])
	require.False(t, resp.IsBase64Encoded)
}

func TestHandle_Base64MultipartUpload(t *testing.T) {
	p := &stubPipeline{fieldsOut: usecase.RecommendFieldsOutput{RunID: "run-2", Mappings: []domain.MappingRecord{}}}
	h := newLambdaHandler(t, p)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for field, content := range map[string]string{
		"source_file": `[{"name":"patients","fields":[]}]`,
		"target_file": `{"name":"patient","fields":[]}`,
	} {
		part, err := w.CreateFormFile(field, field+".json")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("run_id", "run-2"))
	require.NoError(t, w.Close())

	event := events.APIGatewayProxyRequest{
		HTTPMethod:      http.MethodPost,
		Path:            "/api/recommend_fields",
		Headers:         map[string]string{"content-type": w.FormDataContentType()},
		Body:            base64.StdEncoding.EncodeToString(body.Bytes()),
		IsBase64Encoded: true,
	}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, resp.Body)
	require.Equal(t, "run-2", p.fieldsIn.RunID)
	require.Equal(t, "patient", p.fieldsIn.Target.Table.Name)
}

func TestHandle_InvalidBody(t *testing.T) {
	h := newLambdaHandler(t, &stubPipeline{})

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorBody](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Code)
	require.Equal(t, "invalid_mappings", out.Reason)
}

func TestHandle_MalformedBase64(t *testing.T) {
	h := newLambdaHandler(t, &stubPipeline{})
	event := makeEvent("%%%")
	event.IsBase64Encoded = true

	_, err := h.Handle(context.Background(), event)
	require.Error(t, err)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_run_id"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "sql_llm_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "sql_incomplete_output"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "sql_internal_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newLambdaHandler(t, &stubPipeline{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(mappingsBody))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorBody](t, resp.Body)
			require.Equal(t, tc.code, out.Code)
		})
	}
}

func TestHandle_UnknownRoute(t *testing.T) {
	h := newLambdaHandler(t, &stubPipeline{})
	event := makeEvent("")
	event.Path = "/ask"

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newLambdaHandler(t, &stubPipeline{sqlOut: usecase.GenerateSQLOutput{RunID: "run-1", SQL: "SELECT 1;"}})

	event := makeEvent(mappingsBody)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestResponseWriter_BinaryBodyIsBase64(t *testing.T) {
	w := newResponseWriter()
	_, err := w.Write([]byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)

	resp := w.proxyResponse()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, resp.IsBase64Encoded)
	require.Equal(t, "//4A", resp.Body)
}

func TestToRequest_QueryAndHeaders(t *testing.T) {
	req, err := toRequest(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:                      http.MethodGet,
		Path:                            "/api/runs/abc",
		QueryStringParameters:           map[string]string{"a": "1"},
		MultiValueQueryStringParameters: map[string][]string{"b": {"2", "3"}},
		MultiValueHeaders:               map[string][]string{"X-Multi": {"x", "y"}},
	})
	require.NoError(t, err)
	require.Equal(t, "/api/runs/abc", req.URL.Path)
	require.Equal(t, "1", req.URL.Query().Get("a"))
	require.Equal(t, []string{"2", "3"}, req.URL.Query()["b"])
	require.Equal(t, []string{"x", "y"}, req.Header.Values("X-Multi"))
}
