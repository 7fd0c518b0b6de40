package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/cascade/internal/log"
	"github.com/tombee/cascade/pkg/llm"
	"github.com/tombee/cascade/pkg/llm/pricing"
	"github.com/tombee/cascade/pkg/pipeline"
)

type staticInvoker struct {
	text string
}

func (s staticInvoker) Invoke(context.Context, string, string) (*llm.Result, error) {
	return &llm.Result{
		Text:  s.text,
		Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func newTestServer(t *testing.T, invoker llm.Invoker) (*Server, *pipeline.Orchestrator) {
	t.Helper()
	store := pipeline.NewMemoryStore()
	registry := llm.DefaultRegistry()
	runner := pipeline.NewRunner(invoker, registry, pricing.NewTable(),
		pipeline.NewEvaluator(invoker, "kimi-k2p5"), store)
	orchestrator := pipeline.NewOrchestrator(store, runner)
	logger := log.New(&log.Config{Level: "error", Output: &bytes.Buffer{}})
	return New(store, orchestrator, registry, logger), orchestrator
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func workflowPayload() map[string]any {
	return map[string]any{
		"name": "demo",
		"steps": []map[string]any{
			{
				"order":         1,
				"name":          "greet",
				"model":         "kimi-k2p5",
				"prompt":        "say hello and DONE",
				"criteria_type": "contains",
				"criteria_value": "DONE",
				"max_retries":   1,
				"context_mode":  "full",
			},
		},
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, staticInvoker{text: "DONE"})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkflowLifecycle(t *testing.T) {
	s, _ := newTestServer(t, staticInvoker{text: "DONE"})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", workflowPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created pipeline.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.Steps[0].ID)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var listed []pipeline.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	payload := workflowPayload()
	payload["name"] = "renamed"
	rec = doJSON(t, h, http.MethodPut, "/api/v1/workflows/"+created.ID, payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated pipeline.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, created.ID, updated.ID)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateWorkflowValidation(t *testing.T) {
	s, _ := newTestServer(t, staticInvoker{text: "DONE"})

	payload := workflowPayload()
	payload["steps"] = []map[string]any{}
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload = workflowPayload()
	payload["steps"].([]map[string]any)[0]["model"] = "gpt-99"
	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutionFlow(t *testing.T) {
	s, orchestrator := newTestServer(t, staticInvoker{text: "all DONE"})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/workflows", workflowPayload())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created pipeline.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/workflows/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var launched pipeline.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &launched))
	assert.Equal(t, pipeline.ExecutionPending, launched.Status)

	orchestrator.Wait()

	rec = doJSON(t, h, http.MethodGet, "/api/v1/executions/"+launched.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail ExecutionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, pipeline.ExecutionCompleted, detail.Status)
	require.Len(t, detail.StepExecutions, 1)
	assert.Equal(t, pipeline.StepCompleted, detail.StepExecutions[0].Status)
	assert.Equal(t, 15, detail.TotalTokens)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/workflows/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var executions []pipeline.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &executions))
	assert.Len(t, executions, 1)
}

func TestStartExecutionUnknownWorkflow(t *testing.T) {
	s, _ := newTestServer(t, staticInvoker{text: "DONE"})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/workflows/ghost/executions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExecutionsUnknownWorkflow(t *testing.T) {
	s, _ := newTestServer(t, staticInvoker{text: "DONE"})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/workflows/ghost/executions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModels(t *testing.T) {
	s, _ := newTestServer(t, staticInvoker{text: "DONE"})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var models []llm.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.NotEmpty(t, models)
}
