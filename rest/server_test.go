package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohitkumar/stepflow/action"
	"github.com/mohitkumar/stepflow/analytics"
	"github.com/mohitkumar/stepflow/engine"
	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/persistence/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTools struct{}

func (echoTools) Invoke(ctx context.Context, call action.ToolCall) (*action.ToolResult, error) {
	return &action.ToolResult{Success: true, Output: call.Args}, nil
}

type testServer struct {
	server *Server
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return ts.now }
	cfg := action.Config{Tools: echoTools{}, DefaultApprovalTTL: time.Hour}
	service := metadata.NewMetadataService(memory.NewMetadataStore(), cfg, time.Minute)
	eng := engine.NewEngine(service, memory.NewRunStore(), cfg, nil).WithClock(clock)

	reg := prometheus.NewRegistry()
	metrics := analytics.NewMetricsCollector(reg)
	require.NoError(t, metrics.Collect(analytics.NewEvent(analytics.WORKFLOW_STARTED, "r", "wf", "", nil)))

	s, err := NewServer(0, service, eng, reg)
	require.NoError(t, err)
	ts.server = s
	return ts
}

func (ts *testServer) do(t *testing.T, method string, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.server.Handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

var approvalWorkflow = model.Workflow{
	Id:     "publish",
	Inputs: model.WorkflowInputs{Required: []string{"title"}},
	Steps: []model.Step{
		{Id: "draft", Type: model.STEP_TYPE_TOOL, Tool: &model.ToolStep{Tool: "cms", Action: "draft", Args: map[string]any{"title": "$input.title"}}},
		{Id: "review", Type: model.STEP_TYPE_APPROVAL, Approval: &model.ApprovalStep{Prompt: "Publish {$input.title}?"}},
		{Id: "publish", Type: model.STEP_TYPE_TOOL, Tool: &model.ToolStep{Tool: "cms", Action: "publish", Args: map[string]any{"id": "$draft.output.title"}}},
	},
}

func TestMetadataEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/metadata/workflow", approvalWorkflow)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["created"])

	broken := approvalWorkflow
	broken.Id = "broken"
	broken.Steps = []model.Step{{Id: "x", Type: "shell"}}
	code, _ = ts.do(t, http.MethodPost, "/metadata/workflow", broken)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.do(t, http.MethodPost, "/metadata/workflow/validate", broken)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])

	code, body = ts.do(t, http.MethodGet, "/metadata/workflow/publish", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "publish", body["id"])

	req := httptest.NewRequest(http.MethodGet, "/metadata/workflow", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []model.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	code, _ = ts.do(t, http.MethodDelete, "/metadata/workflow/publish", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodGet, "/metadata/workflow/publish", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExecutionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodPost, "/metadata/workflow", approvalWorkflow)
	require.Equal(t, http.StatusOK, code)

	code, body := ts.do(t, http.MethodPost, "/execution", model.WorkflowRunRequest{WorkflowId: "publish", Input: map[string]any{"title": "Hello"}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "paused", body["status"])
	approval := body["approval"].(map[string]any)
	assert.Equal(t, "Publish Hello?", approval["prompt"])
	token := approval["resumeToken"].(string)
	runId := body["runId"].(string)

	code, body = ts.do(t, http.MethodGet, "/execution/"+runId, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paused", body["summary"].(map[string]any)["status"])

	code, body = ts.do(t, http.MethodPost, "/execution/resume", model.WorkflowResumeRequest{ResumeToken: token, Approved: true})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]any{"id": "Hello"}, body["output"])

	code, _ = ts.do(t, http.MethodPost, "/execution/resume", model.WorkflowResumeRequest{ResumeToken: token, Approved: true})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, http.MethodPost, "/execution/"+runId+"/continue", nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = ts.do(t, http.MethodPost, "/execution/"+runId+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestExecutionErrors(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodPost, "/metadata/workflow", approvalWorkflow)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPost, "/execution", model.WorkflowRunRequest{WorkflowId: "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(t, http.MethodPost, "/execution", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(t, http.MethodGet, "/execution/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := ts.do(t, http.MethodPost, "/execution", model.WorkflowRunRequest{WorkflowId: "publish"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "failed", body["status"])

	_, body = ts.do(t, http.MethodPost, "/execution", model.WorkflowRunRequest{WorkflowId: "publish", Input: map[string]any{"title": "Late"}})
	token := body["approval"].(map[string]any)["resumeToken"].(string)
	ts.now = ts.now.Add(2 * time.Hour)
	code, _ = ts.do(t, http.MethodPost, "/execution/resume", model.WorkflowResumeRequest{ResumeToken: token, Approved: true})
	assert.Equal(t, http.StatusGone, code)

	code, body = ts.do(t, http.MethodPost, "/execution/"+body["runId"].(string)+"/cancel", model.WorkflowCancelRequest{Reason: "stale"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stepflow_events_total")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{model.NewConfigurationError("s", "bad"), http.StatusBadRequest},
		{persistence.RunNotFound("r"), http.StatusNotFound},
		{model.TokenExpiredError{RunId: "r"}, http.StatusGone},
		{model.TokenInvalidError{Message: "x"}, http.StatusConflict},
		{model.InvalidTransitionError{RunId: "r"}, http.StatusConflict},
		{persistence.ConflictError{RunId: "r"}, http.StatusConflict},
		{persistence.StorageLayerError{Message: "down"}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, statusFor(tc.err), tc.err.Error())
	}
}
