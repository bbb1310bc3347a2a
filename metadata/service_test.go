package metadata_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohitkumar/stepflow/action"
	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() model.Workflow {
	return model.Workflow{
		Id:      "triage",
		Name:    "Triage",
		Version: 1,
		Inputs:  model.WorkflowInputs{Required: []string{"ticket"}},
		Steps: []model.Step{
			{Id: "fetch", Type: model.STEP_TYPE_TOOL, Tool: &model.ToolStep{Tool: "tickets", Action: "get", Args: map[string]any{"id": "$input.ticket"}}},
			{Id: "urgent", Type: model.STEP_TYPE_CONDITION, Condition: &model.ConditionStep{Expression: "$fetch.output.priority == 'high'"}, OnFailure: "summary"},
			{Id: "approve", Type: model.STEP_TYPE_APPROVAL, Approval: &model.ApprovalStep{Prompt: "Escalate?", Timeout: "1h"}},
			{Id: "summary", Type: model.STEP_TYPE_TRANSFORM, Transform: &model.TransformStep{Input: "$fetch.output", Output: "report", Expression: "({title: $.title})"}},
		},
		Output: "$variables.report",
	}
}

func newService(ttl time.Duration) (*metadata.MetadataServiceImpl, *memory.MetadataStore) {
	store := memory.NewMetadataStore()
	return metadata.NewMetadataService(store, action.Config{}, ttl), store
}

func TestValidateWorkflow(t *testing.T) {
	s, _ := newService(0)
	require.NoError(t, s.ValidateWorkflow(validWorkflow()))

	cases := []struct {
		name   string
		mutate func(wf *model.Workflow)
	}{
		{"empty id", func(wf *model.Workflow) { wf.Id = "" }},
		{"duplicate step", func(wf *model.Workflow) { wf.Steps[1].Id = "fetch" }},
		{"empty step id", func(wf *model.Workflow) { wf.Steps[0].Id = "" }},
		{"unknown type", func(wf *model.Workflow) { wf.Steps[0].Type = "http" }},
		{"missing payload", func(wf *model.Workflow) { wf.Steps[0].Tool = nil }},
		{"tool without action", func(wf *model.Workflow) { wf.Steps[0].Tool.Action = "" }},
		{"bad condition", func(wf *model.Workflow) { wf.Steps[1].Condition.Expression = "$a ==" }},
		{"unknown jump target", func(wf *model.Workflow) { wf.Steps[1].OnFailure = "nowhere" }},
		{"bad approval timeout", func(wf *model.Workflow) { wf.Steps[2].Approval.Timeout = "soon" }},
		{"transform reserved output", func(wf *model.Workflow) { wf.Steps[3].Transform.Output = "input" }},
		{"transform shadows step", func(wf *model.Workflow) { wf.Steps[3].Transform.Output = "fetch" }},
		{"bad output reference", func(wf *model.Workflow) { wf.Output = "report" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf := validWorkflow()
			tc.mutate(&wf)
			err := s.ValidateWorkflow(wf)
			require.Error(t, err)
			assert.True(t, model.IsConfigurationError(err), "got %T: %v", err, err)
		})
	}
}

func TestSaveAndGetWorkflow(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(time.Minute)
	require.NoError(t, s.SaveWorkflow(ctx, validWorkflow()))

	wf, err := s.GetWorkflow(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "Triage", wf.Name)
	assert.Len(t, wf.Steps, 4)

	_, err = s.GetWorkflow(ctx, "missing")
	assert.True(t, persistence.IsNotFound(err))

	invalid := validWorkflow()
	invalid.Steps[0].Type = "http"
	assert.Error(t, s.SaveWorkflow(ctx, invalid))
}

func TestGetWorkflowIsCached(t *testing.T) {
	ctx := context.Background()
	s, store := newService(time.Minute)
	require.NoError(t, s.SaveWorkflow(ctx, validWorkflow()))
	_, err := s.GetWorkflow(ctx, "triage")
	require.NoError(t, err)

	// bypass the service so the cache is not invalidated
	require.NoError(t, store.DeleteWorkflowDefinition(ctx, "triage"))
	wf, err := s.GetWorkflow(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "triage", wf.Id)

	updated := validWorkflow()
	updated.Version = 2
	require.NoError(t, s.SaveWorkflow(ctx, updated))
	wf, err = s.GetWorkflow(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, 2, wf.Version)

	require.NoError(t, s.DeleteWorkflow(ctx, "triage"))
	_, err = s.GetWorkflow(ctx, "triage")
	assert.True(t, persistence.IsNotFound(err))
}

func TestListWorkflows(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(0)
	second := validWorkflow()
	second.Id = "alpha"
	require.NoError(t, s.SaveWorkflow(ctx, validWorkflow()))
	require.NoError(t, s.SaveWorkflow(ctx, second))

	list, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Id)
	assert.Equal(t, "triage", list[1].Id)
}

const yamlDefinition = `
id: deploy
name: Deploy
version: 3
inputs:
  required: [service]
steps:
  - id: build
    type: tool
    tool:
      tool: ci
      action: build
      args:
        service: $input.service
        retries: 2
  - id: ok
    type: condition
    condition:
      expression: "$build.success && $build.output.artifacts.length > 0"
  - id: gate
    type: approval
    approval:
      prompt: "Ship {$input.service}?"
      timeout: 30m
`

func TestParseWorkflowYAML(t *testing.T) {
	wf, err := metadata.ParseWorkflow([]byte(yamlDefinition))
	require.NoError(t, err)
	assert.Equal(t, "deploy", wf.Id)
	assert.Equal(t, 3, wf.Version)
	assert.Equal(t, []string{"service"}, wf.Inputs.Required)
	require.Len(t, wf.Steps, 3)
	assert.Equal(t, model.STEP_TYPE_TOOL, wf.Steps[0].Type)
	assert.Equal(t, "$input.service", wf.Steps[0].Tool.Args["service"])
	assert.Equal(t, "30m", wf.Steps[2].Approval.Timeout)

	_, err = metadata.ParseWorkflow([]byte("  "))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte(yamlDefinition), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	json := `{"name": "Ping", "steps": [{"id": "p", "type": "tool", "tool": {"tool": "net", "action": "ping"}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ping.json"), []byte(json), 0o644))

	s, _ := newService(0)
	n, err := s.LoadDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	wf, err := s.GetWorkflow(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, "Ping", wf.Name)

	n, err = s.LoadDir(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadDirRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlDefinition), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(yamlDefinition), 0o644))
	s, _ := newService(0)
	_, err := s.LoadDir(context.Background(), dir)
	assert.ErrorContains(t, err, "duplicate workflow id deploy")
}
