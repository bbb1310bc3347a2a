package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationErrorWrapped(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NewConfigurationError("draft", "unknown target %q", "nowhere"))
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "stepId=draft")
	assert.Contains(t, err.Error(), `unknown target "nowhere"`)

	assert.False(t, IsConfigurationError(errors.New("plain")))
	assert.False(t, IsConfigurationError(StepExecutionError{StepId: "a", Cause: errors.New("boom")}))
}

func TestStepExecutionErrorUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := StepExecutionError{StepId: "search", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "step search failed: timeout", err.Error())
}

func TestRunPendingAndCompletedSteps(t *testing.T) {
	run := &Run{
		Workflow: Workflow{Steps: []Step{{Id: "a"}, {Id: "b"}, {Id: "c"}}},
		State:    NewRunState(nil),
	}
	run.State.StepResults["b"] = StepResult{StepId: "b", Status: STEP_SUCCESS}
	run.State.StepOrder = append(run.State.StepOrder, "b")

	assert.Equal(t, []string{"b"}, run.CompletedSteps())
	assert.Equal(t, []string{"a", "c"}, run.PendingSteps())
	assert.NotNil(t, run.State.Variables)

	run.Status = COMPLETED
	assert.Equal(t, []string{"b"}, run.CompletedSteps())
	assert.Empty(t, run.PendingSteps())
}

func TestWorkflowNextStep(t *testing.T) {
	wf := Workflow{Steps: []Step{{Id: "a"}, {Id: "b"}}}
	assert.Equal(t, "b", wf.NextStep("a").Id)
	assert.Nil(t, wf.NextStep("b"))
	assert.Nil(t, wf.NextStep("missing"))
	assert.Nil(t, wf.GetStep("missing"))
	assert.Equal(t, 1, wf.StepIndex("b"))
}
