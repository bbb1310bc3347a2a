package model

import "time"

type WorkflowRunRequest struct {
	WorkflowId string         `json:"workflowId"`
	UserId     string         `json:"userId"`
	Input      map[string]any `json:"input"`
	DryRun     bool           `json:"dryRun"`
}

type WorkflowResumeRequest struct {
	ResumeToken string `json:"resumeToken"`
	Approved    bool   `json:"approved"`
	Comment     string `json:"comment"`
}

type WorkflowCancelRequest struct {
	Reason string `json:"reason"`
}

type ApprovalRequestView struct {
	StepId      string     `json:"stepId"`
	Prompt      string     `json:"prompt"`
	Items       any        `json:"items,omitempty"`
	ResumeToken string     `json:"resumeToken"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// ExecutionResult summarizes a run at the point control returned to the caller.
type ExecutionResult struct {
	RunId          string               `json:"runId"`
	Status         RunStatus            `json:"status"`
	Output         any                  `json:"output,omitempty"`
	Error          string               `json:"error,omitempty"`
	Approval       *ApprovalRequestView `json:"approval,omitempty"`
	CompletedSteps []string             `json:"completedSteps"`
	PendingSteps   []string             `json:"pendingSteps"`
}

func NewExecutionResult(run *Run) *ExecutionResult {
	res := &ExecutionResult{
		RunId:          run.Id,
		Status:         run.Status,
		Output:         run.Output,
		Error:          run.Error,
		CompletedSteps: run.CompletedSteps(),
		PendingSteps:   run.PendingSteps(),
	}
	if run.Status == PAUSED && run.PendingApproval != nil {
		gate := run.PendingApproval
		res.Approval = &ApprovalRequestView{
			StepId:      gate.StepId,
			Prompt:      gate.Prompt,
			Items:       gate.Items,
			ResumeToken: gate.ResumeToken,
			ExpiresAt:   gate.ExpiresAt,
		}
	}
	return res
}
