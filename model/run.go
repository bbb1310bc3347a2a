package model

import "time"

type RunStatus string

const PENDING RunStatus = "pending"
const RUNNING RunStatus = "running"
const PAUSED RunStatus = "paused"
const COMPLETED RunStatus = "completed"
const FAILED RunStatus = "failed"
const CANCELLED RunStatus = "cancelled"

func (s RunStatus) IsTerminal() bool {
	return s == COMPLETED || s == FAILED || s == CANCELLED
}

type StepStatus string

const STEP_SUCCESS StepStatus = "success"
const STEP_FAILURE StepStatus = "failure"
const STEP_SKIPPED StepStatus = "skipped"
const STEP_PENDING StepStatus = "pending"

type StepResult struct {
	StepId      string        `json:"stepId"`
	Status      StepStatus    `json:"status"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`
}

// RunState is the mutable part of a run. StepResults is append-only and
// StepOrder keeps the order results were written in.
type RunState struct {
	CurrentStepId string                `json:"currentStepId"`
	StepResults   map[string]StepResult `json:"stepResults"`
	StepOrder     []string              `json:"stepOrder"`
	Variables     map[string]any        `json:"variables"`
}

type ApprovalGate struct {
	RunId       string     `json:"runId"`
	StepId      string     `json:"stepId"`
	Prompt      string     `json:"prompt"`
	Items       any        `json:"items,omitempty"`
	ResumeToken string     `json:"resumeToken"`
	RequestedAt time.Time  `json:"requestedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (g *ApprovalGate) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

type Run struct {
	Id              string         `json:"id"`
	WorkflowId      string         `json:"workflowId"`
	UserId          string         `json:"userId"`
	Workflow        Workflow       `json:"workflow"`
	Status          RunStatus      `json:"status"`
	State           RunState       `json:"state"`
	Input           map[string]any `json:"input"`
	Output          any            `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
	DryRun          bool           `json:"dryRun,omitempty"`
	ResumeToken     string         `json:"resumeToken,omitempty"`
	PendingApproval *ApprovalGate  `json:"pendingApproval,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	PausedAt        *time.Time     `json:"pausedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Version         int            `json:"version"`
}

func NewRunState(variables map[string]any) RunState {
	if variables == nil {
		variables = make(map[string]any)
	}
	return RunState{
		StepResults: make(map[string]StepResult),
		StepOrder:   make([]string, 0),
		Variables:   variables,
	}
}

func (r *Run) GetStepResult(stepId string) (StepResult, bool) {
	res, ok := r.State.StepResults[stepId]
	return res, ok
}

// CompletedSteps lists step ids with a recorded result in execution order.
func (r *Run) CompletedSteps() []string {
	out := make([]string, 0, len(r.State.StepOrder))
	out = append(out, r.State.StepOrder...)
	return out
}

// PendingSteps lists definition steps without a recorded result. Nothing is
// pending once the run is terminal, including steps a jump bypassed.
func (r *Run) PendingSteps() []string {
	out := make([]string, 0)
	if r.Status.IsTerminal() {
		return out
	}
	for _, step := range r.Workflow.Steps {
		if _, ok := r.State.StepResults[step.Id]; !ok {
			out = append(out, step.Id)
		}
	}
	return out
}
