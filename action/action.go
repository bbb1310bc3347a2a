package action

import (
	"context"
	"slices"
	"time"

	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/model"
)

// CallerContext identifies who a tool call is made on behalf of.
type CallerContext struct {
	UserId     string `json:"userId"`
	RunId      string `json:"runId"`
	WorkflowId string `json:"workflowId"`
	StepId     string `json:"stepId"`
}

type ToolCall struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
	Caller CallerContext  `json:"caller"`
}

type ToolResult struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolInvoker runs one action of an external tool. A returned error and a
// result with Success=false both mark the step as failed.
type ToolInvoker interface {
	Invoke(ctx context.Context, call ToolCall) (*ToolResult, error)
}

type LLMInvoker interface {
	Complete(ctx context.Context, prompt string, model string) (string, error)
}

// ExecutionContext is what a step sees of its run.
type ExecutionContext struct {
	RunId      string
	WorkflowId string
	UserId     string
	DryRun     bool
	Expr       *expression.Context
}

func (ec *ExecutionContext) caller(stepId string) CallerContext {
	return CallerContext{UserId: ec.UserId, RunId: ec.RunId, WorkflowId: ec.WorkflowId, StepId: stepId}
}

type ApprovalRequest struct {
	StepId string
	Prompt string
	Items  any
	TTL    time.Duration
}

// Outcome is the kind specific result of executing a step. Only transform
// steps set Variables and only approval steps set Approval.
type Outcome struct {
	Status    model.StepStatus
	Output    any
	Error     string
	Variables map[string]any
	Approval  *ApprovalRequest
}

type Action interface {
	GetId() string
	GetName() string
	GetType() model.StepType
	Validate() error
	Execute(ctx context.Context, execCtx *ExecutionContext) (*Outcome, error)
}

type Config struct {
	Tools              ToolInvoker
	LLM                LLMInvoker
	TransformTimeout   time.Duration
	DefaultApprovalTTL time.Duration
}

type baseAction struct {
	id      string
	name    string
	actType model.StepType
}

func newBaseAction(step model.Step) baseAction {
	name := step.Name
	if name == "" {
		name = step.Id
	}
	return baseAction{id: step.Id, name: name, actType: step.Type}
}

func (ba *baseAction) GetId() string {
	return ba.id
}

func (ba *baseAction) GetName() string {
	return ba.name
}

func (ba *baseAction) GetType() model.StepType {
	return ba.actType
}

func (ba *baseAction) configError(format string, args ...any) error {
	return model.NewConfigurationError(ba.id, format, args...)
}

// wrapConfigError turns errors raised while resolving expressions into
// configuration errors for this step.
func (ba *baseAction) wrapConfigError(err error) error {
	if model.IsConfigurationError(err) {
		return err
	}
	return model.NewConfigurationError(ba.id, "%v", err)
}

func ValidateStepType(t model.StepType) error {
	if slices.Contains(model.VALID_STEP_TYPES, t) {
		return nil
	}
	return model.NewConfigurationError("", "invalid step type %q", t)
}

// New builds the handler for step. The payload matching step.Type must be present.
func New(step model.Step, cfg Config) (Action, error) {
	base := newBaseAction(step)
	switch step.Type {
	case model.STEP_TYPE_TOOL:
		if step.Tool == nil {
			return nil, base.configError("tool step requires a tool payload")
		}
		return NewToolAction(*step.Tool, cfg.Tools, base), nil
	case model.STEP_TYPE_LLM:
		if step.LLM == nil {
			return nil, base.configError("llm step requires an llm payload")
		}
		return NewLLMAction(*step.LLM, cfg.LLM, base), nil
	case model.STEP_TYPE_CONDITION:
		if step.Condition == nil {
			return nil, base.configError("condition step requires a condition payload")
		}
		return NewConditionAction(step.Condition.Expression, base), nil
	case model.STEP_TYPE_APPROVAL:
		if step.Approval == nil {
			return nil, base.configError("approval step requires an approval payload")
		}
		return NewApprovalAction(*step.Approval, cfg.DefaultApprovalTTL, base), nil
	case model.STEP_TYPE_TRANSFORM:
		if step.Transform == nil {
			return nil, base.configError("transform step requires a transform payload")
		}
		return NewTransformAction(*step.Transform, cfg.TransformTimeout, base), nil
	}
	return nil, base.configError("invalid step type %q", step.Type)
}
