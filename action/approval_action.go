package action

import (
	"context"
	"strings"
	"time"

	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/model"
)

var _ Action = new(approvalAction)

const defaultApprovalPrompt = "Approval required"

type approvalAction struct {
	baseAction
	params     model.ApprovalStep
	defaultTTL time.Duration
}

func NewApprovalAction(params model.ApprovalStep, defaultTTL time.Duration, bAction baseAction) *approvalAction {
	return &approvalAction{
		baseAction: bAction,
		params:     params,
		defaultTTL: defaultTTL,
	}
}

func (aa *approvalAction) Validate() error {
	if _, err := aa.ttl(); err != nil {
		return err
	}
	if items, ok := aa.params.Items.(string); ok && strings.HasPrefix(strings.TrimSpace(items), "$") && !expression.IsReference(items) {
		return aa.configError("items %q is not a valid reference", items)
	}
	return nil
}

func (aa *approvalAction) ttl() (time.Duration, error) {
	if aa.params.Timeout == "" {
		return aa.defaultTTL, nil
	}
	d, err := time.ParseDuration(aa.params.Timeout)
	if err != nil || d <= 0 {
		return 0, aa.configError("timeout %q should be a positive duration like 24h", aa.params.Timeout)
	}
	return d, nil
}

// Execute never completes the step. It asks the caller to suspend the run
// until a human answers.
func (aa *approvalAction) Execute(ctx context.Context, execCtx *ExecutionContext) (*Outcome, error) {
	ttl, err := aa.ttl()
	if err != nil {
		return nil, err
	}
	prompt := expression.Interpolate(aa.params.Prompt, execCtx.Expr)
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultApprovalPrompt
	}
	var items any
	switch v := aa.params.Items.(type) {
	case nil:
	case string:
		if expression.IsReference(v) {
			items, err = expression.Resolve(v, execCtx.Expr)
			if err != nil {
				return nil, aa.wrapConfigError(err)
			}
		} else {
			items = expression.Interpolate(v, execCtx.Expr)
		}
	default:
		items, err = expression.ResolveValue(v, execCtx.Expr)
		if err != nil {
			return nil, aa.wrapConfigError(err)
		}
	}
	return &Outcome{
		Status: model.STEP_PENDING,
		Approval: &ApprovalRequest{
			StepId: aa.id,
			Prompt: prompt,
			Items:  items,
			TTL:    ttl,
		},
	}, nil
}
