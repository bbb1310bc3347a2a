package action

import (
	"context"
	"errors"
	"strings"

	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
)

var _ Action = new(toolAction)

type toolAction struct {
	baseAction
	params model.ToolStep
	tools  ToolInvoker
}

func NewToolAction(params model.ToolStep, tools ToolInvoker, bAction baseAction) *toolAction {
	return &toolAction{
		baseAction: bAction,
		params:     params,
		tools:      tools,
	}
}

func (ta *toolAction) Validate() error {
	if strings.TrimSpace(ta.params.Tool) == "" {
		return ta.configError("tool can not be empty")
	}
	if strings.TrimSpace(ta.params.Action) == "" {
		return ta.configError("action can not be empty")
	}
	return nil
}

func (ta *toolAction) Execute(ctx context.Context, execCtx *ExecutionContext) (*Outcome, error) {
	args, err := expression.ResolveArgs(ta.params.Args, execCtx.Expr)
	if err != nil {
		return nil, ta.wrapConfigError(err)
	}
	if execCtx.DryRun {
		return &Outcome{
			Status: model.STEP_SUCCESS,
			Output: map[string]any{"dryRun": true, "tool": ta.params.Tool, "action": ta.params.Action, "args": args},
		}, nil
	}
	if ta.tools == nil {
		return nil, model.StepExecutionError{StepId: ta.id, Cause: errors.New("no tool invoker configured")}
	}
	logger.Debug("invoking tool", zap.String("tool", ta.params.Tool), zap.String("action", ta.params.Action), zap.String("runId", execCtx.RunId), zap.String("step", ta.id))
	res, err := ta.tools.Invoke(ctx, ToolCall{
		Tool:   ta.params.Tool,
		Action: ta.params.Action,
		Args:   args,
		Caller: execCtx.caller(ta.id),
	})
	if err != nil {
		return nil, model.StepExecutionError{StepId: ta.id, Cause: err}
	}
	if res == nil {
		return nil, model.StepExecutionError{StepId: ta.id, Cause: errors.New("tool returned no result")}
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return &Outcome{Status: model.STEP_FAILURE, Output: res.Output, Error: msg}, nil
	}
	return &Outcome{Status: model.STEP_SUCCESS, Output: res.Output}, nil
}
