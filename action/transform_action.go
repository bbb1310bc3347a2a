package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
)

var _ Action = new(transformAction)

const defaultTransformTimeout = time.Second

var reservedNames = []string{"input", "output", "variables"}

type transformAction struct {
	baseAction
	params  model.TransformStep
	timeout time.Duration
}

func NewTransformAction(params model.TransformStep, timeout time.Duration, bAction baseAction) *transformAction {
	if timeout <= 0 {
		timeout = defaultTransformTimeout
	}
	return &transformAction{
		baseAction: bAction,
		params:     params,
		timeout:    timeout,
	}
}

func (t *transformAction) Validate() error {
	out := strings.TrimSpace(t.params.Output)
	if out == "" {
		return t.configError("output variable can not be empty")
	}
	if err := expression.ValidateReference("$" + out); err != nil || strings.ContainsAny(out, ".[") {
		return t.configError("output %q should be a plain variable name", out)
	}
	for _, name := range reservedNames {
		if out == name {
			return t.configError("output %q is a reserved name", out)
		}
	}
	if in := strings.TrimSpace(t.params.Input); in == "" && strings.TrimSpace(t.params.Expression) == "" {
		return t.configError("transform needs an input or an expression")
	}
	if strings.TrimSpace(t.params.Expression) != "" {
		if _, err := goja.Compile(t.id, t.params.Expression, false); err != nil {
			return t.configError("expression does not compile: %v", err)
		}
	}
	return nil
}

// Execute binds the input as both $ and input, and the run variables as
// vars, then evaluates the expression. Its completion value is written to
// the output variable.
func (t *transformAction) Execute(ctx context.Context, execCtx *ExecutionContext) (*Outcome, error) {
	var input any
	if strings.TrimSpace(t.params.Input) != "" {
		var err error
		input, err = expression.ResolveValue(t.params.Input, execCtx.Expr)
		if err != nil {
			return nil, t.wrapConfigError(err)
		}
	}
	value := input
	if strings.TrimSpace(t.params.Expression) != "" {
		var err error
		value, err = t.run(ctx, input, execCtx.Expr.Variables)
		if err != nil {
			return nil, err
		}
	}
	value, err := normalize(value)
	if err != nil {
		return nil, model.StepExecutionError{StepId: t.id, Cause: err}
	}
	return &Outcome{
		Status:    model.STEP_SUCCESS,
		Output:    value,
		Variables: map[string]any{strings.TrimSpace(t.params.Output): value},
	}, nil
}

func (t *transformAction) run(ctx context.Context, input any, vars map[string]any) (any, error) {
	program, err := goja.Compile(t.id, t.params.Expression, false)
	if err != nil {
		return nil, t.configError("expression does not compile: %v", err)
	}
	inputJson, err := json.Marshal(input)
	if err != nil {
		return nil, model.StepExecutionError{StepId: t.id, Cause: err}
	}
	varsJson, err := json.Marshal(vars)
	if err != nil {
		return nil, model.StepExecutionError{StepId: t.id, Cause: err}
	}
	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;\nvar input = $;\nvar vars = %s || {};\n", inputJson, varsJson)); err != nil {
		return nil, model.StepExecutionError{StepId: t.id, Cause: err}
	}

	timer := time.AfterFunc(t.timeout, func() {
		vm.Interrupt("transform timed out")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("context done")
	})
	defer stop()

	val, err := vm.RunProgram(program)
	if err != nil {
		logger.Debug("transform failed", zap.String("step", t.id), zap.Error(err))
		return nil, model.StepExecutionError{StepId: t.id, Cause: fmt.Errorf("error executing javascript: %w", err)}
	}
	return val.Export(), nil
}

// normalize converts a value to plain JSON types so it is stored the same
// way regardless of backend.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
