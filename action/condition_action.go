package action

import (
	"context"
	"strings"

	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/model"
)

var _ Action = new(conditionAction)

type conditionAction struct {
	baseAction
	expression string
}

func NewConditionAction(expression string, bAction baseAction) *conditionAction {
	return &conditionAction{
		baseAction: bAction,
		expression: expression,
	}
}

func (ca *conditionAction) Validate() error {
	if strings.TrimSpace(ca.expression) == "" {
		return ca.configError("expression can not be empty")
	}
	if err := expression.Validate(ca.expression); err != nil {
		return ca.wrapConfigError(err)
	}
	return nil
}

// Execute succeeds when the expression holds and is skipped otherwise.
func (ca *conditionAction) Execute(ctx context.Context, execCtx *ExecutionContext) (*Outcome, error) {
	ok, err := expression.Evaluate(ca.expression, execCtx.Expr)
	if err != nil {
		return nil, ca.wrapConfigError(err)
	}
	if ok {
		return &Outcome{Status: model.STEP_SUCCESS, Output: map[string]any{"result": true}}, nil
	}
	return &Outcome{Status: model.STEP_SKIPPED, Output: map[string]any{"result": false}}, nil
}
