package action

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/model"
)

var _ Action = new(llmAction)

type llmAction struct {
	baseAction
	params model.LLMStep
	llm    LLMInvoker
}

func NewLLMAction(params model.LLMStep, llm LLMInvoker, bAction baseAction) *llmAction {
	return &llmAction{
		baseAction: bAction,
		params:     params,
		llm:        llm,
	}
}

func (la *llmAction) Validate() error {
	if strings.TrimSpace(la.params.Prompt) == "" {
		return la.configError("prompt can not be empty")
	}
	switch la.params.ResponseFormat {
	case "", model.LLM_RESPONSE_TEXT, model.LLM_RESPONSE_JSON:
		return nil
	}
	return la.configError("responseFormat should be %s or %s", model.LLM_RESPONSE_TEXT, model.LLM_RESPONSE_JSON)
}

func (la *llmAction) Execute(ctx context.Context, execCtx *ExecutionContext) (*Outcome, error) {
	prompt := expression.Interpolate(la.params.Prompt, execCtx.Expr)
	if execCtx.DryRun {
		return &Outcome{
			Status: model.STEP_SUCCESS,
			Output: map[string]any{"dryRun": true, "prompt": prompt, "model": la.params.Model},
		}, nil
	}
	if la.llm == nil {
		return nil, model.StepExecutionError{StepId: la.id, Cause: errors.New("no llm invoker configured")}
	}
	text, err := la.llm.Complete(ctx, prompt, la.params.Model)
	if err != nil {
		return nil, model.StepExecutionError{StepId: la.id, Cause: err}
	}
	if la.params.ResponseFormat != model.LLM_RESPONSE_JSON {
		return &Outcome{Status: model.STEP_SUCCESS, Output: text}, nil
	}
	output := map[string]any{"raw": text}
	if parsed, ok := parseJSONLoose(text); ok {
		output["parsed"] = parsed
	}
	return &Outcome{Status: model.STEP_SUCCESS, Output: output}, nil
}

// parseJSONLoose tolerates markdown fences and prose around a JSON document.
func parseJSONLoose(text string) (any, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out, true
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start < 0 || end <= start {
			continue
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &out); err == nil {
			return out, true
		}
	}
	return nil, false
}
