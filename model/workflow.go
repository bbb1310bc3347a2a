package model

type StepType string

const STEP_TYPE_TOOL StepType = "tool"
const STEP_TYPE_LLM StepType = "llm"
const STEP_TYPE_CONDITION StepType = "condition"
const STEP_TYPE_APPROVAL StepType = "approval"
const STEP_TYPE_TRANSFORM StepType = "transform"

var VALID_STEP_TYPES = []StepType{STEP_TYPE_TOOL, STEP_TYPE_LLM, STEP_TYPE_CONDITION, STEP_TYPE_APPROVAL, STEP_TYPE_TRANSFORM}

const LLM_RESPONSE_TEXT string = "text"
const LLM_RESPONSE_JSON string = "json"

// Workflow is a stored workflow definition. A run keeps its own copy, so
// later edits to the definition never affect runs already started.
type Workflow struct {
	Id          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Version     int            `json:"version" yaml:"version"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger     *Trigger       `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Inputs      WorkflowInputs `json:"inputs" yaml:"inputs"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	Output      string         `json:"output,omitempty" yaml:"output,omitempty"`
}

// Trigger is descriptive only; scheduling runs is left to the caller.
type Trigger struct {
	Type     string `json:"type" yaml:"type"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Event    string `json:"event,omitempty" yaml:"event,omitempty"`
}

type WorkflowInputs struct {
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
	Optional []string `json:"optional,omitempty" yaml:"optional,omitempty"`
}

type Step struct {
	Id              string         `json:"id" yaml:"id"`
	Name            string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type            StepType       `json:"type" yaml:"type"`
	Tool            *ToolStep      `json:"tool,omitempty" yaml:"tool,omitempty"`
	LLM             *LLMStep       `json:"llm,omitempty" yaml:"llm,omitempty"`
	Condition       *ConditionStep `json:"condition,omitempty" yaml:"condition,omitempty"`
	Approval        *ApprovalStep  `json:"approval,omitempty" yaml:"approval,omitempty"`
	Transform       *TransformStep `json:"transform,omitempty" yaml:"transform,omitempty"`
	OnSuccess       string         `json:"onSuccess,omitempty" yaml:"onSuccess,omitempty"`
	OnFailure       string         `json:"onFailure,omitempty" yaml:"onFailure,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
}

type ToolStep struct {
	Tool   string         `json:"tool" yaml:"tool"`
	Action string         `json:"action" yaml:"action"`
	Args   map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

type LLMStep struct {
	Prompt         string `json:"prompt" yaml:"prompt"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	ResponseFormat string `json:"responseFormat,omitempty" yaml:"responseFormat,omitempty"`
}

type ConditionStep struct {
	Expression string `json:"expression" yaml:"expression"`
}

// ApprovalStep suspends the run. Timeout is a Go duration string ("24h");
// Items is either a reference expression or a literal value shown to the approver.
type ApprovalStep struct {
	Prompt  string `json:"prompt" yaml:"prompt"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Items   any    `json:"items,omitempty" yaml:"items,omitempty"`
}

type TransformStep struct {
	Input      string `json:"input" yaml:"input"`
	Output     string `json:"output" yaml:"output"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

func (wf *Workflow) GetStep(id string) *Step {
	for i := range wf.Steps {
		if wf.Steps[i].Id == id {
			return &wf.Steps[i]
		}
	}
	return nil
}

func (wf *Workflow) StepIndex(id string) int {
	for i := range wf.Steps {
		if wf.Steps[i].Id == id {
			return i
		}
	}
	return -1
}

// NextStep returns the step declared after id, or nil when id is the last one.
func (wf *Workflow) NextStep(id string) *Step {
	idx := wf.StepIndex(id)
	if idx < 0 || idx+1 >= len(wf.Steps) {
		return nil
	}
	return &wf.Steps[idx+1]
}
