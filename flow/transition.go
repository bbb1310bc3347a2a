package flow

import (
	"fmt"

	"github.com/mohitkumar/stepflow/model"
)

// Transition is where a run goes after a step result.
type Transition struct {
	NextStepId string
	Completed  bool
	Failed     bool
	Error      string
}

func (t Transition) IsTerminal() bool {
	return t.Completed || t.Failed
}

// Next decides the step after step given its result:
//
//	success  onSuccess, else the next declared step
//	skipped  onFailure, else the next declared step
//	failure  onFailure, else (with continueOnError) as success, else fail
//
// Walking past the last step completes the run. A jump to a step that does
// not exist is a configuration error.
func Next(wf *model.Workflow, step *model.Step, result model.StepResult) (Transition, error) {
	var target string
	switch result.Status {
	case model.STEP_SUCCESS:
		target = step.OnSuccess
	case model.STEP_SKIPPED:
		target = step.OnFailure
	case model.STEP_FAILURE:
		switch {
		case step.OnFailure != "":
			target = step.OnFailure
		case step.ContinueOnError:
			target = step.OnSuccess
		default:
			msg := result.Error
			if msg == "" {
				msg = "step failed"
			}
			return Transition{Failed: true, Error: fmt.Sprintf("step %s failed: %s", step.Id, msg)}, nil
		}
	default:
		return Transition{}, model.NewConfigurationError(step.Id, "status %q can not advance a run", result.Status)
	}
	if target != "" {
		if wf.GetStep(target) == nil {
			return Transition{}, model.NewConfigurationError(step.Id, "unknown jump target %q", target)
		}
		return Transition{NextStepId: target}, nil
	}
	if next := wf.NextStep(step.Id); next != nil {
		return Transition{NextStepId: next.Id}, nil
	}
	return Transition{Completed: true}, nil
}
