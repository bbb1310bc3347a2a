package flow

import (
	"context"
	"slices"
	"time"

	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

var transitions = map[model.RunStatus][]model.RunStatus{
	model.PENDING: {model.RUNNING, model.CANCELLED},
	model.RUNNING: {model.PAUSED, model.COMPLETED, model.FAILED, model.CANCELLED},
	model.PAUSED:  {model.RUNNING, model.CANCELLED},
}

func CanTransition(from model.RunStatus, to model.RunStatus) bool {
	return slices.Contains(transitions[from], to)
}

// StateMachine owns one run. Every method applies its change to a copy of
// the run, persists the copy with a single SaveRun, and only then adopts it,
// so the in-memory run always matches what was committed.
type StateMachine struct {
	run     *model.Run
	storage persistence.RunStorage
	encdec  util.EncoderDecoder[model.Run]
	clock   func() time.Time
}

func NewStateMachine(run *model.Run, storage persistence.RunStorage) *StateMachine {
	return &StateMachine{
		run:     run,
		storage: storage,
		encdec:  util.NewJsonEncoderDecoder[model.Run](),
		clock:   time.Now,
	}
}

func (m *StateMachine) WithClock(clock func() time.Time) *StateMachine {
	m.clock = clock
	return m
}

func (m *StateMachine) Run() *model.Run {
	return m.run
}

func (m *StateMachine) Workflow() *model.Workflow {
	return &m.run.Workflow
}

func (m *StateMachine) CurrentStep() *model.Step {
	return m.run.Workflow.GetStep(m.run.State.CurrentStepId)
}

func (m *StateMachine) now() time.Time {
	return m.clock().UTC()
}

func (m *StateMachine) mutate(ctx context.Context, fn func(run *model.Run) error) error {
	next, err := util.Clone[model.Run](m.encdec, *m.run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := m.storage.SaveRun(ctx, next); err != nil {
		logger.Error("error persisting run", zap.String("runId", m.run.Id), zap.Int("version", m.run.Version), zap.Error(err))
		return err
	}
	m.run = next
	return nil
}

func setStatus(run *model.Run, to model.RunStatus) error {
	if !CanTransition(run.Status, to) {
		return model.InvalidTransitionError{RunId: run.Id, From: run.Status, To: to}
	}
	run.Status = to
	return nil
}

// Start moves a pending run to running at its first step. A workflow
// without steps completes right away.
func (m *StateMachine) Start(ctx context.Context) error {
	return m.mutate(ctx, func(run *model.Run) error {
		if err := setStatus(run, model.RUNNING); err != nil {
			return err
		}
		if len(run.Workflow.Steps) == 0 {
			_, err := m.finish(run, Transition{Completed: true})
			return err
		}
		run.State.CurrentStepId = run.Workflow.Steps[0].Id
		return nil
	})
}

// Record appends the result of the current step, applies its variable
// writes and advances the run.
func (m *StateMachine) Record(ctx context.Context, result model.StepResult, variables map[string]any) (Transition, error) {
	var tr Transition
	err := m.mutate(ctx, func(run *model.Run) error {
		if run.Status != model.RUNNING {
			return model.InvalidTransitionError{RunId: run.Id, From: run.Status, To: model.RUNNING}
		}
		var err error
		tr, err = m.advance(run, result, variables)
		return err
	})
	return tr, err
}

// Pause suspends the run at its current step behind gate.
func (m *StateMachine) Pause(ctx context.Context, gate model.ApprovalGate) error {
	return m.mutate(ctx, func(run *model.Run) error {
		if err := setStatus(run, model.PAUSED); err != nil {
			return err
		}
		now := m.now()
		run.ResumeToken = gate.ResumeToken
		run.PendingApproval = &gate
		run.PausedAt = &now
		return nil
	})
}

// Resume clears the gate, records the approval result and advances, all in
// one write.
func (m *StateMachine) Resume(ctx context.Context, result model.StepResult) (Transition, error) {
	var tr Transition
	err := m.mutate(ctx, func(run *model.Run) error {
		if run.PendingApproval == nil || run.PendingApproval.StepId != result.StepId {
			return model.TokenInvalidError{Message: "run is not waiting at step " + result.StepId}
		}
		if err := setStatus(run, model.RUNNING); err != nil {
			return err
		}
		run.ResumeToken = ""
		run.PendingApproval = nil
		run.PausedAt = nil
		var err error
		tr, err = m.advance(run, result, nil)
		return err
	})
	return tr, err
}

// Fail ends the run with cause. result, when given, is appended first.
func (m *StateMachine) Fail(ctx context.Context, result *model.StepResult, cause error) error {
	return m.mutate(ctx, func(run *model.Run) error {
		if result != nil {
			if err := appendResult(run, *result); err != nil {
				return err
			}
		}
		if run.Status == model.PENDING {
			if err := setStatus(run, model.RUNNING); err != nil {
				return err
			}
		}
		_, err := m.finish(run, Transition{Failed: true, Error: cause.Error()})
		return err
	})
}

// Cancel ends a non terminal run and invalidates its resume token.
func (m *StateMachine) Cancel(ctx context.Context, reason string) error {
	return m.mutate(ctx, func(run *model.Run) error {
		if err := setStatus(run, model.CANCELLED); err != nil {
			return err
		}
		now := m.now()
		if reason == "" {
			reason = "cancelled"
		}
		run.Error = reason
		run.ResumeToken = ""
		run.PendingApproval = nil
		run.CompletedAt = &now
		return nil
	})
}

// Refresh reloads the run and reports whether someone else changed it.
// The stored copy is adopted either way.
func (m *StateMachine) Refresh(ctx context.Context) (bool, error) {
	latest, err := m.storage.LoadRun(ctx, m.run.Id)
	if err != nil {
		return false, err
	}
	changed := latest.Version != m.run.Version
	m.run = latest
	return changed, nil
}

func appendResult(run *model.Run, result model.StepResult) error {
	if _, ok := run.State.StepResults[result.StepId]; ok {
		return model.NewConfigurationError(result.StepId, "step already has a result, re-execution is not supported")
	}
	if run.State.StepResults == nil {
		run.State.StepResults = make(map[string]model.StepResult)
	}
	run.State.StepResults[result.StepId] = result
	run.State.StepOrder = append(run.State.StepOrder, result.StepId)
	return nil
}

func (m *StateMachine) advance(run *model.Run, result model.StepResult, variables map[string]any) (Transition, error) {
	step := run.Workflow.GetStep(result.StepId)
	if step == nil || run.State.CurrentStepId != result.StepId {
		return Transition{}, model.NewConfigurationError(result.StepId, "result does not belong to current step %q", run.State.CurrentStepId)
	}
	if err := appendResult(run, result); err != nil {
		return Transition{}, err
	}
	if len(variables) > 0 {
		if run.State.Variables == nil {
			run.State.Variables = make(map[string]any)
		}
		for k, v := range variables {
			run.State.Variables[k] = v
		}
	}
	if result.Status == model.STEP_SUCCESS && result.Output != nil && producesOutput(step.Type) {
		run.Output = result.Output
	}

	tr, err := Next(&run.Workflow, step, result)
	if err != nil {
		tr = Transition{Failed: true, Error: err.Error()}
	} else if tr.NextStepId != "" {
		if _, done := run.State.StepResults[tr.NextStepId]; done {
			cfgErr := model.NewConfigurationError(step.Id, "jump to %q which already ran, re-execution is not supported", tr.NextStepId)
			tr = Transition{Failed: true, Error: cfgErr.Error()}
		}
	}
	if tr.IsTerminal() {
		return m.finish(run, tr)
	}
	run.State.CurrentStepId = tr.NextStepId
	return tr, nil
}

func producesOutput(t model.StepType) bool {
	return t == model.STEP_TYPE_TOOL || t == model.STEP_TYPE_LLM || t == model.STEP_TYPE_TRANSFORM
}

func (m *StateMachine) finish(run *model.Run, tr Transition) (Transition, error) {
	now := m.now()
	if tr.Completed && run.Workflow.Output != "" {
		out, err := expression.Resolve(run.Workflow.Output, expression.NewContext(run))
		if err != nil {
			tr = Transition{Failed: true, Error: model.NewConfigurationError("", "workflow output: %v", err).Error()}
		} else {
			run.Output = out
		}
	}
	status := model.COMPLETED
	if tr.Failed {
		status = model.FAILED
		run.Error = tr.Error
	}
	if err := setStatus(run, status); err != nil {
		return tr, err
	}
	run.State.CurrentStepId = ""
	run.CompletedAt = &now
	return tr, nil
}
