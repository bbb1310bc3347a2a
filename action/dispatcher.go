package action

import (
	"context"
	"fmt"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
)

// Result is what the dispatcher hands back for one step.
type Result struct {
	StepResult model.StepResult
	Variables  map[string]any
	Approval   *ApprovalRequest
}

func (r *Result) IsPending() bool {
	return r.Approval != nil
}

type Dispatcher struct {
	config Config
	clock  func() time.Time
}

func NewDispatcher(config Config) *Dispatcher {
	return &Dispatcher{
		config: config,
		clock:  time.Now,
	}
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// ExecuteStep runs exactly one step. Runtime failures, including panics in a
// handler, come back as a failure StepResult; only configuration errors are
// returned as errors.
func (d *Dispatcher) ExecuteStep(ctx context.Context, step *model.Step, execCtx *ExecutionContext) (*Result, error) {
	act, err := New(*step, d.config)
	if err != nil {
		return nil, err
	}
	if err := act.Validate(); err != nil {
		return nil, err
	}
	fields := []zap.Field{zap.String("runId", execCtx.RunId), zap.String("step", act.GetId()), zap.String("name", act.GetName()), zap.String("type", string(act.GetType()))}
	logger.Debug("executing step", fields...)
	startedAt := d.clock()
	outcome, err := d.safeExecute(ctx, act, execCtx)
	completedAt := d.clock()
	if err != nil {
		if model.IsConfigurationError(err) {
			logger.Error("configuration error in step", append(fields, zap.Error(err))...)
			return nil, err
		}
		logger.Info("step failed", append(fields, zap.Error(err))...)
		outcome = &Outcome{Status: model.STEP_FAILURE, Error: err.Error()}
	}
	return &Result{
		StepResult: model.StepResult{
			StepId:      step.Id,
			Status:      outcome.Status,
			Output:      outcome.Output,
			Error:       outcome.Error,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
			Duration:    completedAt.Sub(startedAt),
		},
		Variables: outcome.Variables,
		Approval:  outcome.Approval,
	}, nil
}

func (d *Dispatcher) safeExecute(ctx context.Context, act Action, execCtx *ExecutionContext) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in step handler", zap.String("step", act.GetId()), zap.Any("panic", r))
			outcome = nil
			err = model.StepExecutionError{StepId: act.GetId(), Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	outcome, err = act.Execute(ctx, execCtx)
	if err == nil && outcome == nil {
		err = model.StepExecutionError{StepId: act.GetId(), Cause: fmt.Errorf("no outcome")}
	}
	return outcome, err
}
