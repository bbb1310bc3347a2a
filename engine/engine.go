package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/stepflow/action"
	"github.com/mohitkumar/stepflow/analytics"
	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/flow"
	"github.com/mohitkumar/stepflow/gate"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

// cancelAttempts bounds how often Cancel reloads a run that a driver keeps
// advancing underneath it.
const cancelAttempts = 5

// Engine drives runs. It holds no per-run state between calls: everything
// needed to continue a run lives in storage.
type Engine struct {
	metadataService metadata.MetadataService
	storage         persistence.RunStorage
	dispatcher      *action.Dispatcher
	gates           *gate.Manager
	events          analytics.EventSink
	clock           func() time.Time
	encdec          util.EncoderDecoder[model.Workflow]
}

func NewEngine(metadataService metadata.MetadataService, storage persistence.RunStorage, actionCfg action.Config, events analytics.EventSink) *Engine {
	if events == nil {
		events = analytics.NopSink{}
	}
	return &Engine{
		metadataService: metadataService,
		storage:         storage,
		dispatcher:      action.NewDispatcher(actionCfg),
		gates:           gate.NewManager(storage),
		events:          events,
		clock:           time.Now,
		encdec:          util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.dispatcher.WithClock(clock)
	e.gates.WithClock(clock)
	return e
}

// Execute starts a new run of the workflow and drives it until it completes,
// fails or pauses. Failures of the run are reported in the result; an error
// is returned only when the definition is missing or storage fails.
func (e *Engine) Execute(ctx context.Context, req model.WorkflowRunRequest) (*model.ExecutionResult, error) {
	wf, err := e.metadataService.GetWorkflow(ctx, req.WorkflowId)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	run, err := e.newRun(wf, req)
	if err != nil {
		return nil, err
	}
	if err := e.storage.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	logger.Info("run created", zap.String("runId", run.Id), zap.String("workflow", wf.Id), zap.Bool("dryRun", req.DryRun))
	machine := e.newMachine(run)

	if missing := missingInputs(wf, req.Input); len(missing) > 0 {
		cause := model.NewConfigurationError("", "missing required input %v", missing)
		if err := machine.Fail(ctx, nil, cause); err != nil {
			return nil, err
		}
		e.emitFinished(machine.Run())
		return model.NewExecutionResult(machine.Run()), nil
	}

	if err := machine.Start(ctx); err != nil {
		return nil, err
	}
	e.emit(analytics.WORKFLOW_STARTED, machine.Run(), "", map[string]any{"userId": req.UserId, "dryRun": req.DryRun})
	if machine.Run().Status.IsTerminal() {
		e.emitFinished(machine.Run())
		return model.NewExecutionResult(machine.Run()), nil
	}
	return e.drive(ctx, machine)
}

// Resume answers the approval gate behind token and continues the run from
// the step the answer leads to.
func (e *Engine) Resume(ctx context.Context, req model.WorkflowResumeRequest) (*model.ExecutionResult, error) {
	machine, tr, err := e.gates.Resume(ctx, req.ResumeToken, req.Approved, req.Comment)
	if err != nil {
		logger.Info("resume rejected", zap.Error(err))
		return nil, err
	}
	run := machine.Run()
	stepId := lastStep(run)
	e.emit(analytics.APPROVAL_RECEIVED, run, stepId, map[string]any{"approved": req.Approved, "comment": req.Comment})
	e.emit(analytics.WORKFLOW_RESUMED, run, stepId, nil)
	e.emitStepResult(run, stepId)
	if tr.IsTerminal() {
		e.emitFinished(run)
		return model.NewExecutionResult(run), nil
	}
	return e.drive(ctx, machine)
}

// Cancel ends a run that has not finished yet. A paused run's token stops
// working; a running run stops before its next step.
func (e *Engine) Cancel(ctx context.Context, runId string, reason string) (*model.ExecutionResult, error) {
	var lastErr error
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		run, err := e.storage.LoadRun(ctx, runId)
		if err != nil {
			return nil, err
		}
		machine := e.newMachine(run)
		err = machine.Cancel(ctx, reason)
		if err == nil {
			logger.Info("run cancelled", zap.String("runId", runId), zap.String("reason", reason))
			e.emit(analytics.WORKFLOW_CANCELLED, machine.Run(), "", map[string]any{"reason": machine.Run().Error})
			return model.NewExecutionResult(machine.Run()), nil
		}
		if !persistence.IsConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Continue picks up a running run whose driver went away, from its last
// committed step.
func (e *Engine) Continue(ctx context.Context, runId string) (*model.ExecutionResult, error) {
	run, err := e.storage.LoadRun(ctx, runId)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RUNNING {
		return nil, model.InvalidTransitionError{RunId: run.Id, From: run.Status, To: model.RUNNING}
	}
	logger.Info("continuing run", zap.String("runId", run.Id), zap.String("step", run.State.CurrentStepId))
	return e.drive(ctx, e.newMachine(run))
}

func (e *Engine) GetRun(ctx context.Context, runId string) (*model.Run, error) {
	return e.storage.LoadRun(ctx, runId)
}

// ProcessExpiredApprovals rejects up to limit gates whose expiry has passed
// and continues their runs. It returns how many gates it resolved. ctx bounds
// the lookup only; resolved runs are driven to completion regardless.
func (e *Engine) ProcessExpiredApprovals(ctx context.Context, limit int) (int, error) {
	runs, err := e.storage.FindExpiredApprovals(ctx, e.clock().UTC(), limit)
	if err != nil {
		return 0, err
	}
	ctx = context.WithoutCancel(ctx)
	resolved := 0
	for _, run := range runs {
		machine, tr, err := e.gates.Expire(ctx, run)
		if err != nil {
			logger.Info("skipping expired approval", zap.String("runId", run.Id), zap.Error(err))
			continue
		}
		resolved++
		current := machine.Run()
		stepId := lastStep(current)
		e.emit(analytics.APPROVAL_RECEIVED, current, stepId, map[string]any{"approved": false, "expired": true})
		e.emit(analytics.WORKFLOW_RESUMED, current, stepId, nil)
		e.emitStepResult(current, stepId)
		if tr.IsTerminal() {
			e.emitFinished(current)
			continue
		}
		if _, err := e.drive(ctx, machine); err != nil {
			logger.Error("error continuing run after approval expiry", zap.String("runId", run.Id), zap.Error(err))
		}
	}
	return resolved, nil
}

// drive runs steps until the run leaves the running state. Cancellation of
// ctx is ignored so a started run always reaches a resting state.
func (e *Engine) drive(ctx context.Context, machine *flow.StateMachine) (*model.ExecutionResult, error) {
	ctx = context.WithoutCancel(ctx)
	for machine.Run().Status == model.RUNNING {
		version := machine.Run().Version
		changed, err := machine.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		if changed {
			if machine.Run().Status == model.CANCELLED {
				logger.Info("run was cancelled, stopping", zap.String("runId", machine.Run().Id))
				break
			}
			return nil, persistence.ConflictError{RunId: machine.Run().Id, Expected: version}
		}

		run := machine.Run()
		step := machine.CurrentStep()
		if step == nil {
			cause := model.NewConfigurationError(run.State.CurrentStepId, "step %q not defined", run.State.CurrentStepId)
			if err := machine.Fail(ctx, nil, cause); err != nil {
				return e.afterConflict(ctx, run.Id, err)
			}
			e.emitFinished(machine.Run())
			break
		}

		e.emit(analytics.STEP_STARTED, run, step.Id, map[string]any{"type": string(step.Type)})
		res, err := e.dispatcher.ExecuteStep(ctx, step, e.executionContext(run))
		if err != nil {
			if !model.IsConfigurationError(err) {
				return nil, err
			}
			now := e.clock()
			failed := model.StepResult{StepId: step.Id, Status: model.STEP_FAILURE, Error: err.Error(), StartedAt: now, CompletedAt: now}
			if err := machine.Fail(ctx, &failed, err); err != nil {
				return e.afterConflict(ctx, run.Id, err)
			}
			e.emitStepResult(machine.Run(), step.Id)
			e.emitFinished(machine.Run())
			break
		}

		if res.IsPending() {
			pending, err := e.gates.RequestApproval(ctx, machine, res.Approval)
			if err != nil {
				return e.afterConflict(ctx, run.Id, err)
			}
			e.emit(analytics.APPROVAL_REQUESTED, machine.Run(), step.Id, map[string]any{"prompt": pending.Prompt, "expiresAt": pending.ExpiresAt})
			e.emit(analytics.WORKFLOW_PAUSED, machine.Run(), step.Id, nil)
			break
		}

		tr, err := machine.Record(ctx, res.StepResult, res.Variables)
		if err != nil {
			return e.afterConflict(ctx, run.Id, err)
		}
		e.emitStepResult(machine.Run(), step.Id)
		if tr.IsTerminal() {
			e.emitFinished(machine.Run())
		}
	}
	return model.NewExecutionResult(machine.Run()), nil
}

// afterConflict handles a failed write. When the run was cancelled while a
// step was in flight the step's result is dropped and the cancelled run is
// reported; any other error is returned.
func (e *Engine) afterConflict(ctx context.Context, runId string, err error) (*model.ExecutionResult, error) {
	if !persistence.IsConflict(err) {
		return nil, err
	}
	latest, loadErr := e.storage.LoadRun(ctx, runId)
	if loadErr != nil {
		return nil, err
	}
	if latest.Status == model.CANCELLED {
		logger.Info("discarding step result of cancelled run", zap.String("runId", runId))
		return model.NewExecutionResult(latest), nil
	}
	return nil, err
}

func (e *Engine) newMachine(run *model.Run) *flow.StateMachine {
	return flow.NewStateMachine(run, e.storage).WithClock(e.clock)
}

func (e *Engine) newRun(wf *model.Workflow, req model.WorkflowRunRequest) (*model.Run, error) {
	// the run keeps its own copy of the definition
	frozen, err := util.Clone[model.Workflow](e.encdec, *wf)
	if err != nil {
		return nil, fmt.Errorf("copy workflow %s: %w", wf.Id, err)
	}
	variables := make(map[string]any, len(frozen.Variables)+len(req.Input))
	for k, v := range frozen.Variables {
		variables[k] = v
	}
	for k, v := range req.Input {
		variables[k] = v
	}
	input := req.Input
	if input == nil {
		input = make(map[string]any)
	}
	now := e.clock().UTC()
	return &model.Run{
		Id:         uuid.NewString(),
		WorkflowId: wf.Id,
		UserId:     req.UserId,
		Workflow:   *frozen,
		Status:     model.PENDING,
		State:      model.NewRunState(variables),
		Input:      input,
		DryRun:     req.DryRun,
		StartedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (e *Engine) executionContext(run *model.Run) *action.ExecutionContext {
	return &action.ExecutionContext{
		RunId:      run.Id,
		WorkflowId: run.WorkflowId,
		UserId:     run.UserId,
		DryRun:     run.DryRun,
		Expr:       expression.NewContext(run),
	}
}

func missingInputs(wf *model.Workflow, input map[string]any) []string {
	var missing []string
	for _, name := range wf.Inputs.Required {
		if v, ok := input[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func lastStep(run *model.Run) string {
	if n := len(run.State.StepOrder); n > 0 {
		return run.State.StepOrder[n-1]
	}
	return ""
}

func (e *Engine) emit(eventType analytics.EventType, run *model.Run, stepId string, data map[string]any) {
	e.events.Emit(analytics.NewEvent(eventType, run.Id, run.WorkflowId, stepId, data))
}

func (e *Engine) emitStepResult(run *model.Run, stepId string) {
	res, ok := run.GetStepResult(stepId)
	if !ok {
		return
	}
	data := map[string]any{"durationMs": res.Duration.Milliseconds()}
	eventType := analytics.STEP_COMPLETED
	switch res.Status {
	case model.STEP_FAILURE:
		eventType = analytics.STEP_FAILED
		data["error"] = res.Error
	case model.STEP_SKIPPED:
		eventType = analytics.STEP_SKIPPED
	}
	e.emit(eventType, run, stepId, data)
}

func (e *Engine) emitFinished(run *model.Run) {
	switch run.Status {
	case model.COMPLETED:
		logger.Info("run completed", zap.String("runId", run.Id), zap.String("workflow", run.WorkflowId))
		e.emit(analytics.WORKFLOW_COMPLETED, run, "", nil)
	case model.FAILED:
		logger.Info("run failed", zap.String("runId", run.Id), zap.String("workflow", run.WorkflowId), zap.String("error", run.Error))
		e.emit(analytics.WORKFLOW_FAILED, run, "", map[string]any{"error": run.Error})
	}
}
