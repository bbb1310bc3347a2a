package gate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/mohitkumar/stepflow/action"
	"github.com/mohitkumar/stepflow/flow"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"go.uber.org/zap"
)

// tokenBytes gives 256 bits of entropy per resume token.
const tokenBytes = 32

const ExpiredComment = "approval expired"

func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate resume token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Manager owns approval gates: it mints tokens when a run suspends and
// validates them when someone answers.
type Manager struct {
	storage persistence.RunStorage
	clock   func() time.Time
}

func NewManager(storage persistence.RunStorage) *Manager {
	return &Manager{
		storage: storage,
		clock:   time.Now,
	}
}

func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// RequestApproval creates a gate for req and pauses the run behind it.
func (m *Manager) RequestApproval(ctx context.Context, machine *flow.StateMachine, req *action.ApprovalRequest) (*model.ApprovalGate, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := m.clock().UTC()
	gate := model.ApprovalGate{
		RunId:       machine.Run().Id,
		StepId:      req.StepId,
		Prompt:      req.Prompt,
		Items:       req.Items,
		ResumeToken: token,
		RequestedAt: now,
	}
	if req.TTL > 0 {
		expiresAt := now.Add(req.TTL)
		gate.ExpiresAt = &expiresAt
	}
	if err := machine.Pause(ctx, gate); err != nil {
		return nil, err
	}
	logger.Info("approval requested", zap.String("runId", gate.RunId), zap.String("step", gate.StepId), zap.Timep("expiresAt", gate.ExpiresAt))
	return machine.Run().PendingApproval, nil
}

// Resume answers the gate identified by token. Unknown tokens, tokens of
// runs no longer waiting, and losing a concurrent resume all yield
// TokenInvalidError; a token past its expiry yields TokenExpiredError. In
// every error case the run is left as it was.
func (m *Manager) Resume(ctx context.Context, token string, approved bool, comment string) (*flow.StateMachine, flow.Transition, error) {
	if token == "" {
		return nil, flow.Transition{}, model.TokenInvalidError{Message: "empty token"}
	}
	run, err := m.storage.FindRunByResumeToken(ctx, token)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, flow.Transition{}, model.TokenInvalidError{Message: "unknown token"}
		}
		return nil, flow.Transition{}, err
	}
	gate := run.PendingApproval
	if gate == nil || gate.ResumeToken != token || run.ResumeToken != token {
		return nil, flow.Transition{}, model.TokenInvalidError{Message: "token does not match a pending approval"}
	}
	now := m.clock().UTC()
	if gate.IsExpired(now) {
		return nil, flow.Transition{}, model.TokenExpiredError{RunId: run.Id, StepId: gate.StepId}
	}
	if run.Status != model.PAUSED || run.State.CurrentStepId != gate.StepId {
		return nil, flow.Transition{}, model.TokenInvalidError{Message: fmt.Sprintf("run %s is not paused at step %s", run.Id, gate.StepId)}
	}
	return m.answer(ctx, run, approved, comment, "approval rejected")
}

// Expire resolves an expired gate as rejected so the run can move on.
func (m *Manager) Expire(ctx context.Context, run *model.Run) (*flow.StateMachine, flow.Transition, error) {
	gate := run.PendingApproval
	if run.Status != model.PAUSED || gate == nil {
		return nil, flow.Transition{}, model.TokenInvalidError{Message: fmt.Sprintf("run %s has no pending approval", run.Id)}
	}
	if !gate.IsExpired(m.clock().UTC()) {
		return nil, flow.Transition{}, fmt.Errorf("approval of run %s has not expired", run.Id)
	}
	return m.answer(ctx, run, false, ExpiredComment, ExpiredComment)
}

func (m *Manager) answer(ctx context.Context, run *model.Run, approved bool, comment string, rejection string) (*flow.StateMachine, flow.Transition, error) {
	gate := run.PendingApproval
	now := m.clock().UTC()
	result := model.StepResult{
		StepId:      gate.StepId,
		Status:      model.STEP_SUCCESS,
		Output:      map[string]any{"approved": approved, "comment": comment, "items": gate.Items},
		StartedAt:   gate.RequestedAt,
		CompletedAt: now,
		Duration:    now.Sub(gate.RequestedAt),
	}
	if !approved {
		result.Status = model.STEP_FAILURE
		result.Error = rejection
	}
	machine := flow.NewStateMachine(run, m.storage).WithClock(m.clock)
	tr, err := machine.Resume(ctx, result)
	if err != nil {
		if persistence.IsConflict(err) {
			return nil, flow.Transition{}, model.TokenInvalidError{Message: "run was resumed or changed concurrently"}
		}
		return nil, flow.Transition{}, err
	}
	logger.Info("approval received", zap.String("runId", run.Id), zap.String("step", gate.StepId), zap.Bool("approved", approved))
	return machine, tr, nil
}
