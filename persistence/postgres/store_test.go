package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("STEPFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STEPFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, dsn, 4)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func pausedRun(id string, token string, expiresAt time.Time) *model.Run {
	return &model.Run{
		Id:          id,
		WorkflowId:  "wf",
		Status:      model.PAUSED,
		State:       model.NewRunState(nil),
		ResumeToken: token,
		PendingApproval: &model.ApprovalGate{
			RunId:       id,
			StepId:      "approve",
			ResumeToken: token,
			ExpiresAt:   &expiresAt,
		},
	}
}

func TestPgRunStorage(t *testing.T) {
	store := NewPgRunStorage(testPool(t))
	ctx := context.Background()
	id := uuid.NewString()
	token := uuid.NewString()

	run := &model.Run{Id: id, WorkflowId: "wf", Status: model.RUNNING, State: model.NewRunState(nil)}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.True(t, persistence.IsConflict(store.CreateRun(ctx, run)))

	stale, err := store.LoadRun(ctx, id)
	require.NoError(t, err)

	run.Status = model.PAUSED
	run.ResumeToken = token
	run.PendingApproval = &model.ApprovalGate{RunId: id, StepId: "approve", ResumeToken: token}
	require.NoError(t, store.SaveRun(ctx, run))
	assert.Equal(t, 1, run.Version)
	assert.True(t, persistence.IsConflict(store.SaveRun(ctx, stale)))

	found, err := store.FindRunByResumeToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, id, found.Id)
	assert.Equal(t, 1, found.Version)

	_, err = store.FindRunByResumeToken(ctx, "nope")
	assert.True(t, persistence.IsNotFound(err))
	_, err = store.LoadRun(ctx, uuid.NewString())
	assert.True(t, persistence.IsNotFound(err))
	assert.True(t, persistence.IsNotFound(store.SaveRun(ctx, &model.Run{Id: uuid.NewString()})))
}

func TestPgFindExpiredApprovals(t *testing.T) {
	store := NewPgRunStorage(testPool(t))
	ctx := context.Background()
	now := time.Now().UTC()

	expiredId := uuid.NewString()
	require.NoError(t, store.CreateRun(ctx, pausedRun(expiredId, uuid.NewString(), now.Add(-time.Hour))))
	require.NoError(t, store.CreateRun(ctx, pausedRun(uuid.NewString(), uuid.NewString(), now.Add(time.Hour))))

	expired, err := store.FindExpiredApprovals(ctx, now, 0)
	require.NoError(t, err)
	var ids []string
	for _, run := range expired {
		ids = append(ids, run.Id)
	}
	assert.Contains(t, ids, expiredId)
	for _, run := range expired {
		assert.True(t, run.PendingApproval.IsExpired(now))
	}
}

func TestPgMetadataStorage(t *testing.T) {
	store := NewPgMetadataStorage(testPool(t))
	ctx := context.Background()
	id := "wf-" + uuid.NewString()

	require.NoError(t, store.SaveWorkflowDefinition(ctx, model.Workflow{Id: id, Name: "first", Version: 1}))
	require.NoError(t, store.SaveWorkflowDefinition(ctx, model.Workflow{Id: id, Name: "second", Version: 2}))

	wf, err := store.GetWorkflowDefinition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "second", wf.Name)

	list, err := store.ListWorkflowDefinitions(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	require.NoError(t, store.DeleteWorkflowDefinition(ctx, id))
	assert.True(t, persistence.IsNotFound(store.DeleteWorkflowDefinition(ctx, id)))
}
