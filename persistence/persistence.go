package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/stepflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

// ConflictError means the stored run changed since it was loaded.
type ConflictError struct {
	RunId    string
	Expected int
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("run %s version conflict (expected %d)", e.RunId, e.Expected)
}

func IsConflict(err error) bool {
	var conflict ConflictError
	return errors.As(err, &conflict)
}

func IsNotFound(err error) bool {
	var notFound model.NotFoundError
	return errors.As(err, &notFound)
}

// RunStorage persists runs. SaveRun is a compare and swap on Version: it
// fails with ConflictError unless the stored version equals run.Version,
// and on success increments run.Version. Every write replaces the whole run
// atomically, including the resume token index.
type RunStorage interface {
	CreateRun(ctx context.Context, run *model.Run) error
	LoadRun(ctx context.Context, runId string) (*model.Run, error)
	SaveRun(ctx context.Context, run *model.Run) error
	FindRunByResumeToken(ctx context.Context, token string) (*model.Run, error)
	FindExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]*model.Run, error)
}

func RunNotFound(runId string) model.NotFoundError {
	return model.NotFoundError{Kind: "run", Id: runId}
}

func WorkflowNotFound(id string) model.NotFoundError {
	return model.NotFoundError{Kind: "workflow", Id: id}
}
