package metadata

import (
	"context"

	"github.com/mohitkumar/stepflow/model"
)

type MetadataStorage interface {
	SaveWorkflowDefinition(ctx context.Context, wf model.Workflow) error
	DeleteWorkflowDefinition(ctx context.Context, id string) error
	GetWorkflowDefinition(ctx context.Context, id string) (*model.Workflow, error)
	ListWorkflowDefinitions(ctx context.Context) ([]model.Workflow, error)
}
