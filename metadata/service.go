package metadata

import (
	"context"
	"strings"
	"time"

	"github.com/mohitkumar/stepflow/action"
	"github.com/mohitkumar/stepflow/expression"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type MetadataService interface {
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	SaveWorkflow(ctx context.Context, wf model.Workflow) error
	ValidateWorkflow(wf model.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]model.Workflow, error)
}

var _ MetadataService = new(MetadataServiceImpl)

type MetadataServiceImpl struct {
	storage   MetadataStorage
	actionCfg action.Config
	cache     *cache.Cache
}

// NewMetadataService caches definitions for cacheTTL. A zero TTL disables caching.
func NewMetadataService(storage MetadataStorage, actionCfg action.Config, cacheTTL time.Duration) *MetadataServiceImpl {
	s := &MetadataServiceImpl{
		storage:   storage,
		actionCfg: actionCfg,
	}
	if cacheTTL > 0 {
		s.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

func (s *MetadataServiceImpl) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	if s.cache != nil {
		if wf, found := s.cache.Get(id); found {
			return wf.(*model.Workflow), nil
		}
	}
	wf, err := s.storage.GetWorkflowDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetDefault(id, wf)
	}
	return wf, nil
}

func (s *MetadataServiceImpl) SaveWorkflow(ctx context.Context, wf model.Workflow) error {
	if err := s.ValidateWorkflow(wf); err != nil {
		return err
	}
	if err := s.storage.SaveWorkflowDefinition(ctx, wf); err != nil {
		return err
	}
	s.invalidate(wf.Id)
	logger.Info("workflow definition saved", zap.String("workflow", wf.Id), zap.Int("version", wf.Version), zap.Int("steps", len(wf.Steps)))
	return nil
}

func (s *MetadataServiceImpl) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.storage.DeleteWorkflowDefinition(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *MetadataServiceImpl) ListWorkflows(ctx context.Context) ([]model.Workflow, error) {
	return s.storage.ListWorkflowDefinitions(ctx)
}

func (s *MetadataServiceImpl) invalidate(id string) {
	if s.cache != nil {
		s.cache.Delete(id)
	}
}

// ValidateWorkflow rejects definitions that could only fail at run time:
// duplicate or unknown step ids, invalid payloads and malformed expressions.
func (s *MetadataServiceImpl) ValidateWorkflow(wf model.Workflow) error {
	if strings.TrimSpace(wf.Id) == "" {
		return model.NewConfigurationError("", "workflow id can not be empty")
	}
	stepIds := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		if strings.TrimSpace(step.Id) == "" {
			return model.NewConfigurationError("", "step id can not be empty")
		}
		if stepIds[step.Id] {
			return model.NewConfigurationError(step.Id, "step id %s is duplicate", step.Id)
		}
		stepIds[step.Id] = true
	}
	for _, step := range wf.Steps {
		if err := action.ValidateStepType(step.Type); err != nil {
			return model.NewConfigurationError(step.Id, "%v", err)
		}
		act, err := action.New(step, s.actionCfg)
		if err != nil {
			return err
		}
		if err := act.Validate(); err != nil {
			return err
		}
		for _, target := range []string{step.OnSuccess, step.OnFailure} {
			if target != "" && !stepIds[target] {
				return model.NewConfigurationError(step.Id, "jump target %s not defined", target)
			}
		}
		if step.Type == model.STEP_TYPE_TRANSFORM && stepIds[step.Transform.Output] {
			return model.NewConfigurationError(step.Id, "transform output %s shadows a step id", step.Transform.Output)
		}
	}
	for _, name := range wf.Inputs.Required {
		if strings.TrimSpace(name) == "" {
			return model.NewConfigurationError("", "required input name can not be empty")
		}
	}
	if wf.Output != "" {
		if err := expression.ValidateReference(wf.Output); err != nil {
			return model.NewConfigurationError("", "invalid workflow output %s: %v", wf.Output, err)
		}
	}
	return nil
}
