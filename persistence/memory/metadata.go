package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
)

var _ metadata.MetadataStorage = new(MetadataStore)

type MetadataStore struct {
	mu        sync.RWMutex
	workflows map[string][]byte
	encdec    util.EncoderDecoder[model.Workflow]
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		workflows: make(map[string][]byte),
		encdec:    util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (s *MetadataStore) SaveWorkflowDefinition(ctx context.Context, wf model.Workflow) error {
	data, err := s.encdec.Encode(wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.Id] = data
	return nil
}

func (s *MetadataStore) DeleteWorkflowDefinition(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return persistence.WorkflowNotFound(id)
	}
	delete(s.workflows, id)
	return nil
}

func (s *MetadataStore) GetWorkflowDefinition(ctx context.Context, id string) (*model.Workflow, error) {
	s.mu.RLock()
	data, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, persistence.WorkflowNotFound(id)
	}
	wf, err := s.encdec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return wf, nil
}

func (s *MetadataStore) ListWorkflowDefinitions(ctx context.Context) ([]model.Workflow, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	out := make([]model.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.GetWorkflowDefinition(ctx, id)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, *wf)
	}
	return out, nil
}
