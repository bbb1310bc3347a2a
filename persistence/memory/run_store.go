package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
)

var _ persistence.RunStorage = new(RunStore)

// RunStore keeps runs encoded, so callers never share state with the store.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[string][]byte
	tokens map[string]string
	encdec util.EncoderDecoder[model.Run]
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs:   make(map[string][]byte),
		tokens: make(map[string]string),
		encdec: util.NewJsonEncoderDecoder[model.Run](),
	}
}

func (s *RunStore) CreateRun(ctx context.Context, run *model.Run) error {
	data, err := s.encdec.Encode(*run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.Id]; ok {
		return persistence.ConflictError{RunId: run.Id, Expected: run.Version}
	}
	s.runs[run.Id] = data
	if run.ResumeToken != "" {
		s.tokens[run.ResumeToken] = run.Id
	}
	return nil
}

func (s *RunStore) LoadRun(ctx context.Context, runId string) (*model.Run, error) {
	s.mu.RLock()
	data, ok := s.runs[runId]
	s.mu.RUnlock()
	if !ok {
		return nil, persistence.RunNotFound(runId)
	}
	run, err := s.encdec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return run, nil
}

func (s *RunStore) SaveRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.runs[run.Id]
	if !ok {
		return persistence.RunNotFound(run.Id)
	}
	stored, err := s.encdec.Decode(data)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if stored.Version != run.Version {
		return persistence.ConflictError{RunId: run.Id, Expected: run.Version}
	}

	next := *run
	next.Version = run.Version + 1
	next.UpdatedAt = time.Now().UTC()
	encoded, err := s.encdec.Encode(next)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.runs[run.Id] = encoded
	if stored.ResumeToken != "" && stored.ResumeToken != next.ResumeToken {
		delete(s.tokens, stored.ResumeToken)
	}
	if next.ResumeToken != "" {
		s.tokens[next.ResumeToken] = run.Id
	}
	run.Version = next.Version
	run.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *RunStore) FindRunByResumeToken(ctx context.Context, token string) (*model.Run, error) {
	s.mu.RLock()
	runId, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return nil, model.NotFoundError{Kind: "resume token", Id: "<redacted>"}
	}
	return s.LoadRun(ctx, runId)
}

func (s *RunStore) FindExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]*model.Run, error) {
	s.mu.RLock()
	runIds := make([]string, 0, len(s.tokens))
	for _, runId := range s.tokens {
		runIds = append(runIds, runId)
	}
	s.mu.RUnlock()
	sort.Strings(runIds)

	expired := make([]*model.Run, 0)
	for _, runId := range runIds {
		run, err := s.LoadRun(ctx, runId)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if run.Status == model.PAUSED && run.PendingApproval != nil && run.PendingApproval.IsExpired(now) {
			expired = append(expired, run)
			if limit > 0 && len(expired) >= limit {
				break
			}
		}
	}
	return expired, nil
}
