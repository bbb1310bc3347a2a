package redis

import (
	"context"
	"errors"
	"sort"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

const WORKFLOW_DEF string = "WORKFLOW"
const WORKFLOW_IDS string = "WORKFLOW_IDS"

var _ metadata.MetadataStorage = new(redisMetadataStorage)

type redisMetadataStorage struct {
	*baseDao
	workflowEncoderDecoder util.EncoderDecoder[model.Workflow]
}

func NewRedisMetadataStorage(client rd.UniversalClient, namespace string) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:                newBaseDao(client, namespace),
		workflowEncoderDecoder: util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (rfd *redisMetadataStorage) SaveWorkflowDefinition(ctx context.Context, wf model.Workflow) error {
	data, err := rfd.workflowEncoderDecoder.Encode(wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	_, err = rfd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, rfd.getNamespaceKey(WORKFLOW_DEF, wf.Id), data, 0)
		pipe.SAdd(ctx, rfd.getNamespaceKey(WORKFLOW_IDS), wf.Id)
		return nil
	})
	if err != nil {
		logger.Error("error in saving workflow definition", zap.String("workflow", wf.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisMetadataStorage) DeleteWorkflowDefinition(ctx context.Context, id string) error {
	var del *rd.IntCmd
	_, err := rfd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		del = pipe.Del(ctx, rfd.getNamespaceKey(WORKFLOW_DEF, id))
		pipe.SRem(ctx, rfd.getNamespaceKey(WORKFLOW_IDS), id)
		return nil
	})
	if err != nil {
		logger.Error("error in deleting workflow definition", zap.String("workflow", id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if del.Val() == 0 {
		return persistence.WorkflowNotFound(id)
	}
	return nil
}

func (rfd *redisMetadataStorage) GetWorkflowDefinition(ctx context.Context, id string) (*model.Workflow, error) {
	val, err := rfd.redisClient.Get(ctx, rfd.getNamespaceKey(WORKFLOW_DEF, id)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.WorkflowNotFound(id)
		}
		logger.Error("error in getting workflow definition", zap.String("workflow", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	wf, err := rfd.workflowEncoderDecoder.Decode(val)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return wf, nil
}

func (rfd *redisMetadataStorage) ListWorkflowDefinitions(ctx context.Context) ([]model.Workflow, error) {
	ids, err := rfd.redisClient.SMembers(ctx, rfd.getNamespaceKey(WORKFLOW_IDS)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	sort.Strings(ids)
	out := make([]model.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := rfd.GetWorkflowDefinition(ctx, id)
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
