package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

const RUN_KEY string = "RUN"
const TOKEN_KEY string = "TOKEN"
const APPROVAL_EXPIRY_KEY string = "APPROVAL_EXPIRY"

var _ persistence.RunStorage = new(redisRunStorage)

// redisRunStorage keeps each run as one JSON value. SaveRun watches the
// run key, so a concurrent writer aborts the transaction and the caller
// sees a ConflictError. Resume tokens map to run ids, and pending approvals
// with an expiry sit in a sorted set scored by expiry time in millis.
type redisRunStorage struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Run]
}

func NewRedisRunStorage(client rd.UniversalClient, namespace string) *redisRunStorage {
	return &redisRunStorage{
		baseDao:        newBaseDao(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Run](),
	}
}

func (rs *redisRunStorage) runKey(runId string) string {
	return rs.getNamespaceKey(RUN_KEY, runId)
}

func (rs *redisRunStorage) tokenKey(token string) string {
	return rs.getNamespaceKey(TOKEN_KEY, token)
}

func (rs *redisRunStorage) CreateRun(ctx context.Context, run *model.Run) error {
	data, err := rs.encoderDecoder.Encode(*run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	ok, err := rs.redisClient.SetNX(ctx, rs.runKey(run.Id), data, 0).Result()
	if err != nil {
		logger.Error("error in creating run", zap.String("runId", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !ok {
		return persistence.ConflictError{RunId: run.Id, Expected: run.Version}
	}
	return nil
}

func (rs *redisRunStorage) LoadRun(ctx context.Context, runId string) (*model.Run, error) {
	data, err := rs.redisClient.Get(ctx, rs.runKey(runId)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.RunNotFound(runId)
		}
		logger.Error("error in loading run", zap.String("runId", runId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	run, err := rs.encoderDecoder.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return run, nil
}

func (rs *redisRunStorage) SaveRun(ctx context.Context, run *model.Run) error {
	key := rs.runKey(run.Id)
	expiryKey := rs.getNamespaceKey(APPROVAL_EXPIRY_KEY)
	next := *run
	next.Version = run.Version + 1
	next.UpdatedAt = time.Now().UTC()

	err := rs.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return persistence.RunNotFound(run.Id)
			}
			return persistence.StorageLayerError{Message: err.Error()}
		}
		stored, err := rs.encoderDecoder.Decode(data)
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		if stored.Version != run.Version {
			return persistence.ConflictError{RunId: run.Id, Expected: run.Version}
		}
		encoded, err := rs.encoderDecoder.Encode(next)
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if stored.ResumeToken != "" && stored.ResumeToken != next.ResumeToken {
				pipe.Del(ctx, rs.tokenKey(stored.ResumeToken))
				pipe.ZRem(ctx, expiryKey, run.Id)
			}
			if next.ResumeToken != "" {
				pipe.Set(ctx, rs.tokenKey(next.ResumeToken), run.Id, 0)
				if gate := next.PendingApproval; gate != nil && gate.ExpiresAt != nil {
					pipe.ZAdd(ctx, expiryKey, rd.Z{Score: float64(gate.ExpiresAt.UnixMilli()), Member: run.Id})
				}
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, rd.TxFailedErr) {
			return persistence.ConflictError{RunId: run.Id, Expected: run.Version}
		}
		if persistence.IsConflict(err) || persistence.IsNotFound(err) {
			return err
		}
		var storageErr persistence.StorageLayerError
		if errors.As(err, &storageErr) {
			return err
		}
		logger.Error("error in saving run", zap.String("runId", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	run.Version = next.Version
	run.UpdatedAt = next.UpdatedAt
	return nil
}

func (rs *redisRunStorage) FindRunByResumeToken(ctx context.Context, token string) (*model.Run, error) {
	runId, err := rs.redisClient.Get(ctx, rs.tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "resume token", Id: "<redacted>"}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	run, err := rs.LoadRun(ctx, runId)
	if err != nil {
		return nil, err
	}
	if run.ResumeToken != token {
		return nil, model.NotFoundError{Kind: "resume token", Id: "<redacted>"}
	}
	return run, nil
}

func (rs *redisRunStorage) FindExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]*model.Run, error) {
	opt := &rd.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	runIds, err := rs.redisClient.ZRangeByScore(ctx, rs.getNamespaceKey(APPROVAL_EXPIRY_KEY), opt).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []*model.Run{}, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	expired := make([]*model.Run, 0, len(runIds))
	for _, runId := range runIds {
		run, err := rs.LoadRun(ctx, runId)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if run.Status == model.PAUSED && run.PendingApproval != nil && run.PendingApproval.IsExpired(now) {
			expired = append(expired, run)
		}
	}
	return expired, nil
}
