package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// NewPool connects to dsn and makes sure the schema exists.
func NewPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return pool, nil
}

var _ persistence.RunStorage = new(PgRunStorage)

// PgRunStorage stores each run as one JSONB document. The status, token and
// expiry columns duplicate parts of it for lookups.
type PgRunStorage struct {
	pool   *pgxpool.Pool
	encdec util.EncoderDecoder[model.Run]
}

func NewPgRunStorage(pool *pgxpool.Pool) *PgRunStorage {
	return &PgRunStorage{
		pool:   pool,
		encdec: util.NewJsonEncoderDecoder[model.Run](),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func approvalExpiry(run *model.Run) *time.Time {
	if run.PendingApproval == nil {
		return nil
	}
	return run.PendingApproval.ExpiresAt
}

func (s *PgRunStorage) CreateRun(ctx context.Context, run *model.Run) error {
	data, err := s.encdec.Encode(*run)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (
			id, workflow_id, status, resume_token, approval_expires_at,
			data, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.Id, run.WorkflowId, string(run.Status), nullable(run.ResumeToken), approvalExpiry(run),
		data, run.Version, now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return persistence.ConflictError{RunId: run.Id, Expected: run.Version}
		}
		logger.Error("error in creating run", zap.String("runId", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *PgRunStorage) LoadRun(ctx context.Context, runId string) (*model.Run, error) {
	return s.queryRun(ctx, `SELECT data FROM workflow_runs WHERE id = $1`, runId, persistence.RunNotFound(runId))
}

func (s *PgRunStorage) queryRun(ctx context.Context, query string, arg any, notFound error) (*model.Run, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	run, err := s.encdec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return run, nil
}

func (s *PgRunStorage) SaveRun(ctx context.Context, run *model.Run) error {
	next := *run
	next.Version = run.Version + 1
	next.UpdatedAt = time.Now().UTC()
	data, err := s.encdec.Encode(next)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_runs SET
			status = $1,
			resume_token = $2,
			approval_expires_at = $3,
			data = $4,
			version = $5,
			updated_at = $6
		WHERE id = $7 AND version = $8`,
		string(next.Status), nullable(next.ResumeToken), approvalExpiry(&next), data,
		next.Version, next.UpdatedAt, run.Id, run.Version,
	)
	if err != nil {
		logger.Error("error in saving run", zap.String("runId", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_runs WHERE id = $1)`, run.Id).Scan(&exists); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		if !exists {
			return persistence.RunNotFound(run.Id)
		}
		return persistence.ConflictError{RunId: run.Id, Expected: run.Version}
	}
	run.Version = next.Version
	run.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *PgRunStorage) FindRunByResumeToken(ctx context.Context, token string) (*model.Run, error) {
	return s.queryRun(ctx, `SELECT data FROM workflow_runs WHERE resume_token = $1`, token,
		model.NotFoundError{Kind: "resume token", Id: "<redacted>"})
}

func (s *PgRunStorage) FindExpiredApprovals(ctx context.Context, now time.Time, limit int) ([]*model.Run, error) {
	query := `SELECT data FROM workflow_runs
		WHERE status = 'paused' AND approval_expires_at < $1
		ORDER BY approval_expires_at ASC`
	args := []any{now}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()

	expired := make([]*model.Run, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		run, err := s.encdec.Decode(data)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		expired = append(expired, run)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return expired, nil
}

var _ metadata.MetadataStorage = new(PgMetadataStorage)

type PgMetadataStorage struct {
	pool   *pgxpool.Pool
	encdec util.EncoderDecoder[model.Workflow]
}

func NewPgMetadataStorage(pool *pgxpool.Pool) *PgMetadataStorage {
	return &PgMetadataStorage{
		pool:   pool,
		encdec: util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (s *PgMetadataStorage) SaveWorkflowDefinition(ctx context.Context, wf model.Workflow) error {
	data, err := s.encdec.Encode(wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_definitions (id, version, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		wf.Id, wf.Version, data, time.Now().UTC(),
	)
	if err != nil {
		logger.Error("error in saving workflow definition", zap.String("workflow", wf.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *PgMetadataStorage) DeleteWorkflowDefinition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if tag.RowsAffected() == 0 {
		return persistence.WorkflowNotFound(id)
	}
	return nil
}

func (s *PgMetadataStorage) GetWorkflowDefinition(ctx context.Context, id string) (*model.Workflow, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM workflow_definitions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, persistence.WorkflowNotFound(id)
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	wf, err := s.encdec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return wf, nil
}

func (s *PgMetadataStorage) ListWorkflowDefinitions(ctx context.Context) ([]model.Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM workflow_definitions ORDER BY id`)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	out := make([]model.Workflow, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		wf, err := s.encdec.Decode(data)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		out = append(out, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return out, nil
}
