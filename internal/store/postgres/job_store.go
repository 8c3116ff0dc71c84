package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/forge-labs/forge/internal/store"
)

// JobStore implements store.JobStore using PostgreSQL. Save is an upsert so
// the queue can journal every state transition through a single call.
type JobStore struct {
	pool *Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

var _ store.JobStore = (*JobStore)(nil)

const jobColumns = `
	id, queue, job_type, payload, entity_key, state, attempt, max_attempts,
	progress, result, error, not_before, created_at, updated_at
`

func (s *JobStore) Save(ctx context.Context, j *store.JobRecord) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			attempt = EXCLUDED.attempt,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			not_before = EXCLUDED.not_before,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		j.ID, j.Queue, j.Type, j.Payload, j.EntityKey, j.State, j.Attempt,
		j.MaxAttempts, j.Progress, j.Result, j.Error, j.NotBefore,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*store.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *JobStore) ListByQueue(ctx context.Context, queue string) ([]*store.JobRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE queue = $1 ORDER BY created_at ASC, id ASC`, queue)
	if err != nil {
		return nil, fmt.Errorf("list jobs by queue: %w", err)
	}
	defer rows.Close()

	var out []*store.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *JobStore) PruneTerminal(ctx context.Context, queue string, keep int) (int, error) {
	// Terminal states never transition again, so the newest keep rows are
	// retained purely for status queries.
	query := `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1 AND state IN ('completed', 'failed', 'cancelled')
			ORDER BY updated_at DESC, id DESC
			OFFSET $2
		)
	`
	tag, err := s.pool.Exec(ctx, query, queue, keep)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*store.JobRecord, error) {
	var j store.JobRecord
	err := row.Scan(
		&j.ID, &j.Queue, &j.Type, &j.Payload, &j.EntityKey, &j.State,
		&j.Attempt, &j.MaxAttempts, &j.Progress, &j.Result, &j.Error,
		&j.NotBefore, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
