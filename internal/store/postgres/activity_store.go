package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/store"
)

// ActivityStore implements store.ActivityStore using PostgreSQL. The table is
// append-only; no UPDATE or DELETE statements exist here.
type ActivityStore struct {
	pool *Pool
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(pool *Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

var _ store.ActivityStore = (*ActivityStore)(nil)

const activityColumns = `
	id, launch_id, position_id, job_id, action, success, detail, error, duration_ns, created_at
`

func (s *ActivityStore) Append(ctx context.Context, e *domain.ActivityEntry) error {
	query := `
		INSERT INTO activity_log (` + activityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.LaunchID, e.PositionID, e.JobID, e.Action, e.Success,
		e.Detail, e.Error, int64(e.Duration), e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (s *ActivityStore) ListByLaunch(ctx context.Context, launchID string) ([]*domain.ActivityEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_log WHERE launch_id = $1 ORDER BY created_at ASC, id ASC`,
		launchID)
	if err != nil {
		return nil, fmt.Errorf("list activity by launch: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

func (s *ActivityStore) ListByJob(ctx context.Context, jobID string) ([]*domain.ActivityEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_log WHERE job_id = $1 ORDER BY created_at ASC, id ASC`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list activity by job: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

func collectActivity(rows pgx.Rows) ([]*domain.ActivityEntry, error) {
	var out []*domain.ActivityEntry
	for rows.Next() {
		var (
			e          domain.ActivityEntry
			durationNs int64
		)
		err := rows.Scan(
			&e.ID, &e.LaunchID, &e.PositionID, &e.JobID, &e.Action, &e.Success,
			&e.Detail, &e.Error, &durationNs, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Duration = time.Duration(durationNs)
		out = append(out, &e)
	}
	return out, rows.Err()
}
