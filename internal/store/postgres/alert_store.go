package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/store"
)

// AlertStore implements store.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *Pool
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(pool *Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

var _ store.AlertStore = (*AlertStore)(nil)

const alertColumns = `
	id, launch_id, token_mint, alert_type, severity, message,
	indicators, confidence, acknowledged, created_at
`

func (s *AlertStore) Insert(ctx context.Context, a *domain.RiskAlert) error {
	query := `
		INSERT INTO risk_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.LaunchID, string(a.TokenMint), string(a.Type), string(a.Severity),
		a.Message, a.Indicators, a.Confidence, a.Acknowledged, a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *AlertStore) ListByLaunch(ctx context.Context, launchID string) ([]*domain.RiskAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM risk_alerts WHERE launch_id = $1 ORDER BY created_at DESC, id DESC`,
		launchID)
	if err != nil {
		return nil, fmt.Errorf("list alerts by launch: %w", err)
	}
	defer rows.Close()

	var out []*domain.RiskAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AlertStore) Acknowledge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE risk_alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanAlert(row pgx.Row) (*domain.RiskAlert, error) {
	var a domain.RiskAlert
	err := row.Scan(
		&a.ID, &a.LaunchID, &a.TokenMint, &a.Type, &a.Severity, &a.Message,
		&a.Indicators, &a.Confidence, &a.Acknowledged, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
