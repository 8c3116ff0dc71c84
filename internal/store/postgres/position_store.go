package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/store"
)

// PositionStore implements store.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ store.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, launch_id, pool_address, position_address, range_lower, range_upper,
	liquidity_amount, status, fees_earned, apr, rebalance_count,
	last_rebalance_at, ai_managed, created_at, updated_at
`

func (s *PositionStore) Insert(ctx context.Context, p *domain.LiquidityPosition) error {
	query := `
		INSERT INTO liquidity_positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.LaunchID, string(p.PoolAddress), string(p.PositionAddress),
		p.Range.Lower, p.Range.Upper, p.LiquidityAmount, string(p.Status),
		p.FeesEarned, p.APR, p.RebalanceCount, p.LastRebalanceAt, p.AIManaged,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (s *PositionStore) Get(ctx context.Context, id string) (*domain.LiquidityPosition, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM liquidity_positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (s *PositionStore) Update(ctx context.Context, p *domain.LiquidityPosition) error {
	query := `
		UPDATE liquidity_positions SET
			position_address = $2, range_lower = $3, range_upper = $4,
			liquidity_amount = $5, status = $6, fees_earned = $7, apr = $8,
			rebalance_count = $9, last_rebalance_at = $10, updated_at = $11
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.PositionAddress), p.Range.Lower, p.Range.Upper,
		p.LiquidityAmount, string(p.Status), p.FeesEarned, p.APR,
		p.RebalanceCount, p.LastRebalanceAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PositionStore) ListByLaunch(ctx context.Context, launchID string) ([]*domain.LiquidityPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM liquidity_positions WHERE launch_id = $1 ORDER BY created_at ASC, id ASC`,
		launchID)
	if err != nil {
		return nil, fmt.Errorf("list positions by launch: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (s *PositionStore) ListAIManaged(ctx context.Context) ([]*domain.LiquidityPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM liquidity_positions
		 WHERE ai_managed AND status <> 'closed' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list ai-managed positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]*domain.LiquidityPosition, error) {
	var out []*domain.LiquidityPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (*domain.LiquidityPosition, error) {
	var p domain.LiquidityPosition
	err := row.Scan(
		&p.ID, &p.LaunchID, &p.PoolAddress, &p.PositionAddress,
		&p.Range.Lower, &p.Range.Upper, &p.LiquidityAmount, &p.Status,
		&p.FeesEarned, &p.APR, &p.RebalanceCount, &p.LastRebalanceAt,
		&p.AIManaged, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
