package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/store"
)

// LaunchStore implements store.LaunchStore using PostgreSQL.
type LaunchStore struct {
	pool *Pool
}

// NewLaunchStore creates a new LaunchStore.
func NewLaunchStore(pool *Pool) *LaunchStore {
	return &LaunchStore{pool: pool}
}

// Compile-time interface check.
var _ store.LaunchStore = (*LaunchStore)(nil)

const launchColumns = `
	id, token_mint, name, symbol, category, total_supply,
	target_marketcap_usd, presale_mode, curve_type, initial_price,
	graduation_threshold, anti_sniper_seconds, status, risk_score,
	risk_level, vault_address, curve_address, created_at, launched_at,
	updated_at, last_error
`

func (s *LaunchStore) Insert(ctx context.Context, l *domain.Launch) error {
	query := `
		INSERT INTO launches (` + launchColumns + `)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := s.pool.Exec(ctx, query,
		l.ID, string(l.TokenMint), l.Name, l.Symbol, l.Category, l.TotalSupply,
		l.TargetMarketCapUSD, string(l.PresaleMode), string(l.CurveType), l.InitialPrice,
		l.GraduationThreshold, l.AntiSniperSeconds, string(l.Status), l.RiskScore,
		string(l.RiskLevel), string(l.VaultAddress), string(l.CurveAddress),
		l.CreatedAt, l.LaunchedAt, l.UpdatedAt, l.LastError,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert launch: %w", err)
	}
	return nil
}

func (s *LaunchStore) Get(ctx context.Context, id string) (*domain.Launch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+launchColumns+` FROM launches WHERE id = $1`, id)
	l, err := scanLaunch(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get launch: %w", err)
	}
	return l, nil
}

func (s *LaunchStore) GetByTokenMint(ctx context.Context, mint domain.Address) (*domain.Launch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+launchColumns+` FROM launches WHERE token_mint = $1`, string(mint))
	l, err := scanLaunch(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get launch by mint: %w", err)
	}
	return l, nil
}

func (s *LaunchStore) Update(ctx context.Context, l *domain.Launch) error {
	query := `
		UPDATE launches SET
			token_mint = NULLIF($2, ''), status = $3, risk_score = $4,
			risk_level = $5, vault_address = $6, curve_address = $7,
			launched_at = $8, updated_at = $9, last_error = $10,
			graduation_threshold = $11
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		l.ID, string(l.TokenMint), string(l.Status), l.RiskScore,
		string(l.RiskLevel), string(l.VaultAddress), string(l.CurveAddress),
		l.LaunchedAt, l.UpdatedAt, l.LastError, l.GraduationThreshold,
	)
	if err != nil {
		return fmt.Errorf("update launch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *LaunchStore) ListByStatus(ctx context.Context, status domain.LaunchStatus) ([]*domain.Launch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+launchColumns+` FROM launches WHERE status = $1 ORDER BY created_at ASC, id ASC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list launches by status: %w", err)
	}
	defer rows.Close()

	var out []*domain.Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan launch: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLaunch(row pgx.Row) (*domain.Launch, error) {
	var l domain.Launch
	var mint *string
	err := row.Scan(
		&l.ID, &mint, &l.Name, &l.Symbol, &l.Category, &l.TotalSupply,
		&l.TargetMarketCapUSD, &l.PresaleMode, &l.CurveType, &l.InitialPrice,
		&l.GraduationThreshold, &l.AntiSniperSeconds, &l.Status, &l.RiskScore,
		&l.RiskLevel, &l.VaultAddress, &l.CurveAddress, &l.CreatedAt, &l.LaunchedAt,
		&l.UpdatedAt, &l.LastError,
	)
	if err != nil {
		return nil, err
	}
	if mint != nil {
		l.TokenMint = domain.Address(*mint)
	}
	return &l, nil
}
