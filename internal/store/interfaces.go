// Package store defines the persistence contracts for launches, positions,
// alerts, activity entries and queued jobs. The store is the single source of
// truth for all cross-worker state; workers never share memory with each
// other. Implementations: memory (tests, stub mode) and postgres.
package store

import (
	"context"
	"time"

	"github.com/forge-labs/forge/internal/domain"
)

// LaunchStore provides access to launch records.
type LaunchStore interface {
	// Insert adds a new launch. Returns ErrDuplicateKey if the id or token
	// mint already exists.
	Insert(ctx context.Context, l *domain.Launch) error

	// Get retrieves a launch by id. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (*domain.Launch, error)

	// GetByTokenMint retrieves a launch by its token mint.
	GetByTokenMint(ctx context.Context, mint domain.Address) (*domain.Launch, error)

	// Update persists the full launch row. Returns ErrNotFound if missing.
	Update(ctx context.Context, l *domain.Launch) error

	// ListByStatus retrieves launches in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.LaunchStatus) ([]*domain.Launch, error)
}

// PositionStore provides access to liquidity position records.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey on id collision.
	Insert(ctx context.Context, p *domain.LiquidityPosition) error

	// Get retrieves a position by id. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*domain.LiquidityPosition, error)

	// Update persists the full position row. Returns ErrNotFound if missing.
	Update(ctx context.Context, p *domain.LiquidityPosition) error

	// ListByLaunch retrieves all positions for a launch, oldest first.
	ListByLaunch(ctx context.Context, launchID string) ([]*domain.LiquidityPosition, error)

	// ListAIManaged retrieves non-closed AI-managed positions.
	ListAIManaged(ctx context.Context) ([]*domain.LiquidityPosition, error)
}

// AlertStore provides access to risk alerts. Alerts are immutable except for
// acknowledgement.
type AlertStore interface {
	// Insert adds a new alert.
	Insert(ctx context.Context, a *domain.RiskAlert) error

	// ListByLaunch retrieves all alerts for a launch, newest first.
	ListByLaunch(ctx context.Context, launchID string) ([]*domain.RiskAlert, error)

	// Acknowledge flips the acknowledged flag. Returns ErrNotFound if missing.
	Acknowledge(ctx context.Context, id string) error
}

// ActivityStore is the append-only pipeline audit log.
type ActivityStore interface {
	// Append adds an entry. Entries are never mutated or deleted.
	Append(ctx context.Context, e *domain.ActivityEntry) error

	// ListByLaunch retrieves entries for a launch, oldest first.
	ListByLaunch(ctx context.Context, launchID string) ([]*domain.ActivityEntry, error)

	// ListByJob retrieves entries for a job, oldest first.
	ListByJob(ctx context.Context, jobID string) ([]*domain.ActivityEntry, error)
}

// JobRecord is the persisted form of a queued job. The payload is stored as
// raw JSON; the queue layer owns the tagged-union decoding.
type JobRecord struct {
	ID          string
	Queue       string
	Type        string
	Payload     []byte
	EntityKey   string
	State       string
	Attempt     int
	MaxAttempts int
	Progress    int
	Result      []byte
	Error       string
	NotBefore   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobStore durably persists queue state transitions. Every transition is
// written here before it becomes observable to other workers.
type JobStore interface {
	// Save upserts a job record.
	Save(ctx context.Context, j *JobRecord) error

	// Get retrieves a job by id. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*JobRecord, error)

	// ListByQueue retrieves all records for a queue, oldest first. Used to
	// rebuild queue state after a restart.
	ListByQueue(ctx context.Context, queue string) ([]*JobRecord, error)

	// PruneTerminal removes the oldest terminal records of a queue beyond
	// keep, returning how many were removed.
	PruneTerminal(ctx context.Context, queue string, keep int) (int, error)
}

// Stores bundles every persistence contract the pipelines need.
type Stores struct {
	Launches  LaunchStore
	Positions PositionStore
	Alerts    AlertStore
	Activity  ActivityStore
	Jobs      JobStore
}
