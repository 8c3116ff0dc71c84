// Package memory is the in-memory store implementation, used by tests and by
// stub-mode runs. All methods deep-copy on the way in and out so callers
// never observe each other's mutations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/store"
)

// DB holds all in-memory tables behind one lock. Per-entity stores are
// views over it.
type DB struct {
	mu        sync.RWMutex
	launches  map[string]*domain.Launch
	byMint    map[domain.Address]string
	positions map[string]*domain.LiquidityPosition
	alerts    map[string]*domain.RiskAlert
	activity  []*domain.ActivityEntry
	jobs      map[string]*store.JobRecord
}

// New creates an empty in-memory database.
func New() *DB {
	return &DB{
		launches:  make(map[string]*domain.Launch),
		byMint:    make(map[domain.Address]string),
		positions: make(map[string]*domain.LiquidityPosition),
		alerts:    make(map[string]*domain.RiskAlert),
		jobs:      make(map[string]*store.JobRecord),
	}
}

// Stores returns the full bundle backed by this database.
func (db *DB) Stores() store.Stores {
	return store.Stores{
		Launches:  &LaunchStore{db: db},
		Positions: &PositionStore{db: db},
		Alerts:    &AlertStore{db: db},
		Activity:  &ActivityStore{db: db},
		Jobs:      &JobStore{db: db},
	}
}

// ---------------------------------------------------------------------------
// LaunchStore
// ---------------------------------------------------------------------------

type LaunchStore struct{ db *DB }

var _ store.LaunchStore = (*LaunchStore)(nil)

func (s *LaunchStore) Insert(ctx context.Context, l *domain.Launch) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.launches[l.ID]; ok {
		return store.ErrDuplicateKey
	}
	if l.TokenMint != "" {
		if _, ok := s.db.byMint[l.TokenMint]; ok {
			return store.ErrDuplicateKey
		}
		s.db.byMint[l.TokenMint] = l.ID
	}
	s.db.launches[l.ID] = cloneLaunch(l)
	return nil
}

func (s *LaunchStore) Get(ctx context.Context, id string) (*domain.Launch, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	l, ok := s.db.launches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneLaunch(l), nil
}

func (s *LaunchStore) GetByTokenMint(ctx context.Context, mint domain.Address) (*domain.Launch, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	id, ok := s.db.byMint[mint]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneLaunch(s.db.launches[id]), nil
}

func (s *LaunchStore) Update(ctx context.Context, l *domain.Launch) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	old, ok := s.db.launches[l.ID]
	if !ok {
		return store.ErrNotFound
	}
	// Token mint is assigned once; index it the first time it appears.
	if old.TokenMint == "" && l.TokenMint != "" {
		s.db.byMint[l.TokenMint] = l.ID
	}
	s.db.launches[l.ID] = cloneLaunch(l)
	return nil
}

func (s *LaunchStore) ListByStatus(ctx context.Context, status domain.LaunchStatus) ([]*domain.Launch, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.Launch
	for _, l := range s.db.launches {
		if l.Status == status {
			out = append(out, cloneLaunch(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// PositionStore
// ---------------------------------------------------------------------------

type PositionStore struct{ db *DB }

var _ store.PositionStore = (*PositionStore)(nil)

func (s *PositionStore) Insert(ctx context.Context, p *domain.LiquidityPosition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.positions[p.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.db.positions[p.ID] = clonePosition(p)
	return nil
}

func (s *PositionStore) Get(ctx context.Context, id string) (*domain.LiquidityPosition, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	p, ok := s.db.positions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePosition(p), nil
}

func (s *PositionStore) Update(ctx context.Context, p *domain.LiquidityPosition) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.positions[p.ID]; !ok {
		return store.ErrNotFound
	}
	s.db.positions[p.ID] = clonePosition(p)
	return nil
}

func (s *PositionStore) ListByLaunch(ctx context.Context, launchID string) ([]*domain.LiquidityPosition, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.LiquidityPosition
	for _, p := range s.db.positions {
		if p.LaunchID == launchID {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *PositionStore) ListAIManaged(ctx context.Context) ([]*domain.LiquidityPosition, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.LiquidityPosition
	for _, p := range s.db.positions {
		if p.AIManaged && p.Status != domain.PositionClosed {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// AlertStore
// ---------------------------------------------------------------------------

type AlertStore struct{ db *DB }

var _ store.AlertStore = (*AlertStore)(nil)

func (s *AlertStore) Insert(ctx context.Context, a *domain.RiskAlert) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.alerts[a.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.db.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (s *AlertStore) ListByLaunch(ctx context.Context, launchID string) ([]*domain.RiskAlert, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.RiskAlert
	for _, a := range s.db.alerts {
		if a.LaunchID == launchID {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *AlertStore) Acknowledge(ctx context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.alerts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Acknowledged = true
	return nil
}

// ---------------------------------------------------------------------------
// ActivityStore
// ---------------------------------------------------------------------------

type ActivityStore struct{ db *DB }

var _ store.ActivityStore = (*ActivityStore)(nil)

func (s *ActivityStore) Append(ctx context.Context, e *domain.ActivityEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *e
	s.db.activity = append(s.db.activity, &cp)
	return nil
}

func (s *ActivityStore) ListByLaunch(ctx context.Context, launchID string) ([]*domain.ActivityEntry, error) {
	return s.list(func(e *domain.ActivityEntry) bool { return e.LaunchID == launchID })
}

func (s *ActivityStore) ListByJob(ctx context.Context, jobID string) ([]*domain.ActivityEntry, error) {
	return s.list(func(e *domain.ActivityEntry) bool { return e.JobID == jobID })
}

func (s *ActivityStore) list(match func(*domain.ActivityEntry) bool) ([]*domain.ActivityEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.ActivityEntry
	for _, e := range s.db.activity {
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// JobStore
// ---------------------------------------------------------------------------

type JobStore struct{ db *DB }

var _ store.JobStore = (*JobStore)(nil)

func (s *JobStore) Save(ctx context.Context, j *store.JobRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *j
	cp.UpdatedAt = time.Now()
	s.db.jobs[j.ID] = &cp
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*store.JobRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	j, ok := s.db.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *JobStore) ListByQueue(ctx context.Context, queue string) ([]*store.JobRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*store.JobRecord
	for _, j := range s.db.jobs {
		if j.Queue == queue {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *JobStore) PruneTerminal(ctx context.Context, queue string, keep int) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var terminal []*store.JobRecord
	for _, j := range s.db.jobs {
		if j.Queue == queue && (j.State == "completed" || j.State == "failed") {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= keep {
		return 0, nil
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].UpdatedAt.Before(terminal[j].UpdatedAt) })
	pruned := 0
	for _, j := range terminal[:len(terminal)-keep] {
		delete(s.db.jobs, j.ID)
		pruned++
	}
	return pruned, nil
}

// --- clone helpers ---

func cloneLaunch(l *domain.Launch) *domain.Launch {
	cp := *l
	if l.LaunchedAt != nil {
		t := *l.LaunchedAt
		cp.LaunchedAt = &t
	}
	return &cp
}

func clonePosition(p *domain.LiquidityPosition) *domain.LiquidityPosition {
	cp := *p
	if p.LastRebalanceAt != nil {
		t := *p.LastRebalanceAt
		cp.LastRebalanceAt = &t
	}
	return &cp
}

func cloneAlert(a *domain.RiskAlert) *domain.RiskAlert {
	cp := *a
	cp.Indicators = make(map[string]float64, len(a.Indicators))
	for k, v := range a.Indicators {
		cp.Indicators[k] = v
	}
	return &cp
}
