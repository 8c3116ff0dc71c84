package worker

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Supervisor: explicit owner of all pool handles
// ---------------------------------------------------------------------------

// Supervisor owns the worker pools. Callers needing status or shutdown get
// the supervisor by reference; there is no ambient registry.
type Supervisor struct {
	pools []*Pool
	log   zerolog.Logger
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{log: logger.With().Str("component", "supervisor").Logger()}
}

// Add registers a pool. Call before Start.
func (s *Supervisor) Add(p *Pool) {
	s.pools = append(s.pools, p)
}

// Start launches every registered pool.
func (s *Supervisor) Start() {
	for _, p := range s.pools {
		p.Start()
	}
	s.log.Info().Int("pools", len(s.pools)).Msg("supervisor started")
}

// Shutdown drains all pools in two phases: every pool stops leasing first,
// then each gets the remaining share of the timeout to finish in-flight
// work. Returns the joined abandonment errors, if any.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	for _, p := range s.pools {
		p.StopLeasing()
	}
	deadline := time.Now().Add(timeout)
	var errs []error
	for _, p := range s.pools {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if err := p.Shutdown(remaining); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info().Int("pools", len(s.pools)).Msg("supervisor stopped")
	return errors.Join(errs...)
}

// Stats returns one census per pool.
func (s *Supervisor) Stats() []PoolStats {
	out := make([]PoolStats, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p.Stats())
	}
	return out
}
