package domain

import "time"

// ActivityEntry is one append-only record of a pipeline action, success or
// failure. Entries are never mutated or deleted; they are the audit trail and
// the raw material for derived confidence metrics.
type ActivityEntry struct {
	ID         string        `json:"id"`
	LaunchID   string        `json:"launch_id,omitempty"`
	PositionID string        `json:"position_id,omitempty"`
	JobID      string        `json:"job_id,omitempty"`
	Action     string        `json:"action"` // e.g. create_vault, deploy_curve, rebalance
	Success    bool          `json:"success"`
	Detail     string        `json:"detail,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}
