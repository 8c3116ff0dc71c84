package queue

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a queued job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one unit of queued work. At most one worker holds a job in the
// active state at any time; that exclusivity is the queue's core contract.
type Job struct {
	ID          string
	Queue       string
	Type        string
	Payload     Payload
	EntityKey   string
	State       State
	Attempt     int
	MaxAttempts int
	Progress    int
	Result      json.RawMessage
	Error       string
	NotBefore   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// eligibleAt returns when the job may next be leased. Waiting jobs are
// eligible immediately, delayed jobs once their backoff elapses.
func (j *Job) eligibleAt() time.Time {
	if j.State == StateWaiting {
		return j.CreatedAt
	}
	return j.NotBefore
}

// snapshot returns a copy safe to hand to a worker while the queue keeps
// mutating its own record.
func (j *Job) snapshot() *Job {
	cp := *j
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &cp
}
