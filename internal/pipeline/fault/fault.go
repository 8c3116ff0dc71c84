// Package fault classifies pipeline failures so the job queue can decide
// between retrying and terminating. Bad payloads and invariant breaches are
// never retried; transient external errors are.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the retry classification of a failure.
type Kind int

const (
	// Transient covers network/timeout/rate-limit failures from external
	// collaborators. Retried per queue policy.
	Transient Kind = iota
	// Validation covers bad payloads. Surfaced immediately, never retried.
	Validation
	// Terminal covers external failures that retrying cannot fix
	// (insufficient funds, invalid on-chain state).
	Terminal
	// Invariant covers programming-level bugs (e.g. rebalancing a closed
	// position). Fatal, never retried.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Terminal:
		return "terminal"
	case Invariant:
		return "invariant"
	default:
		return "transient"
	}
}

// Fault is a classified pipeline failure.
type Fault struct {
	Kind  Kind
	Stage string
	Err   error
}

func (f *Fault) Error() string {
	if f.Stage != "" {
		return fmt.Sprintf("%s fault at stage %s: %v", f.Kind, f.Stage, f.Err)
	}
	return fmt.Sprintf("%s fault: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New wraps err with a classification and the stage it occurred in.
func New(kind Kind, stage string, err error) *Fault {
	return &Fault{Kind: kind, Stage: stage, Err: err}
}

// Validationf builds a validation fault from a format string.
func Validationf(format string, args ...any) *Fault {
	return &Fault{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

// Invariantf builds an invariant fault from a format string.
func Invariantf(format string, args ...any) *Fault {
	return &Fault{Kind: Invariant, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from an error chain.
// Unclassified errors default to Transient: the external collaborators do not
// always distinguish a dead RPC from a dead launch, and retrying is the safer
// default for everything not explicitly marked terminal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Transient
}

// Retryable reports whether the queue should reschedule the job.
func Retryable(err error) bool {
	return KindOf(err) == Transient
}
