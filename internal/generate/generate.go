// Package generate defines the boundary to the external text-generation
// capability. The orchestrator treats generation as a fallible, retryable
// call with no side effects of its own; nothing here touches canonical
// journey state.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/kingrea/journeysim/internal/journey"
)

// Request is the context window handed to the generation capability for one
// turn.
type Request struct {
	Role       journey.Role
	Topic      journey.Topic
	Week       int
	Turn       int
	MemberName string
	History    []journey.Message
	Attributes journey.Attributes
}

// Reply is one generated turn: opaque text plus the structured annotations
// the scheduler folds into canonical state.
type Reply struct {
	Text        string
	Annotations journey.Annotations
}

// Generator produces one reply for a turn. Implementations must be safe for
// concurrent use; the scheduler may run threads in parallel.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// TransientError marks a failure worth retrying (network hiccups, provider
// throttling). Anything else is treated as permanent for the attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("generate: transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FailedError is the escalation after bounded retries are exhausted. It
// aborts the current thread only, never the whole week.
type FailedError struct {
	Role     journey.Role
	Attempts int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("generate: %s reply failed after %d attempts: %v", e.Role, e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }
