package archive

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoDestination means Check ran before a destination was configured.
	ErrNoDestination = errors.New("archive destination not set")
	// ErrCancelled reports a user-requested stop. It is not a failure; the
	// last saved artifact stays the durable state.
	ErrCancelled = errors.New("archive run cancelled")
)

// cancelled wraps err so that both ErrCancelled and the context error match.
func cancelled(err error) error {
	if err == nil {
		err = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// Outcome classifies a completed cycle.
type Outcome int

// Recognised cycle outcomes.
const (
	OutcomeUpdated Outcome = iota + 1
	OutcomeNotModified
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
