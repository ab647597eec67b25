package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a mutation is rejected locally. No state
	// changed and nothing was sent.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a mutation targets an entity the mirror
	// does not hold.
	ErrNotFound = errors.New("entity not found")
	// ErrReverted matches every *RevertedError.
	ErrReverted = errors.New("mutation did not take effect, state refreshed")
	// ErrDiscarded means the mutation referenced an entity whose creation was
	// rolled back.
	ErrDiscarded = errors.New("referenced entity was discarded")
	// ErrStale means the server was unreachable and the mirror holds the last
	// persisted snapshot.
	ErrStale = errors.New("showing last saved state")
)

// RevertedError reports a mutation whose optimistic state was discarded.
type RevertedError struct {
	Op  string
	Err error
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrReverted, e.Err)
}

func (e *RevertedError) Unwrap() error { return e.Err }

func (e *RevertedError) Is(target error) bool { return target == ErrReverted }

func invalid(err error) error { return fmt.Errorf("%w: %w", ErrValidation, err) }

func notFound(kind string, id fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

var errSameColumn = errors.New("task is already in that column")
