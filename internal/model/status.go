package model

import (
	"errors"
	"fmt"
)

// BatchStatus is the lifecycle state of a batch. The integer values are the
// ones persisted in the batches table.
type BatchStatus int

const (
	BatchOpen BatchStatus = iota
	BatchCommitted
	BatchRolledBack
)

var (
	// ErrBatchConflict is returned when a terminal batch is asked to move to
	// the other terminal state, or to accept more entries.
	ErrBatchConflict = errors.New("batch already closed")
	// ErrNotTerminal is returned when Close is asked to move to BatchOpen.
	ErrNotTerminal = errors.New("target status is not terminal")
)

func (s BatchStatus) String() string {
	switch s {
	case BatchOpen:
		return "open"
	case BatchCommitted:
		return "committed"
	case BatchRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("BatchStatus(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchCommitted || s == BatchRolledBack
}

// Close resolves a request to move a batch from s to the terminal status to.
// changed is true when the transition must be applied. Repeating the
// transition a batch already went through is a no-op; asking for the other
// one fails with ErrBatchConflict.
func (s BatchStatus) Close(to BatchStatus) (changed bool, err error) {
	if !to.Terminal() {
		return false, ErrNotTerminal
	}
	switch {
	case s == BatchOpen:
		return true, nil
	case s == to:
		return false, nil
	default:
		return false, fmt.Errorf("%w: batch is %s, cannot mark %s", ErrBatchConflict, s, to)
	}
}

// Accepting reports an error unless entries may still be added.
func (s BatchStatus) Accepting() error {
	if s != BatchOpen {
		return fmt.Errorf("%w: batch is %s", ErrBatchConflict, s)
	}
	return nil
}
