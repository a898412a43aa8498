package domain

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when another run holds the account's sync claim.
var ErrSyncInProgress = errors.New("sync already in progress")

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
