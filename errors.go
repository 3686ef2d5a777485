package slotcache

import (
	"errors"
	"fmt"
)

// ErrNotInitialized indicates a cache was used before its vault was opened or
// after it was closed. Unlike store failures, which are absorbed through the
// error hook, this classification always propagates: misuse should be loud.
var ErrNotInitialized = errors.New("slotcache: vault not initialized")

// CorruptionError reports a store file that failed its integrity probe and
// could not be recovered.
type CorruptionError struct {
	// Store is the logical store name, e.g. "slotcache-stamps".
	Store string
	Err   error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("slotcache: store %q is corrupted: %v", e.Store, e.Err)
}

// Unwrap returns the underlying error.
func (e *CorruptionError) Unwrap() error { return e.Err }
