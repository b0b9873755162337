package engine

import (
	"fmt"
)

// SyncError reports a drain cycle whose bulk write failed on every attempt.
// The entries stay pending and are retried by a later cycle.
type SyncError struct {
	// Attempts is the number of write attempts made.
	Attempts int

	// Entries is the number of oplog entries the cycle read.
	Entries int

	// FirstSeq and LastSeq bound the batch.
	FirstSeq int64
	LastSeq  int64

	// Err is the last write error.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed after %d attempts (entries=%d, seq=%d..%d): %v",
		e.Attempts, e.Entries, e.FirstSeq, e.LastSeq, e.Err)
}

// Unwrap returns the last write error.
func (e *SyncError) Unwrap() error {
	return e.Err
}
