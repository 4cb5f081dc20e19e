package resultstore

import "fmt"

var (
	// ErrNotFound is returned when no payload exists for the given reference,
	// either because it expired or because the task never overflowed. All
	// backends map their native miss condition to this sentinel.
	ErrNotFound = fmt.Errorf("result payload not found")
)
