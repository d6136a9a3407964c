package cache

import "errors"

// Sentinel errors mapped 1:1 onto the wire reply codes in internal/proto
// (spec.md §6/§7's error taxonomy).
var (
	ErrNotFound = errors.New("key not found")
	ErrNaN      = errors.New("value is not a number")
	ErrLocked   = errors.New("key is locked")
	ErrOOM      = errors.New("memory budget exceeded")
)
