package schema

import "errors"

var (
	// ErrNotFound is returned when a record lookup by id finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid record")
)
