package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrDuplicate means an insert violated a unique constraint.
	ErrDuplicate = errors.New("store: duplicate entry")

	// ErrDuplicateRoom is returned when a channel with the same name already exists.
	ErrDuplicateRoom = fmt.Errorf("%w: channel name taken", ErrDuplicate)

	// ErrUnavailable wraps every failure of the datastore itself: timeouts,
	// an open circuit breaker, driver errors.
	ErrUnavailable = errors.New("store: unavailable")
)
