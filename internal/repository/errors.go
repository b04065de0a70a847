package repository

import "errors"

// Sentinel errors shared by the repositories and the registry. Callers
// match them with errors.Is; the HTTP layer maps each to a status code.
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicate covers taken device IDs, taken static addresses and a
	// second link between the same pair of devices
	ErrDuplicate = errors.New("already exists")

	ErrInvalidEntity = errors.New("invalid")

	// ErrOperationNotSupported rejects changes the registry never applies
	// in place, such as changing a device type
	ErrOperationNotSupported = errors.New("operation not supported")
)
