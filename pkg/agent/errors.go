package agent

import "errors"

var (
	// ErrUnauthorized: the caller is not the record's authority, or the
	// caller's identity could not be verified.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyExists: registration targeted an occupied handle.
	ErrAlreadyExists = errors.New("agent already exists")
	// ErrNotFound: the handle does not resolve to a record.
	ErrNotFound = errors.New("agent not found")
	// ErrAllocationFailed: the store could not provision space for a record.
	ErrAllocationFailed = errors.New("allocation failed")
	// ErrConflict: a concurrent write to the same record won. Callers may
	// re-read and retry.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrAdmissionDenied: the registration was rejected by the configured
	// admission policy.
	ErrAdmissionDenied = errors.New("registration denied by admission policy")

	ErrMetadataTooLarge = errors.New("capabilities uri exceeds fixed width")
	ErrInvalidRecord    = errors.New("invalid agent record")
)
