package document

import "errors"

// Errors returned by the collaboration core. Callers match them with errors.Is.
var (
	// ErrNotFound is returned for an unknown document or comment.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the caller lacks the required grant.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrEditConflict is returned when an edit overlaps a recent edit by
	// another user, or was computed against stale content. Retryable after
	// re-reading the document.
	ErrEditConflict = errors.New("edit conflict")

	// ErrInvalidState is returned for transitions the lifecycle does not allow.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreUnavailable wraps failures of the document store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
