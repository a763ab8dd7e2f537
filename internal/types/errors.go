package types

import "errors"

// Domain error taxonomy. Repositories and services wrap these with
// fmt.Errorf("...: %w", ...) so the HTTP boundary can map them with
// errors.Is without inspecting message text.
var (
	ErrNotFound        = errors.New("requested resource not found")
	ErrConflict        = errors.New("resource already exists or conflicts")
	ErrValidation      = errors.New("invalid input")
	ErrForbidden       = errors.New("action forbidden")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
)
