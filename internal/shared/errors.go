package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidType indicates an entity type outside the registry.
	ErrInvalidType = errors.New("invalid type")
	// ErrInvalidField indicates a field name outside the registry's allow-list.
	ErrInvalidField = errors.New("invalid field")
	// ErrMissingID occurs when an operation needs a record id and none was supplied.
	ErrMissingID = errors.New("id required")
	// ErrInvalidID occurs when a supplied record id is not a positive integer.
	ErrInvalidID = errors.New("invalid id")
	// ErrSessionNotActive indicates a token without an active session record.
	ErrSessionNotActive = errors.New("session not active")
)
