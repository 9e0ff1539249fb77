package core

import "errors"

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("print job not found")
	ErrAlreadyPaid        = errors.New("print job already paid")
	ErrInvalidState       = errors.New("invalid payment state transition")
	ErrCodeSpaceExhausted = errors.New("redemption code space exhausted")
	ErrStorageUnavailable = errors.New("document storage unavailable")
	ErrUnreadableDocument = errors.New("unreadable document")
)

// Returned by JobStore implementations only; JobManager translates them.
var (
	ErrStateConflict = errors.New("job is no longer pending")
	ErrCodeConflict  = errors.New("redemption code already in use")
)
