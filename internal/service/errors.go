package service

import "errors"

// Sentinel errors returned by the pre-order services.  Handlers translate
// them into HTTP status codes.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")

	// ErrChargePending means a gateway callback arrived before the charge
	// was recorded; the callback should be retried.
	ErrChargePending = errors.New("charge not yet recorded")
)
