// Package repository defines error types that are reused across the
// pre-order, event and user stores.  These sentinel values allow the
// service layer to distinguish a missing row from a row whose status
// moved on before a guarded update could be applied.
package repository

import "errors"

// ErrNotFound is returned when the referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStatusChanged is returned by a guarded transition when the row exists
// but its status (or owner) no longer matches the guard.  Nothing was
// written.
var ErrStatusChanged = errors.New("status changed")

// ErrActiveExists is returned by CreateIfNoActive when the user already
// holds an active pre-order in the requested week.  Nothing was written.
var ErrActiveExists = errors.New("active pre-order exists")
