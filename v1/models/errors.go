package models

import "errors"

// Sentinel errors for the grant engine. Services wrap these with
// fmt.Errorf("%w: %w", ...) so handlers can classify with errors.Is.
var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrAttachmentNotFound  = errors.New("attachment not found")
	ErrUnknownFormType     = errors.New("unknown form type")
	ErrMalformedRequest    = errors.New("malformed submission request")
	ErrConflict            = errors.New("application was modified concurrently")
	ErrPersistenceFailed   = errors.New("persistence operation failed")
	ErrNotOwner            = errors.New("application belongs to a different student")
)
