package wa

import "github.com/pkg/errors"

// Precondition failures surfaced to the immediate caller (API layer or
// queue worker). Session bootstrap failures are never returned as errors;
// they land in ConnectionState.LastError instead.
var (
	ErrNotFound         = errors.New("not found")
	ErrNotConnected     = errors.New("whatsapp session not connected")
	ErrInvalidAddress   = errors.New("contact phone cannot be normalized")
	ErrMediaUnavailable = errors.New("media unavailable")
)
