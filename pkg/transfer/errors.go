package transfer

import (
	"errors"
	"fmt"
)

// Per-item failure classes carried in Outcome.Err. None of them abort a pool.
var (
	// ErrLocalIO means the local file could not be read (PUT) or written (GET).
	ErrLocalIO = errors.New("transfer: local i/o error")

	// ErrTransport means the request never produced a response: connection,
	// DNS, TLS or timeout failure.
	ErrTransport = errors.New("transfer: transport error")

	// ErrHTTPStatus means the server answered with a status other than 200 or 201.
	ErrHTTPStatus = errors.New("transfer: unexpected http status")
)

// Pool errors.
var (
	ErrMethodMismatch = errors.New("transfer: item method does not match pool method")
	ErrPoolConsumed   = errors.New("transfer: pool already run")
	ErrInvalidLimit   = errors.New("transfer: limit must be at least 1")
)

// ManifestError is returned when a manifest is missing required structure.
// It is raised before any network activity.
type ManifestError struct {
	Reason string
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid manifest: %s: %v", e.Reason, e.Err)
	}
	return "invalid manifest: " + e.Reason
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}
