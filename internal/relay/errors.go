package relay

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when a relay call requiring a session
// credential is attempted without one. The call fails fast, before any I/O.
var ErrUnauthenticated = errors.New("not authenticated")

// NetworkError indicates the transport itself failed: the request never
// reached the relay or the response never arrived.
type NetworkError struct {
	Err error
}

// Error returns a description of the transport failure.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("relay unreachable: %v", e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError indicates the relay answered with a non-2xx status. Message
// carries the server-reported reason when the error payload could be parsed,
// otherwise the HTTP status text.
type ServerError struct {
	Code    int
	Message string
}

// Error returns the server-reported failure reason.
func (e *ServerError) Error() string {
	return fmt.Sprintf("relay error (status %d): %s", e.Code, e.Message)
}
