package relay

import (
	"fmt"
	"net/http"
)

// ProtocolError is a caller frame that could not be decoded. The frame is
// dropped and the call continues.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "caller protocol error: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// HandshakeError is a backend WebSocket upgrade rejected with an HTTP status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with %d %s: %v", e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}
func (e *HandshakeError) Unwrap() error { return e.Err }

// UpstreamConnectError means the backend leg could not be opened.
type UpstreamConnectError struct {
	Attempts int
	Err      error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("backend connect failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *UpstreamConnectError) Unwrap() error { return e.Err }

// UpstreamProtocolError is a backend error event, an undecodable backend frame
// or an unexpected backend disconnect.
type UpstreamProtocolError struct {
	ErrorType string
	Code      string
	Err       error
}

func (e *UpstreamProtocolError) Error() string {
	if e.ErrorType == "" && e.Code == "" {
		return "backend protocol error: " + e.Err.Error()
	}
	return fmt.Sprintf("backend protocol error [%s/%s]: %v", e.ErrorType, e.Code, e.Err)
}
func (e *UpstreamProtocolError) Unwrap() error { return e.Err }

// TeardownError is a failure while closing a leg. It is logged and swallowed.
type TeardownError struct {
	Leg string
	Err error
}

func (e *TeardownError) Error() string { return fmt.Sprintf("teardown %s: %v", e.Leg, e.Err) }
func (e *TeardownError) Unwrap() error { return e.Err }
