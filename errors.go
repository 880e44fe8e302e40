// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package labrad

import (
	"errors"
	"fmt"

	"github.com/creachadair/labrad/data"
	"github.com/creachadair/labrad/types"
)

var (
	// ErrClosed is reported for requests on a connection that has closed,
	// including requests pending when the connection closed normally.
	ErrClosed = errors.New("connection closed")

	// ErrCanceled is reported for a request that was canceled by the caller.
	// When the cancellation was caused by a context ending, the error also
	// wraps the context error.
	ErrCanceled = errors.New("request canceled")

	// ErrIncorrectPassword is reported by Login when the manager rejects the
	// password.
	ErrIncorrectPassword = errors.New("incorrect password")

	// ErrNotConnected is reported for requests on a connection that is not yet
	// ready to serve them.
	ErrNotConnected = errors.New("connection is not logged in")
)

// TransportError reports a failure of the underlying channel. Any transport
// error is fatal to the connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// LoginError reports a failure during the login exchange. The connection is
// closed when a login error occurs.
type LoginError struct {
	Stage string // "ping", "password", or "identify"
	Err   error
}

func (e *LoginError) Error() string { return fmt.Sprintf("login (%s): %v", e.Stage, e.Err) }

func (e *LoginError) Unwrap() error { return e.Err }

// ProtocolError reports a packet whose framing was intact but whose records
// could not be decoded. Packet holds the header fields of the packet.
type ProtocolError struct {
	Packet *Packet
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("invalid packet (ctx=%v, req=%d): %v", e.Packet.Context, e.Packet.Request, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is an error reported by the remote side of a request, carried
// as an Error record. A handler may return a *RemoteError to choose the code
// and payload reported to the caller.
type RemoteError struct {
	Setting uint32 // the setting that failed, if known
	Code    int32
	Message string
	Payload *data.Data // nil if the error has no payload
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error [code %d]: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

// Data returns the error as an Error value suitable for a record.
func (e *RemoteError) Data() *data.Data { return data.Error(e.Code, e.Message, e.Payload) }

// remoteError converts an Error value into a *RemoteError.
func remoteError(setting uint32, d *data.Data) *RemoteError {
	e := &RemoteError{Setting: setting, Code: d.ErrorCode(), Message: d.ErrorMessage()}
	if p := d.ErrorPayload(); p.Kind() != types.KindEmpty {
		e.Payload = p.Clone()
	}
	return e
}

// canceled returns the error reported for a request canceled because of
// cause, which may be nil.
func canceled(cause error) error {
	if cause == nil {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}
