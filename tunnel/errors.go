// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Sentinel errors returned by the session registry and the session
// protocol handlers. Callers compare against these with errors.Is;
// handlers never panic on them.
var (
	// ErrSessionNotFound is returned by Registry.Lookup and Registry.Close
	// when the id is not present. It maps to a 4xx response on the wire.
	ErrSessionNotFound = errors.New("tunnel: session not found")

	// ErrMalformedID is returned when an {id} path segment fails to parse as
	// a session id. A bad /open body is reported as ErrOpenFailed instead.
	ErrMalformedID = errors.New("tunnel: malformed session id")

	// ErrOpenFailed is returned by the Entry node when /open's response body
	// is empty or short, signalling that the Exit node could not connect to
	// its backend.
	ErrOpenFailed = errors.New("tunnel: open failed")
)

// BindFailureKind classifies a listener bind error for operator-facing
// reporting, per the taxonomy in the Error Handling Design.
type BindFailureKind int

const (
	BindFailureOther BindFailureKind = iota
	BindFailureInUse
	BindFailureUnavailable
	BindFailurePermission
)

func (k BindFailureKind) String() string {
	switch k {
	case BindFailureInUse:
		return "address in use"
	case BindFailureUnavailable:
		return "address not available"
	case BindFailurePermission:
		return "permission denied"
	default:
		return "other"
	}
}

// ClassifyBindError inspects a net.Listen error and reports which of the
// operator-meaningful bind-failure kinds it represents. It unwraps
// net.OpError and syscall.Errno the way the standard library net package
// itself builds such errors, rather than string-matching err.Error().
func ClassifyBindError(err error) BindFailureKind {
	if err == nil {
		return BindFailureOther
	}
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return BindFailureInUse
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		return BindFailureUnavailable
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return BindFailurePermission
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassifyBindError(opErr.Err)
	}
	return BindFailureOther
}

// BindError wraps a bind failure with its classification for operator
// output.
type BindError struct {
	Addr string
	Kind BindFailureKind
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func newBindError(addr string, err error) *BindError {
	return &BindError{Addr: addr, Kind: ClassifyBindError(err), Err: err}
}
