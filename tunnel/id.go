// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionID is the 128-bit identifier described in the Data Model: randomly
// generated at Open, externally opaque, round-tripping exactly between its
// 16-byte binary wire form and its canonical textual form.
type SessionID = uuid.UUID

// NewSessionID generates a fresh, randomly-distributed session id.
func NewSessionID() SessionID {
	return uuid.New()
}

// ParseSessionID decodes the canonical textual form of a session id, as
// used in the {id} path segments of the Exit HTTP API.
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("%w: %q: %v", ErrMalformedID, s, err)
	}
	return id, nil
}

// DecodeSessionIDBinary decodes the raw 16-byte binary form returned by
// /open. A short or empty body is the open-failure signal defined in
// the wire protocol, not a malformed id.
func DecodeSessionIDBinary(b []byte) (SessionID, error) {
	if len(b) != 16 {
		return SessionID{}, fmt.Errorf("%w: got %d bytes, want 16", ErrOpenFailed, len(b))
	}
	return uuid.FromBytes(b)
}

// EncodeSessionIDBinary returns the raw 16-byte binary form of id, as sent
// in a successful /open response body.
func EncodeSessionIDBinary(id SessionID) []byte {
	b, _ := id.MarshalBinary() // uuid.UUID never fails to marshal
	return b
}
