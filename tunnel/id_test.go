// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSessionIDBinaryRoundTrip(t *testing.T) {
	for i := 0; i < 10; i++ {
		id := NewSessionID()
		bin := EncodeSessionIDBinary(id)
		if len(bin) != 16 {
			t.Fatalf("encoded id is %d bytes, want 16", len(bin))
		}
		got, err := DecodeSessionIDBinary(bin)
		if err != nil {
			t.Fatalf("DecodeSessionIDBinary: %v", err)
		}
		if diff := cmp.Diff(id, got); diff != "" {
			t.Errorf("binary round-trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSessionIDTextRoundTrip(t *testing.T) {
	id := NewSessionID()
	got, err := ParseSessionID(id.String())
	if err != nil {
		t.Fatalf("ParseSessionID: %v", err)
	}
	if diff := cmp.Diff(id, got); diff != "" {
		t.Errorf("textual round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSessionIDBinaryShort(t *testing.T) {
	for _, n := range []int{0, 1, 15, 17} {
		if _, err := DecodeSessionIDBinary(make([]byte, n)); err == nil {
			t.Errorf("DecodeSessionIDBinary(%d bytes): want error, got nil", n)
		}
	}
}

func TestParseSessionIDMalformed(t *testing.T) {
	if _, err := ParseSessionID("not-a-uuid"); err == nil {
		t.Error("ParseSessionID(\"not-a-uuid\"): want error, got nil")
	}
}
