// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import "testing"

func TestNewEntryNodeRejectsMalformedTargetURL(t *testing.T) {
	// An unbalanced "{" breaks URI template parsing, the one way
	// newURLBuilder can fail building the open/upload/download/close
	// templates out of TargetURL.
	if _, err := NewEntryNode(EntryConfig{TargetURL: "http://example.com/{unbalanced"}); err == nil {
		t.Fatal("NewEntryNode with malformed target URL: want error, got nil")
	}
}

func TestNewEntryNodeDefaultsClientAndLogger(t *testing.T) {
	n, err := NewEntryNode(EntryConfig{TargetURL: "http://127.0.0.1:0/"})
	if err != nil {
		t.Fatalf("NewEntryNode: %v", err)
	}
	if n.client == nil {
		t.Error("NewEntryNode left client nil")
	}
	if n.logger == nil {
		t.Error("NewEntryNode left logger nil")
	}
	if n.ActiveHandlers() != 0 {
		t.Errorf("ActiveHandlers on a fresh node = %d, want 0", n.ActiveHandlers())
	}
}
