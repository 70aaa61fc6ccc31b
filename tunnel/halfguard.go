// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import "sync"

// halfMutex guards exclusive access to one direction (read or write) of a
// session's backend TCP connection. It plays the role the spec calls an
// "ownable guard" mutex: Acquire returns a guard value that can be carried
// past the acquiring function's scope — into a long-lived streaming
// handler — instead of requiring a lexically-scoped defer, because Go has
// no borrow checker to enforce a scoped guard's lifetime for us. The guard
// must be Released exactly once by whoever ends up owning it.
//
// Session.writeMu and Session.readMu are each one of these, giving the
// single-writer/single-reader discipline Invariant 3 requires: the upload
// handler holds writeMu for its entire transfer, the download handler holds
// readMu for its entire transfer, and a second upload (or download) for the
// same id simply blocks on Acquire until the first releases.
type halfMutex struct {
	mu sync.Mutex
}

// halfGuard is the owned lock guard. Acquire blocks until the mutex is
// free, then returns a guard that the caller (or whatever it hands the
// guard off to) must Release when the half is no longer in use.
type halfGuard struct {
	mu       *sync.Mutex
	released bool
}

// Acquire blocks until the half is free, then returns a guard for it.
func (m *halfMutex) Acquire() *halfGuard {
	m.mu.Lock()
	return &halfGuard{mu: &m.mu}
}

// Release unlocks the half. Calling Release more than once is a no-op,
// which keeps deferred and explicit releases in the same function safe to
// combine.
func (g *halfGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.mu.Unlock()
}
