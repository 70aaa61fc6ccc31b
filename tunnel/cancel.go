// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import "sync"

// oneShot is a cancellation signal that, once fired, stays fired. It is the
// realization of upload_cancel (Exit) and stop_upload/stop_download (Entry)
// from the Concurrency & Resource Model: a handler observes it at a safe
// point — a chunk boundary, a lock acquisition — and unwinds. Firing it
// twice, or from multiple goroutines, is safe and a no-op after the first.
type oneShot struct {
	once sync.Once
	ch   chan struct{}
}

func newOneShot() *oneShot {
	return &oneShot{ch: make(chan struct{})}
}

// Fire trips the signal. Safe to call more than once and concurrently.
func (o *oneShot) Fire() {
	o.once.Do(func() { close(o.ch) })
}

// Done returns a channel that is closed once Fire has been called.
func (o *oneShot) Done() <-chan struct{} {
	return o.ch
}

// Fired reports whether Fire has been called, without blocking.
func (o *oneShot) Fired() bool {
	select {
	case <-o.ch:
		return true
	default:
		return false
	}
}

// valve is download_valve: a stream-terminating gate distinct from oneShot
// because its contract is framing-aware. A oneShot tells a copy loop "stop
// at your next check"; a valve tells a byte stream "end as a clean EOF at
// the next chunk boundary", never as a reset or a write error. We model it
// with the same underlying one-shot signal, but callers that wrap a valve
// around an outgoing stream must check Fired before each chunk write and
// return io.EOF-equivalent termination rather than propagating an error.
type valve struct {
	o *oneShot
}

func newValve() *valve {
	return &valve{o: newOneShot()}
}

func (v *valve) Fire()            { v.o.Fire() }
func (v *valve) Fired() bool      { return v.o.Fired() }
func (v *valve) Done() <-chan struct{} { return v.o.Done() }
