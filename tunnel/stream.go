// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"io"
	"net"
	"time"
)

// Tuning constants for the streaming adapter described in §4.4: it must
// not buffer the entire payload, so chunks are bounded by copyBufferSize,
// and cancellation is observed cooperatively by polling a short read
// deadline rather than blocking indefinitely on the network.
const (
	copyBufferSize = 32 * 1024
	pollInterval   = 200 * time.Millisecond
)

// isTimeout reports whether err is a net.Error timeout, i.e. an expired
// read/write deadline rather than a genuine I/O failure.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// signal is the minimal interface the streaming adapter needs from a
// cancellation primitive: something it can poll without blocking.
type signal interface {
	Fired() bool
}

// deadlineReader turns an exclusively-held net.Conn half into the lazy,
// cancellable byte sequence §4.4 calls for: it owns the half it reads
// from (conn) for as long as it is read, polls a short read deadline so a
// stalled connection doesn't block cancellation forever, and terminates
// as a clean io.EOF once its signal fires (checked before each read and
// after each poll interval) — never as an error. Entry's upload task uses
// it, gated by its stop_upload oneShot, as the POST /upload body; Exit's
// download handler uses copyChunked with the session's valve instead.
//
// This is the self-referential adapter described in the Design Notes: it
// holds both the guard that owns conn and the reader over conn itself.
// Go has no borrow checker, so — per the "managed languages" strategy the
// spec names — the struct simply holds both together and nothing borrows
// past its own lifetime.
type deadlineReader struct {
	conn net.Conn
	sig  signal
	done *halfGuard // released when the adapter is done with conn, or nil
}

// newDeadlineReader wraps conn with cancellation signal sig. If guard is
// non-nil, the adapter releases it exactly once when the caller is done
// reading (Close), which is how a halfMutex guard rides along with a
// reader passed into an HTTP request/response body past the acquiring
// function's stack frame.
func newDeadlineReader(conn net.Conn, sig signal, guard *halfGuard) *deadlineReader {
	return &deadlineReader{conn: conn, sig: sig, done: guard}
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	for {
		if r.sig.Fired() {
			return 0, io.EOF
		}
		r.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := r.conn.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return 0, err
		}
	}
}

// Close releases the carried guard, if any. It does not close conn: the
// half's lifetime is owned by the Session, not by this adapter.
func (r *deadlineReader) Close() error {
	r.done.Release()
	return nil
}

// copyChunked copies from src to dst in fixed-size chunks, flushing dst
// after each chunk if it implements http.Flusher-like flushing via the
// provided flush func. It preserves backpressure (never buffers more than
// one chunk ahead) and stops cleanly, without error, when sig fires or src
// reaches EOF; any other error is returned. This is the Exit-side download
// half of the streaming adapter, where the destination is an
// http.ResponseWriter rather than a plain io.Writer, so chunk boundaries
// must be flushed explicitly to avoid buffering inside net/http.
func copyChunked(dst io.Writer, flush func(), src net.Conn, sig signal) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		if sig.Fired() {
			return total, nil
		}
		src.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if flush != nil {
				flush()
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
