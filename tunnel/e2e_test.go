// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

// e2eHarness wires a real Entry accept listener to a real Exit node (served
// over an in-process httptest.Server) to a real backend TCP listener, the
// same three-process topology the spec describes collapsed into one test
// binary.
type e2eHarness struct {
	t         *testing.T
	entryLn   net.Listener
	exitSrv   *httptest.Server
	exitNode  *ExitNode
	entryNode *EntryNode
	cancel    context.CancelFunc
}

func newE2EHarness(t *testing.T, backendAddr string) *e2eHarness {
	t.Helper()
	exitNode := NewExitNode(ExitConfig{TargetAddr: backendAddr})
	exitSrv := httptest.NewServer(exitNode)
	t.Cleanup(exitSrv.Close)

	entryNode, err := NewEntryNode(EntryConfig{
		TargetURL:  exitSrv.URL + "/",
		HTTPClient: exitSrv.Client(),
	})
	if err != nil {
		t.Fatalf("NewEntryNode: %v", err)
	}

	entryLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { entryLn.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	go entryNode.Serve(ctx, entryLn)
	t.Cleanup(cancel)

	return &e2eHarness{
		t: t, entryLn: entryLn, exitSrv: exitSrv,
		exitNode: exitNode, entryNode: entryNode, cancel: cancel,
	}
}

func (h *e2eHarness) dial() net.Conn {
	h.t.Helper()
	conn, err := net.Dial("tcp", h.entryLn.Addr().String())
	if err != nil {
		h.t.Fatalf("dial entry: %v", err)
	}
	return conn
}

// waitFor polls cond until it is true or the timeout elapses, failing the
// test on timeout. Used for the asynchronous teardown properties (session
// count, handler count) that settle shortly after a socket close rather
// than synchronously with it.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition did not become true within timeout")
	}
}

// pingPongByteExact drives payload through a fresh Entry/Exit/echo-backend
// stack and asserts it comes back byte-for-byte identical, the shared body
// of Scenario A at whatever size the caller picks.
func pingPongByteExact(t *testing.T, payload []byte) {
	t.Helper()
	ln := echoBackend(t)
	h := newE2EHarness(t, ln.Addr().String())
	conn := h.dial()
	defer conn.Close()

	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(payload)
		writeErr <- err
	}()

	got := make([]byte, len(payload))
	if _, err := readFull(conn, got); err != nil {
		t.Fatalf("reading echoed payload: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("echoed payload does not match what was sent")
	}
}

// TestPingPongByteExact is Scenario A at a size that crosses several chunk
// boundaries: the payload sent must arrive byte-for-byte identical.
func TestPingPongByteExact(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), (3*copyBufferSize)/16+3)
	pingPongByteExact(t, payload)
}

// TestPingPongLargePayload is Scenario A at its specified size: a 10 MiB +
// 42 byte payload must stream through Entry -> Exit -> backend -> Exit ->
// Entry and arrive byte-for-byte identical. The tunnel's copy loops
// (Exit's copyUpload and copyChunked, Entry's downloadTask) move the
// payload in copyBufferSize chunks rather than buffering the whole body.
// The test itself holds the full payload and the full echo in memory and
// does not measure memory use.
func TestPingPongLargePayload(t *testing.T) {
	const size = 10*1024*1024 + 42
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	pingPongByteExact(t, payload)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestClientInitiatedClose is Scenario B: closing the client's TCP socket
// must propagate to a backend EOF and the session must be torn down.
func TestClientInitiatedClose(t *testing.T) {
	ln := echoBackend(t)
	h := newE2EHarness(t, ln.Addr().String())
	conn := h.dial()

	conn.Write([]byte("hello"))
	buf := make([]byte, 5)
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("reading echo: %v", err)
	}

	conn.Close()

	waitFor(t, 2*time.Second, func() bool { return h.exitNode.Registry().Len() == 0 })
	waitFor(t, 2*time.Second, func() bool { return h.entryNode.ActiveHandlers() == 0 })
}

// TestBackendInitiatedClose is Scenario C: the backend closing its end must
// propagate to the client observing EOF, and the session must be removed.
func TestBackendInitiatedClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("bye"))
		conn.Close()
	}()

	h := newE2EHarness(t, ln.Addr().String())
	conn := h.dial()
	defer conn.Close()

	buf := make([]byte, 3)
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("reading final bytes: %v", err)
	}
	if !bytes.Equal(buf, []byte("bye")) {
		t.Fatalf("got %q, want %q", buf, "bye")
	}

	// The connection must now observe EOF (the backend closed its half).
	more := make([]byte, 1)
	n, err := conn.Read(more)
	if n != 0 || err == nil {
		t.Fatalf("expected EOF after backend close, got (%d, %v)", n, err)
	}

	waitFor(t, 2*time.Second, func() bool { return h.exitNode.Registry().Len() == 0 })
	waitFor(t, 2*time.Second, func() bool { return h.entryNode.ActiveHandlers() == 0 })
}

// TestRapidOpenCloseWithoutTraffic exercises opening and immediately
// closing many client connections with no payload exchanged at all, per
// the zero-traffic boundary case noted alongside Scenario D.
func TestRapidOpenCloseWithoutTraffic(t *testing.T) {
	ln := echoBackend(t)
	h := newE2EHarness(t, ln.Addr().String())

	for i := 0; i < 20; i++ {
		conn := h.dial()
		conn.Close()
	}

	waitFor(t, 2*time.Second, func() bool { return h.exitNode.Registry().Len() == 0 })
	waitFor(t, 2*time.Second, func() bool { return h.entryNode.ActiveHandlers() == 0 })
}

// TestZeroByteHalfCloseStillTearsDown sends nothing in either direction
// before the client closes, the minimal boundary case for Invariant 2
// (session-count conservation holds even with no bytes transferred).
func TestZeroByteHalfCloseStillTearsDown(t *testing.T) {
	ln := echoBackend(t)
	h := newE2EHarness(t, ln.Addr().String())

	conn := h.dial()
	conn.Close()

	waitFor(t, 2*time.Second, func() bool { return h.exitNode.Registry().Len() == 0 })
	waitFor(t, 2*time.Second, func() bool { return h.entryNode.ActiveHandlers() == 0 })
}
