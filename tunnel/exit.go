// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/encoding/json"
)

// ExitConfig configures an ExitNode.
type ExitConfig struct {
	// TargetAddr is the backend address dialed on every Open.
	TargetAddr string
	// DialTimeout bounds a single backend connect attempt. Zero means no
	// timeout beyond the request's own context.
	DialTimeout time.Duration
	// Logger receives per-session diagnostic lines. Defaults to log.Default().
	Logger *log.Logger
}

// ExitNode hosts the session endpoints of §4.1 and owns the session
// registry. It implements http.Handler and is meant to be served directly
// by an *http.Server.
type ExitNode struct {
	cfg      ExitConfig
	registry *Registry
	router   *mux.Router
	logger   *log.Logger
}

// NewExitNode builds an ExitNode that dials cfg.TargetAddr on every Open.
func NewExitNode(cfg ExitConfig) *ExitNode {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	n := &ExitNode{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   logger,
	}
	r := mux.NewRouter()
	r.Handle("/open", panicMiddleware(logger, http.HandlerFunc(n.handleOpen))).Methods(http.MethodGet)
	r.Handle("/upload/{id}", panicMiddleware(logger, http.HandlerFunc(n.handleUpload))).Methods(http.MethodPost)
	r.Handle("/download/{id}", panicMiddleware(logger, http.HandlerFunc(n.handleDownload))).Methods(http.MethodGet)
	r.Handle("/close/{id}", panicMiddleware(logger, http.HandlerFunc(n.handleClose))).Methods(http.MethodGet)
	r.Handle("/healthz", panicMiddleware(logger, http.HandlerFunc(n.handleHealthz))).Methods(http.MethodGet)
	n.router = r
	return n
}

// ServeHTTP implements http.Handler.
func (n *ExitNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.router.ServeHTTP(w, r)
}

// Registry exposes the session registry, mainly for tests asserting
// session-count conservation (Testable Properties, Invariant 2).
func (n *ExitNode) Registry() *Registry { return n.registry }

// Shutdown tears down every live session. Call it alongside the owning
// http.Server's Shutdown/Close so no backend socket is leaked.
func (n *ExitNode) Shutdown() {
	n.registry.CloseAll()
}

func (n *ExitNode) dialBackend(ctx context.Context) (net.Conn, string, error) {
	if n.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.DialTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.cfg.TargetAddr)
	if err != nil {
		return nil, "", err
	}
	return conn, n.cfg.TargetAddr, nil
}

// handleOpen implements GET /open: one backend connect attempt; on success
// the 16-byte binary session id is the body, on failure the body is empty
// (the open-failure signal Entry must treat specially).
func (n *ExitNode) handleOpen(w http.ResponseWriter, r *http.Request) {
	sess, err := n.registry.Open(r.Context(), DialerFunc(n.dialBackend))
	if err != nil {
		n.logger.Printf("open: backend connect failed: %v", err)
		w.WriteHeader(http.StatusOK) // empty body signals failure per §4.1
		return
	}
	n.logger.Printf("open: session %s -> %s", sess.ID, sess.backendAddr)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(EncodeSessionIDBinary(sess.ID))
}

// uploadOutcome is the JSON diagnostic body returned alongside a 200 from
// /upload — structure added by SPEC_FULL over the spec's bare string
// marker, without changing the wire contract: it is always a 200, and the
// real teardown signal is still the session's registry state.
type uploadOutcome struct {
	Outcome string `json:"outcome"`
	Bytes   int64  `json:"bytes"`
}

func (n *ExitNode) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := ParseSessionID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := n.registry.Lookup(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	guard := sess.writeMu.Acquire()
	defer guard.Release()

	outcome, written := n.copyUpload(sess, r, http.NewResponseController(w))
	n.logger.Printf("upload %s: %s (%d bytes)", sess.ID, outcome, written)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(uploadOutcome{Outcome: outcome, Bytes: written})
}

// copyUpload reads the request body and writes every byte, in order, to
// the session's backend write half, per §4.1's upload contract: it returns
// "finished" on body EOF, "cancelled" if upload_cancel fires first, and
// "target disconnect" on a backend write failure — in all three cases the
// handler itself still returns success; a write failure additionally tears
// the whole session down, which is how that failure is "communicated
// out-of-band" as the spec requires. A timed-out read ends a chunked
// request body for good in net/http, so the body is not polled with short
// deadlines: a watcher moves the read deadline to now once upload_cancel
// fires, which interrupts the blocked read.
func (n *ExitNode) copyUpload(sess *Session, r *http.Request, rc *http.ResponseController) (string, int64) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sess.uploadCancel.Done():
			rc.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if sess.uploadCancel.Fired() {
			return "cancelled", written
		}
		nr, rerr := r.Body.Read(buf)
		if nr > 0 {
			if _, werr := sess.conn.Write(buf[:nr]); werr != nil {
				n.registry.Close(sess.ID)
				return "target disconnect", written
			}
			written += int64(nr)
		}
		if rerr != nil {
			if sess.uploadCancel.Fired() {
				return "cancelled", written
			}
			return "finished", written
		}
	}
}

func (n *ExitNode) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := ParseSessionID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := n.registry.Lookup(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	guard := sess.readMu.Acquire()
	defer guard.Release()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush() // send headers now, before the backend has sent anything
	}

	written, err := copyChunked(w, flusherFunc(flusher), sess.conn, sess.downloadValve)
	if err != nil {
		n.logger.Printf("download %s: backend read failed after %d bytes: %v", sess.ID, written, err)
		n.registry.Close(sess.ID)
		return
	}
	n.logger.Printf("download %s: %d bytes", sess.ID, written)
}

func (n *ExitNode) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := ParseSessionID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.registry.Close(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	n.logger.Printf("close %s", id)
	w.WriteHeader(http.StatusOK)
}

type healthzResponse struct {
	Sessions int `json:"sessions"`
}

func (n *ExitNode) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthzResponse{Sessions: n.registry.Len()})
}

// flusherFunc adapts a possibly-nil http.Flusher to the flush callback
// copyChunked expects.
func flusherFunc(f http.Flusher) func() {
	if f == nil {
		return nil
	}
	return f.Flush
}
