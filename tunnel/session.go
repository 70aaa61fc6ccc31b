// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Session is the Exit-side record of one tunnelled TCP conversation,
// exactly as described in the Data Model: a session id, exclusive-ownership
// halves of the backend TCP socket, and the two cancellation primitives
// consumed by the upload and download handlers. A Session is created by a
// successful Open and destroyed by Close or when the registry is torn down
// at shutdown; a failed Open never creates one.
type Session struct {
	ID SessionID

	conn        net.Conn
	backendAddr string
	createdAt   time.Time

	writeMu halfMutex // held by the in-flight upload handler
	readMu  halfMutex // held by the in-flight download handler

	uploadCancel  *oneShot
	downloadValve *valve
}

// BackendAddr returns the backend address this session's socket connects
// to, for diagnostics only; the core transfer logic never consults it.
func (s *Session) BackendAddr() string { return s.backendAddr }

// CreatedAt returns the session's creation time, for diagnostics only.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Registry is the in-memory mapping from session id to live session,
// described in §3 "Session registry". Readers (upload/download handlers)
// take the read lock only long enough to clone out the *Session pointer
// they need; writers (Open, Close) take the write lock to insert or
// remove. Because a *Session's fields never change identity after
// insertion (only the state reachable through its mutexes and signals
// does), cloning out the pointer under RLock is sufficient for a
// concurrent Close to be unable to invalidate a reference already in use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*Session)}
}

// Dialer connects to the configured backend and reports the address it
// used, so Open can attach it to the new Session for diagnostics.
type Dialer interface {
	DialBackend(ctx context.Context) (net.Conn, string, error)
}

// DialerFunc adapts a plain function to a Dialer.
type DialerFunc func(ctx context.Context) (net.Conn, string, error)

func (f DialerFunc) DialBackend(ctx context.Context) (net.Conn, string, error) {
	return f(ctx)
}

// Open attempts one backend connect via d. On success it mints a fresh
// session id, inserts a new Session (both cancellation primitives in their
// initial unfired state) and returns it. On failure it returns the dial
// error and inserts nothing — Open failure is never communicated by
// inserting and then immediately removing a session.
func (r *Registry) Open(ctx context.Context, d Dialer) (*Session, error) {
	conn, addr, err := d.DialBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend connect: %w", err)
	}
	sess := &Session{
		ID:            NewSessionID(),
		conn:          conn,
		backendAddr:   addr,
		createdAt:     time.Now(),
		uploadCancel:  newOneShot(),
		downloadValve: newValve(),
	}
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess, nil
}

// Lookup clones out the *Session for id, or ErrSessionNotFound.
func (r *Registry) Lookup(id SessionID) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Close removes id from the registry and fires both of its cancellation
// primitives, then closes the backend socket so that any handler currently
// blocked on a read or write of that socket unblocks with an error rather
// than hanging forever. Close is authoritative: once it returns, no
// further Lookup will find id, even if an upload or download handler is
// still unwinding in the background holding its half's mutex.
func (r *Registry) Close(id SessionID) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.uploadCancel.Fire()
	sess.downloadValve.Fire()
	sess.conn.Close()
	return nil
}

// Len reports the number of live sessions, for the /healthz diagnostic and
// for tests asserting session-count conservation.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every session, for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[SessionID]*Session)
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.uploadCancel.Fire()
		sess.downloadValve.Fire()
		sess.conn.Close()
	}
}
