// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// EntryConfig configures an EntryNode.
type EntryConfig struct {
	// TargetURL is the Exit node's base URL; it must end with "/" and is
	// expanded against the open/upload/download/close URI templates.
	TargetURL string
	// HTTPClient overrides the process-wide singleton client. Tests use
	// this; production code should leave it nil.
	HTTPClient *http.Client
	// Logger receives per-connection diagnostic lines. Defaults to
	// log.Default().
	Logger *log.Logger
}

// EntryNode accepts client TCP connections and drives one tunnelled
// session per connection against an Exit node, per §4.2.
type EntryNode struct {
	client *http.Client
	urls   *urlBuilder
	logger *log.Logger

	active atomic.Int64
}

// NewEntryNode validates cfg.TargetURL and returns a ready EntryNode.
func NewEntryNode(cfg EntryConfig) (*EntryNode, error) {
	urls, err := newURLBuilder(cfg.TargetURL)
	if err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &EntryNode{client: client, urls: urls, logger: logger}, nil
}

// ActiveHandlers reports the number of in-flight per-connection handlers,
// for tests asserting Testable Property 4 (no leaked handler tasks).
func (n *EntryNode) ActiveHandlers() int64 { return n.active.Load() }

// Serve runs the accept loop on ln. It returns when ln.Accept fails
// permanently (including because ctx was cancelled, which closes ln) or
// with an error from Accept itself. Individual connection handler
// failures never terminate the loop, per §4.2.
func (n *EntryNode) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		n.active.Add(1)
		go n.handleConnSafe(ctx, conn)
	}
}

func (n *EntryNode) handleConnSafe(ctx context.Context, conn net.Conn) {
	defer n.active.Add(-1)
	defer RecoverAndExit(n.logger)
	n.handleConn(ctx, conn)
}

// handleConn implements the per-connection handler of §4.2, steps 1–4.
func (n *EntryNode) handleConn(ctx context.Context, client net.Conn) {
	defer client.Close()

	id, err := n.open(ctx)
	if err != nil {
		n.logger.Printf("open failed, dropping connection from %s: %v", client.RemoteAddr(), err)
		return
	}
	n.logger.Printf("session %s: opened for %s", id, client.RemoteAddr())
	defer n.closeBestEffort(ctx, id)

	stopUpload := newOneShot()
	stopDownload := newOneShot()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n.uploadTask(ctx, client, id, stopUpload)
		stopDownload.Fire()
	}()
	go func() {
		defer wg.Done()
		n.downloadTask(ctx, client, id, stopDownload)
		stopUpload.Fire()
	}()
	wg.Wait()
	n.logger.Printf("session %s: closed", id)
}

// open calls GET /open and parses the 16-byte session id out of the
// response body. A short or empty body is ErrOpenFailed.
func (n *EntryNode) open(ctx context.Context) (SessionID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.urls.openURL(), nil)
	if err != nil {
		return SessionID{}, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return SessionID{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return SessionID{}, err
	}
	return DecodeSessionIDBinary(body)
}

// closeBestEffort calls GET /close/{id}, ignoring any error per §4.2 step
// 4 ("best-effort; ignore errors").
func (n *EntryNode) closeBestEffort(ctx context.Context, id SessionID) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.urls.closeURL(id), nil)
	if err != nil {
		return
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// uploadTask builds a cancellable byte stream over the client socket's
// read half and sends it as the body of POST /upload/{id}. When the
// request completes for any reason, the caller fires stopDownload.
func (n *EntryNode) uploadTask(ctx context.Context, client net.Conn, id SessionID, stop *oneShot) {
	body := newDeadlineReader(client, stop, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.urls.uploadURL(id), body)
	if err != nil {
		n.logger.Printf("session %s: upload request build failed: %v", id, err)
		return
	}
	req.ContentLength = -1 // unknown length: streamed, chunked transfer encoding
	resp, err := n.client.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			n.logger.Printf("session %s: upload failed: %v", id, err)
		}
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// downloadTask sends GET /download/{id} and copies its streamed response
// body into the client socket's write half until EOF, a write failure, or
// stop fires. On any exit, the caller fires stopUpload.
func (n *EntryNode) downloadTask(ctx context.Context, client net.Conn, id SessionID, stop *oneShot) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.urls.downloadURL(id), nil)
	if err != nil {
		n.logger.Printf("session %s: download request build failed: %v", id, err)
		return
	}
	resp, err := n.client.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			n.logger.Printf("session %s: download failed: %v", id, err)
		}
		return
	}
	defer resp.Body.Close()

	// stop may fire while we're blocked in resp.Body.Read; since an HTTP
	// client response body has no read-deadline knob, we abort the read by
	// closing the body out from under it, same as closing a socket to
	// interrupt a blocked syscall.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-stop.Done():
			resp.Body.Close()
		case <-watchDone:
		}
	}()

	buf := make([]byte, copyBufferSize)
	for {
		nr, er := resp.Body.Read(buf)
		if nr > 0 {
			if _, ew := client.Write(buf[:nr]); ew != nil {
				return
			}
		}
		if er != nil {
			return
		}
	}
}
