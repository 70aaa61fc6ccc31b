// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/yosida95/uritemplate/v3"
)

// sharedHTTPClient is the process-wide singleton HTTP client described in
// the Design Notes: its lifecycle is tied to the process so connections to
// the Exit node are reused across sessions, rather than re-created per
// request.
var (
	sharedHTTPClientOnce sync.Once
	sharedHTTPClient     *http.Client
)

func defaultHTTPClient() *http.Client {
	sharedHTTPClientOnce.Do(func() {
		sharedHTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})
	return sharedHTTPClient
}

// urlBuilder expands the four session-endpoint paths against a base
// target URL using RFC 6570 URI templates, instead of ad hoc string
// concatenation, so that escaping of the session id's canonical textual
// form is handled uniformly.
type urlBuilder struct {
	base     string
	open     *uritemplate.Template
	upload   *uritemplate.Template
	download *uritemplate.Template
	close    *uritemplate.Template
}

func newURLBuilder(base string) (*urlBuilder, error) {
	mk := func(raw string) (*uritemplate.Template, error) {
		return uritemplate.New(base + raw)
	}
	open, err := mk("open")
	if err != nil {
		return nil, fmt.Errorf("tunnel: bad target-url: %w", err)
	}
	upload, err := mk("upload{/id}")
	if err != nil {
		return nil, fmt.Errorf("tunnel: bad target-url: %w", err)
	}
	download, err := mk("download{/id}")
	if err != nil {
		return nil, fmt.Errorf("tunnel: bad target-url: %w", err)
	}
	closeT, err := mk("close{/id}")
	if err != nil {
		return nil, fmt.Errorf("tunnel: bad target-url: %w", err)
	}
	return &urlBuilder{base: base, open: open, upload: upload, download: download, close: closeT}, nil
}

func (b *urlBuilder) openURL() string {
	u, _ := b.open.Expand(uritemplate.Values{})
	return u
}

func (b *urlBuilder) uploadURL(id SessionID) string {
	u, _ := b.upload.Expand(uritemplate.Values{"id": uritemplate.String(id.String())})
	return u
}

func (b *urlBuilder) downloadURL(id SessionID) string {
	u, _ := b.download.Expand(uritemplate.Values{"id": uritemplate.String(id.String())})
	return u
}

func (b *urlBuilder) closeURL(id SessionID) string {
	u, _ := b.close.Expand(uritemplate.Values{"id": uritemplate.String(id.String())})
	return u
}
