// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tunnel

import (
	"log"
	"net/http"
	"os"
	"runtime/debug"
)

// PanicExitCode is the sentinel exit status used when a goroutine panics,
// per §6: "non-zero ... on a panic in any task — the process installs a
// panic hook that forces process exit so a panicked task does not leave a
// half-functional daemon." Go has no global panic hook — an unrecovered
// panic in a plain goroutine already crashes the process, but net/http
// recovers panics inside ServeHTTP itself to keep the server alive, which
// is exactly the "half-functional daemon" the spec warns about. So every
// independently-scheduled goroutine in this package — the accept loop's
// per-connection handlers and each HTTP handler — installs its own
// recover-and-exit in place of a missing global hook.
const PanicExitCode = 101

// RecoverAndExit should be deferred first in any goroutine spawned by this
// package's nodes. On a panic it logs the stack and force-exits the whole
// process with PanicExitCode, rather than letting the goroutine (or, for
// HTTP handlers, net/http's own recover) swallow it silently.
func RecoverAndExit(logger *log.Logger) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("panic: %v\n%s", r, debug.Stack())
		os.Exit(PanicExitCode)
	}
}

// panicMiddleware wraps an http.Handler so that a panic inside it forces
// process exit instead of being absorbed by net/http's per-request
// recover.
func panicMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer RecoverAndExit(logger)
		next.ServeHTTP(w, r)
	})
}
