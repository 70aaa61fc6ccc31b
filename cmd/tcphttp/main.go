// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command tcphttp runs either half of the TCP-over-HTTP tunnel: the entry
// node, which accepts raw TCP connections and relays them as streaming
// HTTP requests, or the exit node, which serves those requests and
// re-establishes a TCP connection to a backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "tcphttp",
		Short: "Bidirectional TCP-over-HTTP tunnel",
	}
	root.AddCommand(newEntryCmd(), newExitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
