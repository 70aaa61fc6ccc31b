// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tcphttp/tunnel"
)

func newEntryCmd() *cobra.Command {
	var bindAddrs []string
	var targetURL string

	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Accept TCP connections and relay them over HTTP to an exit node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntry(bindAddrs, targetURL)
		},
	}
	cmd.Flags().StringArrayVar(&bindAddrs, "bind-addr", nil, "local address to accept TCP connections on (repeatable)")
	cmd.Flags().StringVar(&targetURL, "target-url", "", "base URL of the exit node (must end with /)")
	cmd.MarkFlagRequired("bind-addr")
	cmd.MarkFlagRequired("target-url")
	return cmd
}

func runEntry(bindAddrs []string, targetURL string) error {
	listeners, err := tunnel.BindAll(bindAddrs)
	if err != nil {
		var bindErr *tunnel.BindError
		if errors.As(err, &bindErr) {
			log.Printf("bind failed (%s): %v", bindErr.Kind, bindErr)
		}
		return err
	}

	node, err := tunnel.NewEntryNode(tunnel.EntryConfig{TargetURL: targetURL})
	if err != nil {
		for _, ln := range listeners {
			ln.Close()
		}
		return fmt.Errorf("entry: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			log.Printf("entry: accepting on %s", ln.Addr())
			if err := node.Serve(ctx, ln); err != nil {
				errCh <- err
			}
		}(ln)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}
