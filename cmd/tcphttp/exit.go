// Copyright 2026 The tcphttp Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tcphttp/tunnel"
)

func newExitCmd() *cobra.Command {
	var bindAddrs []string
	var targetAddr string

	cmd := &cobra.Command{
		Use:   "exit",
		Short: "Serve the session HTTP API and relay to a backend TCP address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExit(bindAddrs, targetAddr)
		},
	}
	cmd.Flags().StringArrayVar(&bindAddrs, "bind-addr", nil, "local address to serve HTTP on (repeatable)")
	cmd.Flags().StringVar(&targetAddr, "target-addr", "", "backend host:port dialed on every open")
	cmd.MarkFlagRequired("bind-addr")
	cmd.MarkFlagRequired("target-addr")
	return cmd
}

func runExit(bindAddrs []string, targetAddr string) error {
	listeners, err := tunnel.BindAll(bindAddrs)
	if err != nil {
		var bindErr *tunnel.BindError
		if errors.As(err, &bindErr) {
			log.Printf("bind failed (%s): %v", bindErr.Kind, bindErr)
		}
		return err
	}

	node := tunnel.NewExitNode(tunnel.ExitConfig{TargetAddr: targetAddr})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var servers []*http.Server
	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		srv := &http.Server{Handler: node}
		servers = append(servers, srv)
		wg.Add(1)
		go func(ln net.Listener, srv *http.Server) {
			defer wg.Done()
			log.Printf("exit: serving on %s", ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(ln, srv)
	}

	go func() {
		<-ctx.Done()
		for _, srv := range servers {
			srv.Close()
		}
		node.Shutdown()
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}
