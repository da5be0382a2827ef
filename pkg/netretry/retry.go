// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package netretry implements the fixed-delay connection retry both the
// fence and direct-modex coordinators use when dialing a peer whose
// listener has not started accepting yet. No backoff/retry library appears
// anywhere in the example pack, so this is deliberately a small hand-rolled
// loop rather than an imported dependency.
package netretry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// ErrTimedOut is returned once ctx is done before a connection succeeds.
var ErrTimedOut = errors.New("netretry: context done before dial succeeded")

// Dial attempts to open a TCP connection to addr, waiting the fixed delay
// before each new attempt whenever the previous one fails with ECONNREFUSED
// (nothing is accepting on addr yet). Any other dial error is returned
// immediately, unretried.
func Dial(ctx context.Context, addr string, delay time.Duration) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ErrTimedOut
		}
		if !isConnRefused(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ErrTimedOut
		case <-time.After(delay):
		}
	}
}

// isConnRefused reports whether err wraps ECONNREFUSED, the only failure
// mode this package retries.
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
