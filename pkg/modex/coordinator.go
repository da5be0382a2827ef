// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package modex implements the direct-modex coordinator: a point-to-point
// request/response service that, given a (namespace, rank), fetches that
// rank's modex blob from the node that hosts it.
package modex

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/carbynestack/ephemeral/pkg/netretry"
	"github.com/carbynestack/ephemeral/pkg/pmix"
	"github.com/carbynestack/ephemeral/pkg/types"
	"go.uber.org/zap"
)

// requestSize is the fixed request wire size: 256 bytes of NUL-padded
// namespace followed by a 4-byte big-endian rank.
const requestSize = types.ModexRequestSize

// Responder services inbound direct-modex requests by asking the local
// PMIx library for the queried rank's blob.
type Responder struct {
	library *pmix.Library
	logger  *zap.SugaredLogger
}

// NewResponder returns a Responder backed by library.
func NewResponder(library *pmix.Library, logger *zap.SugaredLogger) *Responder {
	return &Responder{library: library, logger: logger}
}

// Serve accepts connections on listener until ctx is done, servicing each
// sequentially: requests are currently served one at a time per listener,
// per spec.md §4.3's concurrency note; parallelism is a permitted
// extension. Service never blocks the caller's event loop since Serve is
// meant to run on its own goroutine.
func (r *Responder) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		r.handle(conn)
	}
}

// handle reads one fixed-size request, looks up the blob using the
// library's direct-modex entry point, and writes the blob back as the
// entire response payload.
func (r *Responder) handle(conn net.Conn) {
	defer conn.Close()

	req := make([]byte, requestSize)
	if _, err := io.ReadFull(conn, req); err != nil {
		r.logger.Warnw("modex: short request", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	var nspace pmix.NSpaceID
	copy(nspace[:], req[:pmix.MaxNSLen+1])
	rank := pmix.Rank(binary.BigEndian.Uint32(req[pmix.MaxNSLen+1:]))
	proc := pmix.Proc{NSpace: nspace, Rank: rank}

	done := make(chan struct {
		status pmix.Status
		data   []byte
	}, 1)
	status := r.library.DirectModex(proc, func(status pmix.Status, data []byte) {
		done <- struct {
			status pmix.Status
			data   []byte
		}{status, data}
	})
	if !status.IsSuccess() {
		r.logger.Warnw("modex: direct_modex rejected", "proc", proc, "status", status)
		return
	}

	result := <-done
	if !result.status.IsSuccess() {
		r.logger.Warnw("modex: direct_modex failed", "proc", proc, "status", result.status)
		return
	}
	if _, err := conn.Write(result.data); err != nil {
		r.logger.Warnw("modex: writing response", "remote", conn.RemoteAddr(), "error", err)
	}
}

// Requester issues direct-modex requests to the node hosting a given rank.
type Requester struct {
	retryDelay time.Duration
}

// NewRequester returns a Requester retrying refused connections after
// delay.
func NewRequester(delay time.Duration) *Requester {
	return &Requester{retryDelay: delay}
}

// Fetch dials addr, sends the fixed-size (namespace, rank) request, and
// returns the response read to EOF.
func (req *Requester) Fetch(ctx context.Context, addr string, nspace pmix.NSpaceID, rank pmix.Rank) ([]byte, error) {
	conn, err := netretry.Dial(ctx, addr, req.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("modex: dialing %s: %w", addr, err)
	}
	defer conn.Close()

	wireReq := make([]byte, requestSize)
	copy(wireReq[:pmix.MaxNSLen+1], nspace[:])
	binary.BigEndian.PutUint32(wireReq[pmix.MaxNSLen+1:], uint32(rank))
	if _, err := conn.Write(wireReq); err != nil {
		return nil, fmt.Errorf("modex: writing request to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("modex: closing write side to %s: %w", addr, err)
		}
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("modex: reading response from %s: %w", addr, err)
	}
	return resp, nil
}
