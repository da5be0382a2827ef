// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package fence implements the N-to-N all-gather coordinator: every
// participating node opens one short-lived TCP stream to every other
// participating node, writes its blob, and accepts the same number of
// inbound streams, concatenating what it reads from each to EOF.
package fence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/carbynestack/ephemeral/pkg/netretry"
	"go.uber.org/zap"
)

// Coordinator runs fences against one shared TCP listener. Because
// spec.md's wire format carries no fence-identifying header, and the event
// loop above only ever services one FenceEvent to completion (including its
// blocking I/O) before consuming the next, at most one fence is ever
// actively registered to receive new inbound connections at a time on a
// given node; a second, overlapping fence simply queues. Coordinator
// enforces this with a FIFO queue of registered fences so an inbound
// connection is always handed to the oldest fence still missing peers,
// resolving the overlapping-fence ambiguity without any wire-level framing.
type Coordinator struct {
	retryDelay time.Duration
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	pending []*fenceSlot
}

// fenceSlot is one registered, still-incomplete fence's share of the shared
// listener: it wants `remaining` more inbound connections, delivered on
// conns.
type fenceSlot struct {
	remaining int
	conns     chan net.Conn
}

// NewCoordinator returns a Coordinator that retries refused connections
// after delay.
func NewCoordinator(delay time.Duration, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{retryDelay: delay, logger: logger}
}

// Serve runs the shared accept loop against listener until ctx is done or
// accept fails. Every accepted connection is handed to the oldest
// registered fence still missing inbound peers. Serve is meant to run in
// its own goroutine, started once per node alongside the event loop.
func (c *Coordinator) Serve(ctx context.Context, listener net.Listener) error {
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
		c.dispatch(conn)
	}
}

// dispatch hands conn to the oldest fence slot still missing inbound
// connections, dropping it if no fence is currently registered (which would
// indicate a protocol violation by the peer).
func (c *Coordinator) dispatch(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		c.logger.Warnw("fence: inbound connection with no registered fence, dropping", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}
	slot := c.pending[0]
	slot.conns <- conn
	slot.remaining--
	if slot.remaining == 0 {
		c.pending = c.pending[1:]
	}
}

// register appends a new fence slot expecting n inbound connections to the
// back of the queue and returns the channel its connections arrive on.
func (c *Coordinator) register(n int) *fenceSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := &fenceSlot{remaining: n, conns: make(chan net.Conn, n)}
	if n > 0 {
		c.pending = append(c.pending, slot)
	}
	return slot
}

// Run executes one fence: dial peerAddrs (one stream each, writing
// localBlob and closing the write side), accept len(peerAddrs) inbound
// streams via the shared listener, and return the concatenation of
// everything read from those inbound streams. The position of the local
// node's own contribution in the result is implementation-defined; callers
// must treat the result as a multiset of per-rank payloads.
func (c *Coordinator) Run(ctx context.Context, peerAddrs []string, localBlob []byte) ([]byte, error) {
	slot := c.register(len(peerAddrs))

	var wg sync.WaitGroup
	sendErrs := make(chan error, len(peerAddrs))
	for _, addr := range peerAddrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			sendErrs <- c.send(ctx, addr, localBlob)
		}(addr)
	}

	var accumulator bytes.Buffer
	accumulator.Write(localBlob)
	var recvErr error
	for i := 0; i < len(peerAddrs); i++ {
		select {
		case conn := <-slot.conns:
			if _, err := io.Copy(&accumulator, conn); err != nil && recvErr == nil {
				recvErr = fmt.Errorf("fence: reading peer payload: %w", err)
			}
			conn.Close()
		case <-ctx.Done():
			if recvErr == nil {
				recvErr = ctx.Err()
			}
		}
	}

	wg.Wait()
	close(sendErrs)
	var sendErr error
	for err := range sendErrs {
		if err != nil && sendErr == nil {
			sendErr = err
		}
	}

	if recvErr != nil {
		return nil, recvErr
	}
	if sendErr != nil {
		return nil, sendErr
	}
	return accumulator.Bytes(), nil
}

// send opens one stream to addr, writes blob as the entire payload, and
// closes the write side so the peer sees EOF.
func (c *Coordinator) send(ctx context.Context, addr string, blob []byte) error {
	conn, err := netretry.Dial(ctx, addr, c.retryDelay)
	if err != nil {
		return fmt.Errorf("fence: dialing peer %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(blob); err != nil {
		return fmt.Errorf("fence: writing to peer %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return nil
}
