// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package pmix

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/carbynestack/ephemeral/pkg/fsm"
	. "github.com/carbynestack/ephemeral/pkg/types"
	"go.uber.org/zap"
)

// Server owns the process-wide PMIx library state. Its lifecycle is driven
// by a small FSM (Uninit -> Initialized -> Finalized) so that the
// transition discipline spec.md requires — a server may only be created
// once the global slot is empty, and is terminal once finalized — is
// enforced the same way the rest of this codebase models lifecycles,
// rather than with ad hoc booleans.
type Server struct {
	TempDir string

	library    *Library
	eventCh    chan Event
	fenceSeq   uint64
	logger     *zap.SugaredLogger
	lifecycle  *fsm.FSM
	lifecycleErrCh chan error
}

// Init initializes the embedded PMIx library with server options
// {server_tmpdir, system_tmpdir, system_support} both set to tempDir. It
// fails with ErrAlreadyInitialized if any server is already live in this
// process. On success the returned Server owns the process-wide handle
// callbacks use to reach the event channel.
func Init(ctx context.Context, tempDir string, logger *zap.SugaredLogger) (*Server, error) {
	eventCh := make(chan Event, 64)
	if err := claimServer(eventCh); err != nil {
		return nil, err
	}

	lifecycle, err := newServerLifecycle(ctx, logger)
	if err != nil {
		releaseServer()
		return nil, err
	}
	s := &Server{
		TempDir:        tempDir,
		library:        NewLibrary(),
		eventCh:        eventCh,
		logger:         logger,
		lifecycle:      lifecycle,
		lifecycleErrCh: make(chan error, 1),
	}
	go lifecycle.Run(s.lifecycleErrCh)
	lifecycle.Write(&fsm.Event{Name: EventInit})
	logger.Infow("pmix server initialized", "tempdir", tempDir)
	return s, nil
}

// newServerLifecycle builds the Uninit->Initialized->Finalized FSM backing
// a Server's state machine.
func newServerLifecycle(ctx context.Context, logger *zap.SugaredLogger) (*fsm.FSM, error) {
	trs := []*fsm.Transition{
		fsm.WhenIn(StateUninit).GotEvent(EventInit).GoTo(StateInitialized),
		fsm.WhenIn(StateInitialized).GotEvent(EventFinalize).GoTo(StateFinalized),
	}
	cbs := []*fsm.Callback{}
	callbacks, transitions := fsm.InitCallbacksAndTransitions(cbs, trs)
	return fsm.NewFSM(ctx, StateUninit, transitions, callbacks, defaultStateTimeout, logger)
}

// Library returns the simulated PMIx library this server installed its
// callback table into.
func (s *Server) Library() *Library {
	return s.library
}

// Events returns the channel server-module callbacks publish plain-data
// events to. Only the event loop may read from it.
func (s *Server) Events() <-chan Event {
	return s.eventCh
}

// NextFenceID returns a fresh, monotonically increasing identifier a caller
// can hand to Library.FenceNB. The event loop only logs it and publishes it
// on the fence-completed topic; overlapping fences are told apart on the
// wire by pkg/fence's FIFO queue, not by this identifier.
func (s *Server) NextFenceID() uint64 {
	return atomic.AddUint64(&s.fenceSeq, 1)
}

// State returns the server's current lifecycle state.
func (s *Server) State() string {
	return s.lifecycle.Current()
}

// Close finalizes the embedded library and tears down process-wide state,
// in that order. Finalize errors are logged but never propagated — the
// handle is always considered destroyed once Close returns, per spec.md
// §4.1's failure semantics.
func (s *Server) Close() error {
	s.lifecycle.Write(&fsm.Event{Name: EventFinalize})
	releaseServer()
	s.logger.Infow("pmix server finalized", "tempdir", s.TempDir)
	return nil
}

// defaultStateTimeout is effectively unbounded: the server lifecycle has no
// state-timeout semantics of its own, but the FSM engine always runs a timer.
const defaultStateTimeout = time.Duration(1<<63 - 1)
