// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package pmix

import "sync"

// Library simulates the embedded PMIx library's server-module callback
// table. Only FenceNB, DirectModex and ClientConnected are wired to real
// behavior; every other entry point is a stub returning
// StatusErrNotSupported, exactly as a real pmix_server_module_t with those
// fields left nil would behave.
//
// Library also holds the per-namespace, per-rank modex blob store a real
// libpmix.so maintains internally: the set of blobs submitted by local
// clients during fence, consulted when this node owns a directly queried
// rank.
type Library struct {
	mu    sync.Mutex
	blobs map[Proc][]byte
}

// NewLibrary returns a freshly initialized, empty library instance.
func NewLibrary() *Library {
	return &Library{blobs: make(map[Proc][]byte)}
}

// StoreBlob records the modex blob a local client submitted for proc. Called
// by fence servicing for every rank this node hosts that the fence covers.
func (l *Library) StoreBlob(proc Proc, blob []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	l.blobs[proc] = stored
}

// LocalBlob returns the previously stored blob for proc, if any.
func (l *Library) LocalBlob(proc Proc) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.blobs[proc]
	return b, ok
}

// FenceNB is the fence_nb server-module entry point. It refuses any info
// entry whose Required bit is set but which this bridge does not recognize
// (StatusErrBadParam), and any proc set spanning more than one namespace
// (StatusErrNotSupported); otherwise it copies procs into an owned slice,
// packages it with data and cb as a FenceEvent, publishes it on the event
// channel and returns immediately. The actual fence is serviced later,
// asynchronously, by invoking cb.
func (l *Library) FenceNB(id uint64, infos []Info, procs []Proc, data []byte, cb CompletionFunc) Status {
	for _, info := range infos {
		if info.Required && !isRecognizedFenceInfo(info.Key) {
			return StatusErrBadParam
		}
	}
	for _, p := range procs {
		if p.NSpace != procs[0].NSpace {
			return StatusErrNotSupported
		}
	}
	owned := make([]Proc, len(procs))
	copy(owned, procs)
	var blob []byte
	if len(data) > 0 {
		blob = make([]byte, len(data))
		copy(blob, data)
	}
	publish(FenceEvent{ID: id, Procs: owned, Data: blob, Callback: cb})
	return StatusSuccess
}

// DirectModex is the direct_modex server-module entry point, analogous to
// FenceNB for a single proc.
func (l *Library) DirectModex(proc Proc, cb CompletionFunc) Status {
	publish(DirectModexEvent{Proc: proc, Callback: cb})
	return StatusSuccess
}

// ClientConnected is the client_connected2 server-module entry point. It
// completes synchronously: no event is ever raised for it.
func (l *Library) ClientConnected(proc Proc) Status {
	return StatusOperationSucceeded
}

// isRecognizedFenceInfo reports whether key is an info attribute this
// bridge understands on a fence request. The bridge understands none —
// every "required" flag on a fence info entry must therefore be rejected,
// per spec: "refuse any info entry whose required bit is set but not
// handled".
func isRecognizedFenceInfo(key string) bool {
	return false
}

// The following are the server-module entry points this bridge declines to
// implement. Each returns StatusErrNotSupported synchronously and raises no
// event, so the library (real or simulated) propagates a clean "not
// supported" error to the client without ever touching the event channel.

func (l *Library) Publish(Proc, []Info) Status       { return StatusErrNotSupported }
func (l *Library) Lookup(Proc, []string) Status      { return StatusErrNotSupported }
func (l *Library) Unpublish(Proc, []string) Status   { return StatusErrNotSupported }
func (l *Library) Spawn([]Proc) Status               { return StatusErrNotSupported }
func (l *Library) Connect([]Proc) Status             { return StatusErrNotSupported }
func (l *Library) Disconnect([]Proc) Status          { return StatusErrNotSupported }
func (l *Library) RegisterEvents([]Status) Status    { return StatusErrNotSupported }
func (l *Library) DeregisterEvents() Status          { return StatusErrNotSupported }
func (l *Library) Abort(Proc, string) Status         { return StatusErrNotSupported }
func (l *Library) Query(Proc, []string) Status       { return StatusErrNotSupported }
func (l *Library) Allocate(Proc) Status              { return StatusErrNotSupported }
func (l *Library) JobControl(Proc, []Info) Status    { return StatusErrNotSupported }
func (l *Library) Monitor(Proc, []Info) Status       { return StatusErrNotSupported }
