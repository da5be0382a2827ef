// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package eventloop runs the single cooperative goroutine that demultiplexes
// every source of work a running wire-up server has: PMIx library callback
// events (fence/direct-modex) and, implicitly through the fence and modex
// coordinators' own accept loops, inbound peer connections. Its shape is
// modeled on the select-loop driving the teacher's pkg/fsm.(*FSM).Run.
package eventloop

import (
	"context"
	"fmt"

	"github.com/carbynestack/ephemeral/pkg/fence"
	"github.com/carbynestack/ephemeral/pkg/modex"
	"github.com/carbynestack/ephemeral/pkg/peer"
	"github.com/carbynestack/ephemeral/pkg/pmix"
	"github.com/carbynestack/ephemeral/pkg/types"
	mb "github.com/vardius/message-bus"
	"go.uber.org/zap"
)

// Loop owns the event channel of one pmix.Server plus the coordinators that
// service the events it carries. One FenceEvent or DirectModexEvent is
// serviced fully, including its blocking network I/O, before the next event
// is taken off the channel — the property pkg/fence's FIFO demultiplexing
// depends on.
type Loop struct {
	server            *pmix.Server
	namespace         *pmix.Namespace
	peers             peer.Discovery
	fenceCoord        *fence.Coordinator
	modexReq          *modex.Requester
	localNodeRank     uint32
	localProcsPerNode uint32
	bus               mb.MessageBus
	logger            *zap.SugaredLogger
}

// New returns a Loop servicing events for ns on behalf of localNodeRank.
func New(server *pmix.Server, ns *pmix.Namespace, peers peer.Discovery, fenceCoord *fence.Coordinator,
	modexReq *modex.Requester, localNodeRank, localProcsPerNode uint32, bus mb.MessageBus, logger *zap.SugaredLogger) *Loop {
	return &Loop{
		server:            server,
		namespace:         ns,
		peers:             peers,
		fenceCoord:        fenceCoord,
		modexReq:          modexReq,
		localNodeRank:     localNodeRank,
		localProcsPerNode: localProcsPerNode,
		bus:               bus,
		logger:            logger,
	}
}

// Run consumes events until ctx is done or the server's event channel is
// closed. Server.Close does not close the channel, so in practice Run ends
// when ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-l.server.Events():
			if !ok {
				l.bus.Publish(types.ServerShutdownTopic)
				return nil
			}
			l.dispatch(ctx, ev)
		case <-ctx.Done():
			l.bus.Publish(types.ServerShutdownTopic)
			return ctx.Err()
		}
	}
}

// dispatch routes one event to its handler. Handlers that need network I/O
// run synchronously on this goroutine by design: servicing one event fully
// before the next is what lets pkg/fence's shared-listener FIFO queue work
// without any fence-ID framing on the wire.
func (l *Loop) dispatch(ctx context.Context, ev pmix.Event) {
	switch e := ev.(type) {
	case pmix.FenceEvent:
		l.serviceFence(ctx, e)
	case pmix.DirectModexEvent:
		l.serviceDirectModex(ctx, e)
	default:
		l.logger.Warnw("event loop: unrecognized event type", "event", fmt.Sprintf("%T", ev))
	}
}

// serviceFence computes the node set implied by e.Procs, resolves every
// other participating node's fence address, runs the all-gather, and
// invokes the library continuation with the result.
func (l *Loop) serviceFence(ctx context.Context, e pmix.FenceEvent) {
	nodeRanks := l.nodeRanksFor(e.Procs)
	l.storeLocalBlobs(e)

	var peerAddrs []string
	for _, nodeRank := range nodeRanks {
		if nodeRank == l.localNodeRank {
			continue
		}
		addr, err := l.peers.FenceAddr(ctx, nodeRank)
		if err != nil {
			l.logger.Errorw("fence: resolving peer address", "nodeRank", nodeRank, "error", err)
			e.Callback(pmix.StatusErrNotFound, nil)
			return
		}
		peerAddrs = append(peerAddrs, addr)
	}

	result, err := l.fenceCoord.Run(ctx, peerAddrs, e.Data)
	if err != nil {
		l.logger.Errorw("fence: failed", "id", e.ID, "error", err)
		e.Callback(pmix.StatusErrNotFound, nil)
		return
	}
	l.bus.Publish(types.FenceCompletedTopic, e.ID)
	e.Callback(pmix.StatusSuccess, result)
}

// serviceDirectModex answers a direct-modex callback for e.Proc. A proc
// hosted by this node is answered from its locally stored blob; any other
// proc's owning node is resolved via node_rank = rank/local_procs_per_node
// and its blob fetched over the wire by the modex Requester.
func (l *Loop) serviceDirectModex(ctx context.Context, e pmix.DirectModexEvent) {
	nodeRank := l.namespace.NodeRank(e.Proc.Rank)
	if nodeRank == l.localNodeRank {
		blob, ok := l.server.Library().LocalBlob(e.Proc)
		if !ok {
			e.Callback(pmix.StatusErrNotFound, nil)
			return
		}
		l.bus.Publish(types.ModexCompletedTopic, e.Proc)
		e.Callback(pmix.StatusSuccess, blob)
		return
	}

	addr, err := l.peers.ModexAddr(ctx, nodeRank)
	if err != nil {
		l.logger.Errorw("direct modex: resolving peer address", "nodeRank", nodeRank, "error", err)
		e.Callback(pmix.StatusErrNotFound, nil)
		return
	}
	blob, err := l.modexReq.Fetch(ctx, addr, e.Proc.NSpace, e.Proc.Rank)
	if err != nil {
		l.logger.Errorw("direct modex: fetch failed", "proc", e.Proc, "nodeRank", nodeRank, "error", err)
		e.Callback(pmix.StatusErrNotFound, nil)
		return
	}
	l.bus.Publish(types.ModexCompletedTopic, e.Proc)
	e.Callback(pmix.StatusSuccess, blob)
}

// storeLocalBlobs records e.Data against every proc in e.Procs that this
// node hosts, so a later direct-modex request for one of those ranks can be
// answered from the library's local store. WildcardRank stands for every
// rank in the namespace, so it is expanded to this node's own rank range.
func (l *Loop) storeLocalBlobs(e pmix.FenceEvent) {
	for _, p := range e.Procs {
		if p.Rank != pmix.WildcardRank {
			continue
		}
		for _, rank := range l.localRanks() {
			l.server.Library().StoreBlob(pmix.Proc{NSpace: p.NSpace, Rank: rank}, e.Data)
		}
		return
	}
	for _, p := range e.Procs {
		if l.namespace.NodeRank(p.Rank) == l.localNodeRank {
			l.server.Library().StoreBlob(p, e.Data)
		}
	}
}

// localRanks returns the global ranks hosted on this node.
func (l *Loop) localRanks() []pmix.Rank {
	ranks := make([]pmix.Rank, l.localProcsPerNode)
	for i := uint32(0); i < l.localProcsPerNode; i++ {
		ranks[i] = pmix.Rank(l.localNodeRank*l.localProcsPerNode + i)
	}
	return ranks
}

// nodeRanksFor computes the set of node ranks participating in a fence:
// every node if any proc carries WildcardRank, else the distinct node ranks
// derived from each listed proc's global rank.
func (l *Loop) nodeRanksFor(procs []pmix.Proc) []uint32 {
	for _, p := range procs {
		if p.Rank == pmix.WildcardRank {
			nnodes := uint32(len(l.namespace.Hostnames()))
			all := make([]uint32, nnodes)
			for i := range all {
				all[i] = uint32(i)
			}
			return all
		}
	}
	seen := make(map[uint32]struct{})
	var ranks []uint32
	for _, p := range procs {
		nodeRank := l.namespace.NodeRank(p.Rank)
		if _, ok := seen[nodeRank]; !ok {
			seen[nodeRank] = struct{}{}
			ranks = append(ranks, nodeRank)
		}
	}
	return ranks
}
