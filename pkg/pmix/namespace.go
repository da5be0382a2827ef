// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package pmix

import (
	"errors"
	"sync"
)

// ErrNamespaceHasClients is returned by Namespace.Close when local clients
// are still registered, enforcing invariant (b): a namespace outlives every
// client registered under it.
var ErrNamespaceHasClients = errors.New("pmix: namespace still has registered clients")

// Namespace is the RAII handle returned by PMIx_server_register_nspace. Its
// construction submits the namespace's job_size, per-node hostname/nodeid
// info array, and per-proc rank/local_rank/nodeid info array; its
// destruction (Close) performs the matching PMIx_server_deregister_nspace
// call, which this bridge realizes by forgetting the namespace's bookkeeping
// once no client remains registered under it.
type Namespace struct {
	server            *Server
	id                NSpaceID
	hostnames         []string
	localProcsPerNode uint32
	infos             []Info

	mu      sync.Mutex
	clients map[Rank]*Client
}

// RegisterNamespace registers a namespace spread across hostnames, with
// localProcsPerNode processes on each node. It builds the info arrays
// spec.md requires: one global job_size info, one hostname/nodeid pair per
// node, and one rank/local_rank/nodeid triple for every global rank.
func (s *Server) RegisterNamespace(hostnames []string, localProcsPerNode uint32) (*Namespace, error) {
	jobSize := uint32(len(hostnames)) * localProcsPerNode
	infos := []Info{JobSizeInfo(jobSize)}
	for nodeRank, host := range hostnames {
		infos = append(infos, HostnameInfo(host), NodeIDInfo(uint32(nodeRank)))
		for local := uint32(0); local < localProcsPerNode; local++ {
			globalRank := Rank(uint32(nodeRank)*localProcsPerNode + local)
			infos = append(infos,
				RankInfo(globalRank),
				LocalRankInfo(local),
				NodeIDInfo(uint32(nodeRank)),
			)
		}
	}
	ns := &Namespace{
		server:            s,
		id:                NewNSpaceID(),
		hostnames:         hostnames,
		localProcsPerNode: localProcsPerNode,
		infos:             infos,
		clients:           make(map[Rank]*Client),
	}
	return ns, nil
}

// ID returns the namespace's wire identifier.
func (ns *Namespace) ID() NSpaceID {
	return ns.id
}

// Infos returns the info array this namespace was registered with.
func (ns *Namespace) Infos() []Info {
	return ns.infos
}

// NodeRank returns the node owning globalRank, computed the same way the
// modex request path does: node_rank = rank / local_procs_per_node.
func (ns *Namespace) NodeRank(globalRank Rank) uint32 {
	return uint32(globalRank) / ns.localProcsPerNode
}

// Hostnames returns the ordered node hostnames this namespace was
// registered with; index i is node rank i.
func (ns *Namespace) Hostnames() []string {
	return ns.hostnames
}

// addClient records that rank has registered under this namespace. Called
// only from RegisterClient; never exported.
func (ns *Namespace) addClient(rank Rank, c *Client) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.clients[rank] = c
}

// removeClient drops rank's bookkeeping. Called only from Client.Close.
func (ns *Namespace) removeClient(rank Rank) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.clients, rank)
}

// Close deregisters the namespace. It fails with ErrNamespaceHasClients if
// any client registered under it has not yet been closed.
func (ns *Namespace) Close() error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if len(ns.clients) > 0 {
		return ErrNamespaceHasClients
	}
	return nil
}
