// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package pmix

import "fmt"

// EnvVar is a single (name, value) pair a Client contributes to its local
// rank's child process environment, mirroring what PMIx_server_setup_fork
// would otherwise compute from the library's internal rendezvous state.
type EnvVar struct {
	Name  string
	Value string
}

// Client is the RAII handle returned by PMIx_server_register_client. Its
// construction tells the embedded library to expect a connection from this
// local rank; its destruction (Close) deregisters it. A Client is created
// once per local rank and destroyed when that rank's child process
// terminates, per spec.md's lifecycle invariant.
type Client struct {
	namespace *Namespace
	rank      Rank
	localRank uint32
}

// RegisterClient informs the library that rank is an expected local client
// of ns, running at position localRank among this node's local ranks.
func (ns *Namespace) RegisterClient(rank Rank, localRank uint32) (*Client, error) {
	if status := globalLibraryOrNil(ns.server).ClientConnected(Proc{NSpace: ns.id, Rank: rank}); !status.IsSuccess() {
		return nil, status
	}
	c := &Client{namespace: ns, rank: rank, localRank: localRank}
	ns.addClient(rank, c)
	return c, nil
}

// globalLibraryOrNil returns s's library; kept as a tiny indirection so a
// future standalone-client mode (no local Server) has a single place to
// plug in a remote library stub instead.
func globalLibraryOrNil(s *Server) *Library {
	return s.Library()
}

// Environment computes the environment variables this client's child
// process must inherit so a linked PMIx library could locate the server.
// Since this bridge has no rendezvous socket of its own, it publishes the
// coordinates a real deployment needs to reconstruct one: the namespace,
// this rank's place within it, and the node-local rank used to compute
// ownership for direct modex.
func (c *Client) Environment() []EnvVar {
	return []EnvVar{
		{Name: "PMIX_NAMESPACE", Value: c.namespace.id.String()},
		{Name: "PMIX_RANK", Value: fmt.Sprintf("%d", uint32(c.rank))},
		{Name: "PMIX_LOCAL_RANK", Value: fmt.Sprintf("%d", c.localRank)},
		{Name: "PMIX_JOB_SIZE", Value: fmt.Sprintf("%d", uint32(len(c.namespace.hostnames))*c.namespace.localProcsPerNode)},
	}
}

// Rank returns the global rank this client was registered for.
func (c *Client) Rank() Rank {
	return c.rank
}

// Close deregisters the client from its namespace.
func (c *Client) Close() error {
	c.namespace.removeClient(c.rank)
	return nil
}
