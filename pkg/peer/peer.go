// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package peer resolves node-rank identities into the TCP addresses used by
// the fence and direct-modex coordinators. Three backends are provided —
// directory (fsnotify-watched files), Kubernetes (client-go Pod informer),
// and static (fixed address list from config) — behind a single interface,
// mirroring how the original implementation kept PeerDiscovery a trait with
// swappable impls for local testing versus cluster deployment.
package peer

import (
	"context"
	"fmt"
	"net"
)

// FencePort and ModexPort are the fixed ports every node listens on for the
// fence and direct-modex coordinators, respectively. The two must differ
// since both coordinators run concurrently on every node.
const (
	FencePort = 5000
	ModexPort = 5001
)

// Discovery resolves peer node addresses for the fence and direct-modex
// coordinators. Implementations may block until a given peer becomes known
// (e.g. directory and Kubernetes backends wait on an underlying watch).
type Discovery interface {
	// FenceAddr returns the host:port a fence connection to nodeRank should
	// dial.
	FenceAddr(ctx context.Context, nodeRank uint32) (string, error)
	// ModexAddr returns the host:port a direct-modex connection to nodeRank
	// should dial.
	ModexAddr(ctx context.Context, nodeRank uint32) (string, error)
	// Peers returns every node's fence address, blocking until all nnodes
	// are known.
	Peers(ctx context.Context) (map[uint32]string, error)
	// Hostnames returns the ordered hostnames used to build a namespace's
	// per-node PMIx info, index i corresponding to node rank i.
	Hostnames(ctx context.Context) ([]string, error)
}

// addrFor joins host and port the way every backend below needs to.
func addrFor(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// splitHostPort is a thin wrapper around net.SplitHostPort shared by
// backends that need to rewrite a peer's port while keeping its host.
func splitHostPort(addr string) (host, port string, err error) {
	return net.SplitHostPort(addr)
}
