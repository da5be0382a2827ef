// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package peer

import (
	"context"
	"fmt"

	"github.com/asaskevich/govalidator"
)

// StaticDiscovery resolves peers from a fixed list of host addresses given
// up front in configuration, e.g. for a docker-compose-style fixed-topology
// deployment where no directory or Kubernetes API is available.
type StaticDiscovery struct {
	hosts []string
}

// NewStaticDiscovery validates hosts (each must be a bare hostname or IP,
// not already carrying a port) and returns a backend serving fence/modex
// addresses derived from them.
func NewStaticDiscovery(hosts []string) (*StaticDiscovery, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("peer: static discovery requires at least one host")
	}
	for _, h := range hosts {
		if !govalidator.IsHost(h) {
			return nil, fmt.Errorf("peer: %q is not a valid host", h)
		}
	}
	return &StaticDiscovery{hosts: hosts}, nil
}

// FenceAddr returns nodeRank's fence address.
func (s *StaticDiscovery) FenceAddr(ctx context.Context, nodeRank uint32) (string, error) {
	host, err := s.hostFor(nodeRank)
	if err != nil {
		return "", err
	}
	return addrFor(host, FencePort), nil
}

// ModexAddr returns nodeRank's direct-modex address.
func (s *StaticDiscovery) ModexAddr(ctx context.Context, nodeRank uint32) (string, error) {
	host, err := s.hostFor(nodeRank)
	if err != nil {
		return "", err
	}
	return addrFor(host, ModexPort), nil
}

// Peers returns every configured node's fence address.
func (s *StaticDiscovery) Peers(ctx context.Context) (map[uint32]string, error) {
	peers := make(map[uint32]string, len(s.hosts))
	for rank := range s.hosts {
		addr, err := s.FenceAddr(ctx, uint32(rank))
		if err != nil {
			return nil, err
		}
		peers[uint32(rank)] = addr
	}
	return peers, nil
}

// Hostnames returns the configured hosts verbatim, in rank order.
func (s *StaticDiscovery) Hostnames(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.hosts))
	copy(out, s.hosts)
	return out, nil
}

func (s *StaticDiscovery) hostFor(nodeRank uint32) (string, error) {
	if int(nodeRank) >= len(s.hosts) {
		return "", fmt.Errorf("peer: node rank %d out of range (%d configured hosts)", nodeRank, len(s.hosts))
	}
	return s.hosts[nodeRank], nil
}
