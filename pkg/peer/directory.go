// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package peer

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	fsnotify "gopkg.in/fsnotify/fsnotify.v1"
)

// DirectoryDiscovery resolves peers by reading one file per node rank from a
// shared directory, each containing that node's fence-coordinator address.
// It is meant for local/integration testing where nodes share a filesystem
// (e.g. a shared volume mount), not for production cluster deployment.
type DirectoryDiscovery struct {
	dir    string
	nnodes uint32

	mu       sync.Mutex
	nodeRank *uint32
}

// NewDirectoryDiscovery returns a discovery backend rooted at dir, expecting
// exactly nnodes peers to eventually register.
func NewDirectoryDiscovery(dir string, nnodes uint32) *DirectoryDiscovery {
	return &DirectoryDiscovery{dir: dir, nnodes: nnodes}
}

// Register claims the first unclaimed node-rank slot in the directory by
// creating a new, exclusively-owned file named after that rank and writing
// fenceAddr into it. The claimed rank is remembered for subsequent
// LocalRanks-style callers.
func (d *DirectoryDiscovery) Register(fenceAddr string) (uint32, error) {
	for rank := uint32(0); rank < d.nnodes; rank++ {
		path := filepath.Join(d.dir, strconv.FormatUint(uint64(rank), 10))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		defer f.Close()
		if _, err := f.WriteString(fenceAddr); err != nil {
			return 0, err
		}
		d.mu.Lock()
		r := rank
		d.nodeRank = &r
		d.mu.Unlock()
		return rank, nil
	}
	return 0, fmt.Errorf("peer: all %d nodes already registered", d.nnodes)
}

// FenceAddr reads the registered address for nodeRank, waiting on the
// directory via fsnotify if the file does not exist yet.
func (d *DirectoryDiscovery) FenceAddr(ctx context.Context, nodeRank uint32) (string, error) {
	return d.waitForPeer(ctx, strconv.FormatUint(uint64(nodeRank), 10))
}

// ModexAddr derives the modex address from the registered fence address,
// since both are hosted on the same node and differ only by port.
func (d *DirectoryDiscovery) ModexAddr(ctx context.Context, nodeRank uint32) (string, error) {
	fenceAddr, err := d.FenceAddr(ctx, nodeRank)
	if err != nil {
		return "", err
	}
	host, _, err := splitHostPort(fenceAddr)
	if err != nil {
		return "", err
	}
	return addrFor(host, ModexPort), nil
}

// Peers returns the fence address registered by every one of the nnodes
// nodes, blocking until all have registered.
func (d *DirectoryDiscovery) Peers(ctx context.Context) (map[uint32]string, error) {
	peers := make(map[uint32]string, d.nnodes)
	for rank := uint32(0); rank < d.nnodes; rank++ {
		addr, err := d.FenceAddr(ctx, rank)
		if err != nil {
			return nil, err
		}
		peers[rank] = addr
	}
	return peers, nil
}

// Hostnames returns one synthetic, non-resolving hostname per node rank;
// this backend never needs them to resolve, only to be stable per-rank
// identifiers, matching the behavior documented for the directory peer
// implementation this is grounded on.
func (d *DirectoryDiscovery) Hostnames(ctx context.Context) ([]string, error) {
	names := make([]string, d.nnodes)
	for rank := uint32(0); rank < d.nnodes; rank++ {
		names[rank] = fmt.Sprintf("mpi-%d", rank)
	}
	return names, nil
}

// readPeer reads and returns the address a node registered at path.
func readPeer(path string) (string, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// waitForPeer implements the fast-path/watch/recheck sequence the directory
// backend needs to avoid a lost wakeup between checking existence and
// establishing the watch.
func (d *DirectoryDiscovery) waitForPeer(ctx context.Context, name string) (string, error) {
	path := filepath.Join(d.dir, name)
	if _, err := os.Stat(path); err == nil {
		return readPeer(path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", err
	}
	defer watcher.Close()
	if err := watcher.Add(d.dir); err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return readPeer(path)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return "", fmt.Errorf("peer: watcher closed while waiting for %s", path)
			}
			if ev.Op&fsnotify.Create == fsnotify.Create && filepath.Clean(ev.Name) == path {
				return readPeer(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return "", fmt.Errorf("peer: watcher closed while waiting for %s", path)
			}
			return "", err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
