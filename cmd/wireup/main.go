// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/carbynestack/ephemeral/pkg/config"
	"github.com/carbynestack/ephemeral/pkg/eventloop"
	"github.com/carbynestack/ephemeral/pkg/fence"
	l "github.com/carbynestack/ephemeral/pkg/logger"
	"github.com/carbynestack/ephemeral/pkg/modex"
	"github.com/carbynestack/ephemeral/pkg/peer"
	"github.com/carbynestack/ephemeral/pkg/pmix"
	"github.com/carbynestack/ephemeral/pkg/utils"
	mb "github.com/vardius/message-bus"
	"go.uber.org/zap"
)

func main() {
	logger, err := l.NewDevelopmentLogger()
	if err != nil {
		panic(err)
	}

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		panic(err)
	}
	fc, err := config.ParseFile(flags.ConfigPath)
	if err != nil {
		panic(err)
	}
	cfg, err := config.Build(fc, flags)
	if err != nil {
		panic(err)
	}
	logger.Debugf("Starting with the config:\n%+v", cfg)

	code, err := run(context.Background(), cfg, logger)
	if err != nil {
		logger.Errorw("wire-up failed", "error", err)
	}
	os.Exit(code)
}

// run constructs the PMIx server, namespace and local clients, spawns the
// requested command once per local client, and runs the server until every
// child has exited, returning the process exit code: 0 iff every child
// succeeded.
func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (int, error) {
	discovery, err := newDiscovery(cfg, logger)
	if err != nil {
		return 1, fmt.Errorf("constructing peer discovery: %w", err)
	}

	hostnames, err := discovery.Hostnames(ctx)
	if err != nil {
		return 1, fmt.Errorf("resolving hostnames: %w", err)
	}

	server, err := pmix.Init(ctx, cfg.TempDir, logger)
	if err != nil {
		return 1, fmt.Errorf("initializing pmix server: %w", err)
	}
	defer server.Close()

	namespace, err := server.RegisterNamespace(hostnames, cfg.LocalProcsPerNode)
	if err != nil {
		return 1, fmt.Errorf("registering namespace: %w", err)
	}
	defer namespace.Close()

	localNodeRank, err := resolveLocalNodeRank(cfg, discovery)
	if err != nil {
		return 1, fmt.Errorf("determining local node rank: %w", err)
	}

	fenceListener, err := net.Listen("tcp", addrFor(peer.FencePort))
	if err != nil {
		return 1, fmt.Errorf("binding fence listener: %w", err)
	}
	modexListener, err := net.Listen("tcp", addrFor(peer.ModexPort))
	if err != nil {
		return 1, fmt.Errorf("binding modex listener: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fenceCoord := fence.NewCoordinator(cfg.RetryMin, logger)
	go fenceCoord.Serve(loopCtx, fenceListener)

	responder := modex.NewResponder(server.Library(), logger)
	go responder.Serve(loopCtx, modexListener)
	modexReq := modex.NewRequester(cfg.RetryMax)

	bus := mb.New(64)
	loop := eventloop.New(server, namespace, discovery, fenceCoord, modexReq, localNodeRank, cfg.LocalProcsPerNode, bus, logger)
	go loop.Run(loopCtx)

	return spawnAndWait(loopCtx, cfg, namespace, localNodeRank, logger)
}

// spawnAndWait registers one Client per local rank, spawns cfg.Command once
// per client with that client's environment, and waits for all children to
// exit. It returns 0 iff every child exited successfully.
func spawnAndWait(ctx context.Context, cfg *config.Config, namespace *pmix.Namespace, localNodeRank uint32, logger *zap.SugaredLogger) (int, error) {
	spawner := utils.NewChildSpawner()

	type child struct {
		localRank uint32
		client    *pmix.Client
	}
	var children []child
	for local := uint32(0); local < cfg.NProc; local++ {
		globalRank := pmix.Rank(localNodeRank*cfg.LocalProcsPerNode + local)
		client, err := namespace.RegisterClient(globalRank, local)
		if err != nil {
			return 1, fmt.Errorf("registering client for local rank %d: %w", local, err)
		}
		defer client.Close()
		children = append(children, child{localRank: local, client: client})
	}

	var wg sync.WaitGroup
	exitCodes := make([]int, len(children))
	for i, c := range children {
		env := append(os.Environ(), envStrings(c.client.Environment())...)
		cmd, err := spawner.Start(ctx, cfg.Command, cfg.Args, "", env)
		if err != nil {
			return 1, fmt.Errorf("spawning local rank %d: %w", c.localRank, err)
		}
		wg.Add(1)
		go func(i int, localRank uint32) {
			defer wg.Done()
			if err := cmd.Wait(); err != nil {
				logger.Errorw("child process failed", "localRank", localRank, "error", err)
				exitCodes[i] = 1
			}
		}(i, c.localRank)
	}
	wg.Wait()

	for _, code := range exitCodes {
		if code != 0 {
			return 1, nil
		}
	}
	return 0, nil
}

func envStrings(vars []pmix.EnvVar) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = fmt.Sprintf("%s=%s", v.Name, v.Value)
	}
	return out
}

func addrFor(port int) string {
	return fmt.Sprintf(":%d", port)
}

// newDiscovery constructs the configured peer-discovery backend.
func newDiscovery(cfg *config.Config, logger *zap.SugaredLogger) (peer.Discovery, error) {
	switch cfg.Backend {
	case config.BackendDirectory:
		return peer.NewDirectoryDiscovery(cfg.Directory, cfg.NNodes), nil
	case config.BackendKubernetes:
		return peer.NewKubernetesDiscovery(cfg.Namespace, cfg.JobName, cfg.NNodes, logger)
	case config.BackendStatic:
		if err := config.ValidateStaticPeers(cfg.StaticPeers); err != nil {
			return nil, err
		}
		return peer.NewStaticDiscovery(cfg.StaticPeers)
	default:
		return nil, fmt.Errorf("unknown peer discovery backend %q", cfg.Backend)
	}
}

// resolveLocalNodeRank determines this process's node rank by registering with
// the directory backend (which hands back the claimed rank) or, for the
// other backends, by matching this host's address among the resolved
// peers.
func resolveLocalNodeRank(cfg *config.Config, discovery peer.Discovery) (uint32, error) {
	if dd, ok := discovery.(*peer.DirectoryDiscovery); ok {
		hostname, err := os.Hostname()
		if err != nil {
			return 0, err
		}
		return dd.Register(fmt.Sprintf("%s:%d", hostname, peer.FencePort))
	}

	hostname, err := os.Hostname()
	if err != nil {
		return 0, err
	}
	hostnames, err := discovery.Hostnames(context.Background())
	if err != nil {
		return 0, err
	}
	for rank, h := range hostnames {
		if h == hostname {
			return uint32(rank), nil
		}
	}
	return 0, fmt.Errorf("local hostname %q not found among resolved peers", hostname)
}
