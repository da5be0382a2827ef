// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"os"

	"github.com/carbynestack/ephemeral/pkg/config"
	"github.com/carbynestack/ephemeral/pkg/peer"
	"github.com/carbynestack/ephemeral/pkg/pmix"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("envStrings", func() {
	It("formats each EnvVar as NAME=VALUE", func() {
		vars := []pmix.EnvVar{
			{Name: "PMIX_RANK", Value: "3"},
			{Name: "PMIX_NAMESPACE", Value: "abc"},
		}
		Expect(envStrings(vars)).To(Equal([]string{"PMIX_RANK=3", "PMIX_NAMESPACE=abc"}))
	})
})

var _ = Describe("addrFor", func() {
	It("builds a wildcard-host listen address for the given port", func() {
		Expect(addrFor(5000)).To(Equal(":5000"))
	})
})

var _ = Describe("newDiscovery", func() {
	logger := zap.NewNop().Sugar()

	It("builds a static backend from configured peers", func() {
		cfg := &config.Config{Backend: config.BackendStatic, StaticPeers: []string{"node-0", "node-1"}}
		d, err := newDiscovery(cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		hosts, err := d.Hostnames(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(hosts).To(Equal([]string{"node-0", "node-1"}))
	})

	It("builds a directory backend from the configured directory", func() {
		cfg := &config.Config{Backend: config.BackendDirectory, Directory: "/tmp", NNodes: 2}
		d, err := newDiscovery(cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		_, ok := d.(*peer.DirectoryDiscovery)
		Expect(ok).To(BeTrue())
	})

	It("rejects an unknown backend", func() {
		cfg := &config.Config{Backend: "carrier-pigeon"}
		_, err := newDiscovery(cfg, logger)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("resolveLocalNodeRank", func() {
	It("matches the local hostname among resolved peers for non-directory backends", func() {
		hostname, err := os.Hostname()
		Expect(err).NotTo(HaveOccurred())

		cfg := &config.Config{Backend: config.BackendStatic, StaticPeers: []string{"unrelated-host", hostname}}
		d, err := newDiscovery(cfg, logger)
		Expect(err).NotTo(HaveOccurred())

		rank, err := resolveLocalNodeRank(cfg, d)
		Expect(err).NotTo(HaveOccurred())
		Expect(rank).To(BeEquivalentTo(1))
	})

	It("fails when the local hostname matches no configured peer", func() {
		cfg := &config.Config{Backend: config.BackendStatic, StaticPeers: []string{"node-0", "node-1"}}
		d, err := newDiscovery(cfg, logger)
		Expect(err).NotTo(HaveOccurred())

		_, err = resolveLocalNodeRank(cfg, d)
		Expect(err).To(HaveOccurred())
	})
})
