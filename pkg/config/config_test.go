// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package config_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/carbynestack/ephemeral/pkg/config"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseFile", func() {
	It("decodes a well-formed configuration file", func() {
		dir, err := ioutil.TempDir("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "config.json")
		Expect(ioutil.WriteFile(path, []byte(`{
			"backend": "static",
			"staticPeers": ["node-0", "node-1"],
			"localProcsPerNode": 2,
			"nnodes": 2,
			"retryMin": "50ms",
			"retryMax": "2s",
			"tempDir": "/tmp/pmix"
		}`), 0o644)).To(Succeed())

		fc, err := config.ParseFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(fc.Backend).To(Equal("static"))
		Expect(fc.StaticPeers).To(Equal([]string{"node-0", "node-1"}))
		Expect(fc.NNodes).To(BeEquivalentTo(2))
	})

	It("fails for a path that does not exist", func() {
		_, err := config.ParseFile("/no/such/config.json")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParseFlags", func() {
	It("parses the orchestration flags and the trailing command", func() {
		flags, err := config.ParseFlags([]string{"--nproc", "4", "--backend", "static", "mpirun", "--np", "4", "./app"})
		Expect(err).NotTo(HaveOccurred())
		Expect(flags.NProc).To(BeEquivalentTo(4))
		Expect(flags.Backend).To(Equal("static"))
		Expect(flags.Command).To(Equal("mpirun"))
		Expect(flags.Args).To(Equal([]string{"--np", "4", "./app"}))
	})

	It("requires a positional command", func() {
		_, err := config.ParseFlags([]string{"--nproc", "4"})
		Expect(err).To(HaveOccurred())
	})

	It("defaults nproc to one process", func() {
		flags, err := config.ParseFlags([]string{"./app"})
		Expect(err).NotTo(HaveOccurred())
		Expect(flags.NProc).To(BeEquivalentTo(1))
	})
})

var _ = Describe("Build", func() {
	baseFile := func() *config.FileConfig {
		return &config.FileConfig{
			Backend:           config.BackendStatic,
			StaticPeers:       []string{"node-0"},
			LocalProcsPerNode: 2,
			NNodes:            1,
		}
	}
	baseFlags := func() *config.Flags {
		return &config.Flags{NProc: 2, Command: "./app"}
	}

	It("applies retry defaults when the file omits them", func() {
		cfg, err := config.Build(baseFile(), baseFlags())
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.RetryMin).To(Equal(100 * time.Millisecond))
		Expect(cfg.RetryMax).To(Equal(1 * time.Second))
	})

	It("parses explicit retry durations", func() {
		fc := baseFile()
		fc.RetryMin = "25ms"
		fc.RetryMax = "3s"
		cfg, err := config.Build(fc, baseFlags())
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.RetryMin).To(Equal(25 * time.Millisecond))
		Expect(cfg.RetryMax).To(Equal(3 * time.Second))
	})

	It("lets a --backend flag override the file's backend", func() {
		fc := baseFile()
		fc.Backend = config.BackendDirectory
		flags := baseFlags()
		flags.Backend = config.BackendStatic
		cfg, err := config.Build(fc, flags)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Backend).To(Equal(config.BackendStatic))
	})

	It("rejects an unknown backend", func() {
		fc := baseFile()
		fc.Backend = "carrier-pigeon"
		_, err := config.Build(fc, baseFlags())
		Expect(err).To(HaveOccurred())
	})

	It("rejects a zero nnodes or localProcsPerNode", func() {
		fc := baseFile()
		fc.NNodes = 0
		_, err := config.Build(fc, baseFlags())
		Expect(err).To(HaveOccurred())

		fc2 := baseFile()
		fc2.LocalProcsPerNode = 0
		_, err = config.Build(fc2, baseFlags())
		Expect(err).To(HaveOccurred())
	})

	It("carries NProc/Command/Args through from flags", func() {
		flags := baseFlags()
		flags.Args = []string{"--foo", "bar"}
		cfg, err := config.Build(baseFile(), flags)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.NProc).To(BeEquivalentTo(2))
		Expect(cfg.Command).To(Equal("./app"))
		Expect(cfg.Args).To(Equal([]string{"--foo", "bar"}))
	})
})

var _ = Describe("ValidateStaticPeers", func() {
	It("accepts bare hostnames and IPs", func() {
		Expect(config.ValidateStaticPeers([]string{"node-0", "10.0.0.1"})).To(Succeed())
	})

	It("rejects an entry already carrying a port", func() {
		Expect(config.ValidateStaticPeers([]string{"node-0:5000"})).To(HaveOccurred())
	})
})
