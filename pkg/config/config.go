// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the wire-up server's static configuration and
// parses its CLI surface, following the teacher's ParseConfig
// (utils.ReadFile + json.Unmarshal) pattern for the file half and
// spf13/pflag for the flag half.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/carbynestack/ephemeral/pkg/utils"
	"github.com/spf13/pflag"
)

// Backend names accepted by the --backend flag and the config file's
// backend field.
const (
	BackendDirectory  = "directory"
	BackendKubernetes = "kubernetes"
	BackendStatic     = "static"
)

// FileConfig is the on-disk JSON shape, mirroring the teacher's
// SPDZEngineConfig: every field a string, a slice or a plain integer so it
// round-trips through encoding/json without custom (un)marshalers; the
// duration strings are converted to typed values by Build.
type FileConfig struct {
	Backend           string   `json:"backend"`
	Directory         string   `json:"directory,omitempty"`
	JobName           string   `json:"jobName,omitempty"`
	Namespace         string   `json:"namespace,omitempty"`
	StaticPeers       []string `json:"staticPeers,omitempty"`
	LocalProcsPerNode uint32   `json:"localProcsPerNode"`
	NNodes            uint32   `json:"nnodes"`
	RetryMin          string   `json:"retryMin"`
	RetryMax          string   `json:"retryMax"`
	TempDir           string   `json:"tempDir"`
}

// Config is the typed, validated configuration the wire-up server runs
// with, produced from a FileConfig plus CLI flags.
type Config struct {
	Backend           string
	Directory         string
	JobName           string
	Namespace         string
	StaticPeers       []string
	LocalProcsPerNode uint32
	NNodes            uint32
	RetryMin          time.Duration
	RetryMax          time.Duration
	TempDir           string

	NProc   uint32
	Command string
	Args    []string
}

// ParseFile reads and decodes the JSON configuration file at path, the same
// two-step utils.ReadFile + json.Unmarshal the teacher's ParseConfig uses.
func ParseFile(path string) (*FileConfig, error) {
	data, err := utils.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Flags holds the orchestration-specific CLI surface spec.md §6 defines:
// --nproc P, a positional COMMAND, and trailing ARGS....
type Flags struct {
	ConfigPath string
	Backend    string
	NProc      uint32
	Command    string
	Args       []string
}

// ParseFlags parses argv (excluding the program name) into a Flags value.
func ParseFlags(argv []string) (*Flags, error) {
	fs := pflag.NewFlagSet("wireup", pflag.ContinueOnError)
	configPath := fs.String("config", "/etc/config/config.json", "path to the JSON configuration file")
	backend := fs.String("backend", "", "peer discovery backend override: directory, kubernetes, or static")
	nproc := fs.Uint32("nproc", 1, "number of local MPI processes to launch")
	fs.SetInterspersed(false)
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return nil, errors.New("config: missing required positional COMMAND argument")
	}

	return &Flags{
		ConfigPath: *configPath,
		Backend:    *backend,
		NProc:      *nproc,
		Command:    rest[0],
		Args:       rest[1:],
	}, nil
}

// Build merges a FileConfig with CLI Flags into a fully typed, validated
// Config, converting string durations to time.Duration the way the
// teacher's InitTypedConfig converts its string-typed fields.
func Build(fc *FileConfig, flags *Flags) (*Config, error) {
	backend := fc.Backend
	if flags.Backend != "" {
		backend = flags.Backend
	}
	if err := validateBackend(backend); err != nil {
		return nil, err
	}

	retryMin, err := parseDurationOrDefault(fc.RetryMin, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config: invalid retryMin: %w", err)
	}
	retryMax, err := parseDurationOrDefault(fc.RetryMax, 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: invalid retryMax: %w", err)
	}

	if fc.NNodes == 0 {
		return nil, errors.New("config: nnodes must be greater than zero")
	}
	if fc.LocalProcsPerNode == 0 {
		return nil, errors.New("config: localProcsPerNode must be greater than zero")
	}

	return &Config{
		Backend:           backend,
		Directory:         fc.Directory,
		JobName:           fc.JobName,
		Namespace:         fc.Namespace,
		StaticPeers:       fc.StaticPeers,
		LocalProcsPerNode: fc.LocalProcsPerNode,
		NNodes:            fc.NNodes,
		RetryMin:          retryMin,
		RetryMax:          retryMax,
		TempDir:           fc.TempDir,
		NProc:             flags.NProc,
		Command:           flags.Command,
		Args:              flags.Args,
	}, nil
}

func validateBackend(backend string) error {
	switch backend {
	case BackendDirectory, BackendKubernetes, BackendStatic:
		return nil
	default:
		return fmt.Errorf("config: unknown backend %q", backend)
	}
}

func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// ValidateStaticPeers returns an error unless every entry in peers is a
// syntactically valid host, so config validation fails fast before any
// connection is attempted. The static backend's constructor applies the same
// govalidator.IsHost check on its own.
func ValidateStaticPeers(peers []string) error {
	for _, p := range peers {
		if !govalidator.IsHost(p) {
			return fmt.Errorf("config: %q is not a valid host", p)
		}
	}
	return nil
}
