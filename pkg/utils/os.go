//
// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
//
package utils

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
)

// ChildSpawner starts external processes, inheriting the parent's stdio so
// the launched program behaves as if it had been invoked directly from the
// shell. It is a thin wrapper around os/exec, in the same spirit as the
// script-wrapped Commander used elsewhere in this codebase, but without
// output capture: wire-up children need a real terminal/pipe passthrough,
// not a buffered transcript.
type ChildSpawner struct {
	// Stdout, Stderr default to os.Stdout/os.Stderr when nil.
	Stdout, Stderr io.Writer
}

// NewChildSpawner returns a ChildSpawner writing to the current process's
// stdout/stderr.
func NewChildSpawner() *ChildSpawner {
	return &ChildSpawner{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Start launches name with args, dir as its working directory and env as
// its full environment (as "KEY=VALUE" strings). It returns the running
// *exec.Cmd; the caller is responsible for calling Wait.
func (c *ChildSpawner) Start(ctx context.Context, name string, args []string, dir string, env []string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = c.stdout()
	cmd.Stderr = c.stderr()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (c *ChildSpawner) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

func (c *ChildSpawner) stderr() io.Writer {
	if c.Stderr != nil {
		return c.Stderr
	}
	return os.Stderr
}

// ReadFile reads file content for a given file location.
func ReadFile(path string) ([]byte, error) {
	str, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(str)
	defer file.Close()
	if err != nil {
		return nil, err
	}
	return ioutil.ReadAll(file)
}
