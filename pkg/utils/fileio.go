//
// Copyright (c) 2022 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
//

package utils

import (
	"io"
	"os"
	"time"
)

// Fio is a pointer to the shared FileIO implementation
var Fio FileIO = &OSFileIO{}

// File is an interface for basic file based io methods
type File interface {
	io.ReadWriteCloser
	io.StringWriter
	SetWriteDeadline(t time.Time) error
}

// FileIO is an interface for filesystem methods: creating and deleting
// paths and opening files for reading or writing. No other package of this
// module calls it; the directory peer backend uses package os directly.
type FileIO interface {
	CreatePath(path string) error
	Delete(path string) error
	OpenRead(path string) (File, error)
	OpenWriteOrCreate(name string) (File, error)
}

// OSFileIO implements fileIO backed by default os methods
type OSFileIO struct{}

// CreatePath creates a directory and all parents if required. Returns nil on success or an error otherwise.
// This implementation is backed by os.MkdirAll.
func (OSFileIO) CreatePath(path string) error { return os.MkdirAll(path, 0755) }

// Delete deletes a single file or directory with all contained elements. Returns nil on success or an error otherwise.
// This implementation is backed by os.RemoveAll.
func (OSFileIO) Delete(path string) error { return os.RemoveAll(path) }

// OpenRead opens a file for reading. Returns a file which can be accessed for further processing. If opening the file
// fails, an error is returned instead.
// This implementation is backed by os.Open.
func (OSFileIO) OpenRead(path string) (File, error) { return os.Open(path) }

// OpenWriteOrCreate opens a file for write access. The given file is created in case it does not exist. On success, a file
// is returned for further interaction. Otherwise, an error is returned.
// This implementation is backed by os.OpenFile.
func (OSFileIO) OpenWriteOrCreate(path string) (File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}
