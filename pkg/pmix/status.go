// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package pmix embeds a pure-Go reimplementation of the PMIx server-side
// library contract: process-wide state, a server-module callback table,
// and the RAII-style Server/Namespace/Client handles a real linked
// libpmix.so would drive through cgo. There is no cgo boundary here — the
// library itself is simulated so the bridge above it can be exercised
// without a system PMIx installation.
package pmix

import "fmt"

// Status mirrors the small subset of pmix_status_t this bridge ever
// produces or consumes.
type Status int32

const (
	// StatusSuccess indicates the operation completed successfully and a
	// result will (or has already) been delivered.
	StatusSuccess Status = 0
	// StatusOperationSucceeded is returned synchronously by callbacks that
	// have no further asynchronous completion, e.g. client_connected.
	StatusOperationSucceeded Status = 1
	// StatusErrNotSupported is returned by every server-module entry point
	// this bridge declines to implement.
	StatusErrNotSupported Status = -2
	// StatusErrNotFound indicates a queried proc or namespace is unknown.
	StatusErrNotFound Status = -3
	// StatusErrBadParam indicates malformed input, e.g. a required info
	// key this bridge does not recognize.
	StatusErrBadParam Status = -5
	// StatusErrExists mirrors PMIX_ERR_EXISTS. Init does not return it: a
	// second Server is refused with ErrAlreadyInitialized.
	StatusErrExists Status = -6
)

// Error implements the error interface so a Status can be returned or
// wrapped directly wherever Go code expects an error.
func (s Status) Error() string {
	switch s {
	case StatusSuccess:
		return "PMIX_SUCCESS"
	case StatusOperationSucceeded:
		return "PMIX_OPERATION_SUCCEEDED"
	case StatusErrNotSupported:
		return "PMIX_ERR_NOT_SUPPORTED"
	case StatusErrNotFound:
		return "PMIX_ERR_NOT_FOUND"
	case StatusErrBadParam:
		return "PMIX_ERR_BAD_PARAM"
	case StatusErrExists:
		return "PMIX_ERR_EXISTS"
	default:
		return fmt.Sprintf("PMIX_ERR_UNKNOWN(%d)", int32(s))
	}
}

// IsSuccess reports whether s indicates the operation completed without
// error, whether synchronously (OperationSucceeded) or by way of a later
// continuation callback (Success).
func (s Status) IsSuccess() bool {
	return s == StatusSuccess || s == StatusOperationSucceeded
}
