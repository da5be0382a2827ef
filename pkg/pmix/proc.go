// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package pmix

import (
	"strings"

	"github.com/google/uuid"
)

// MaxNSLen is the fixed length, in bytes, of a namespace identifier
// excluding its terminating NUL, mirroring PMIX_MAX_NSLEN.
const MaxNSLen = 255

// WildcardRank denotes "any rank in the namespace", mirroring PMIX_RANK_WILDCARD.
const WildcardRank Rank = 0xFFFFFFFF

// Rank identifies a process within a namespace.
type Rank uint32

// NSpaceID is a fixed-length, NUL-padded PMIx job identifier — the wire and
// in-memory byte representation carried inside a Proc. Callers never choose
// their own namespace string; NewNSpaceID mints an opaque one, in the same
// spirit as an opaque generated job/game identifier. The RAII handle wrapping
// registration of one of these lives in namespace.go as Namespace.
type NSpaceID [MaxNSLen + 1]byte

// NewNSpaceID mints a fresh, opaque namespace identifier.
func NewNSpaceID() NSpaceID {
	return nspaceIDFromString(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// nspaceIDFromString NUL-pads (or truncates) s to fit the fixed-size
// namespace field.
func nspaceIDFromString(s string) NSpaceID {
	var ns NSpaceID
	copy(ns[:MaxNSLen], s)
	return ns
}

// String returns the namespace's text up to its first NUL byte.
func (n NSpaceID) String() string {
	for i, b := range n {
		if b == 0 {
			return string(n[:i])
		}
	}
	return string(n[:])
}

// Proc identifies a single process: the PMIx job it belongs to, plus its
// rank within that job.
type Proc struct {
	NSpace NSpaceID
	Rank   Rank
}
