//
// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
//
package types

import "time"

// Topics the event loop publishes on the bridge's internal message bus to
// fan results out to any subscribed listener. No package of this module
// subscribes to them; only tests do.
const (
	// FenceCompletedTopic is published when a fence invocation delivers its
	// result to the library continuation.
	FenceCompletedTopic = "fenceCompleted"
	// ModexCompletedTopic is published when a direct-modex request/response
	// round trip completes.
	ModexCompletedTopic = "modexCompleted"
	// ServerShutdownTopic is published when the event loop exits.
	ServerShutdownTopic = "serverShutdown"
)

// Server lifecycle states, driving the FSM in pkg/pmix.
const (
	StateUninit      = "Uninit"
	StateInitialized = "Initialized"
	StateFinalized   = "Finalized"
)

// Server lifecycle events.
const (
	EventInit     = "Init"
	EventFinalize = "Finalize"
)

// DefaultRetryMin and DefaultRetryMax name a 100ms-1s range for the fixed
// delay between connect attempts refused with ECONNREFUSED. They have the
// same values as config.Build's retryMin/retryMax defaults, but nothing
// references them and no configured delay is clamped to them.
const (
	DefaultRetryMin = 100 * time.Millisecond
	DefaultRetryMax = 1 * time.Second
)

// ModexRequestSize is the fixed size, in bytes, of a direct-modex request:
// 256 bytes of NUL-padded namespace followed by a 4-byte big-endian rank.
const ModexRequestSize = 256 + 4
