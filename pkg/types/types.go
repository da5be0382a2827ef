//
// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
//
package types

import (
	mb "github.com/vardius/message-bus"
)

// WithBus is a type that contains a message bus.
type WithBus interface {
	Bus() mb.MessageBus
}
