// Copyright 2025 The pickfirst Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport defines the contract between the
// [github.com/example/pickfirst] package and the transport that actually
// carries calls. The client core is agnostic to the wire protocol; it only
// establishes connections through a [Dialer] and routes opaque calls over
// the resulting [Conn] values.
package transport

import (
	"context"

	"github.com/example/pickfirst/resolver"
)

// Dialer establishes connections to resolved addresses. A single call to
// Dial is a single connection attempt: it either produces a usable Conn or
// an error describing why the attempt failed (refusal, timeout, handshake
// failure, and so on).
//
// Dial must respect cancellation of the given context and return promptly
// when it is cancelled.
type Dialer interface {
	Dial(ctx context.Context, address resolver.Address) (Conn, error)
}

// Conn is an established connection to a single resolved address. It is a
// *logical* connection; it may be represented by one or more physical
// connections (i.e. sockets).
type Conn interface {
	// Invoke dispatches a call over this connection and returns its outcome.
	// Call payloads and responses are opaque to this module. A call-level
	// error does not imply the connection itself is broken; brokenness is
	// reported solely via Done.
	Invoke(ctx context.Context, req any) (any, error)

	// Address is the address to which this value is connected.
	Address() resolver.Address

	// Done returns a channel that is closed exactly once, when the
	// underlying connection breaks. It is never closed merely because a
	// call failed, nor by Close.
	Done() <-chan struct{}

	// Err returns the reason the connection broke. It is only meaningful
	// after the Done channel is closed.
	Err() error

	// Close releases the connection. It must be safe to call multiple times
	// and must not cause Done to be closed.
	Close() error
}
