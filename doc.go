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

// Package pickfirst provides a client-side connection manager for RPC
// clients that route calls to one of several dynamically discovered
// endpoints using a pick-first policy: exactly one endpoint is active at a
// time, all outbound calls go to it, and the active endpoint changes only
// on failure or on a discovery update that removes it. This differs from
// load-spreading policies like round-robin, which distribute calls across
// many simultaneous connections.
//
// To create a new client use the [New] function, supplying a name resolver
// (see [github.com/example/pickfirst/resolver]) and a dialer for whatever
// transport actually carries the calls (see
// [github.com/example/pickfirst/transport]). The wire protocol, codec, and
// TLS configuration all live behind those two interfaces; this package only
// manages which connection a call is issued on.
//
// # Connectivity lifecycle
//
// The client starts idle and begins connecting as soon as the resolver
// delivers a non-empty address list. Addresses are tried strictly in the
// order the resolver produced them, wrapping around after the last one,
// with a configurable backoff between failed attempts. When a connection is
// established, calls submitted via [Client.Submit] are routed to it until
// it breaks or a discovery update removes its address; either way the
// client reconnects on its own, without waiting for a call to trigger it.
// While no connection is active, Submit fails fast with [ErrUnavailable]
// rather than queuing calls.
//
// The client also has a notion of "closing", via its Close method and the
// [Client.Done] channel. Done resolves exactly once: when Close is called,
// or when a finite attempt budget (see [WithAttemptBudget]) is consumed
// without a successful connection. After Done resolves, [Client.Err]
// reports which of the two happened, so callers can always distinguish a
// graceful shutdown from connectivity exhaustion. A sequence of failed
// calls alone is never a reliable signal that the client has given up.
//
// With the default unbounded budget the client stays in its connecting
// state indefinitely when no endpoint is reachable, and Done never
// resolves. That is intentional: it means "still trying". Callers that
// need a bound should wrap their wait on Done with a timeout.
package pickfirst
