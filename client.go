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

package pickfirst

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/pickfirst/backoff"
	"github.com/example/pickfirst/internal"
	"github.com/example/pickfirst/resolver"
	"github.com/example/pickfirst/transport"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned by Submit when no active connection exists
	// at the moment of submission. Submit never waits for connectivity; a
	// caller that needs to distinguish "no connection right now" from a
	// permanent condition should inspect Err after Done is closed.
	ErrUnavailable = errors.New("no active connection")

	// ErrClientClosed is the value reported by Err after a graceful Close.
	ErrClientClosed = errors.New("client closed")

	// ErrAttemptsExhausted is the value reported by Err when the attempt
	// budget is consumed without a successful connection. It wraps the last
	// attempt's failure reason.
	ErrAttemptsExhausted = errors.New("connection attempts exhausted")
)

const defaultDialTimeout = 30 * time.Second

// ClientOption is an option used to customize the behavior of a Client.
type ClientOption interface {
	apply(*clientOptions)
}

// WithRootContext configures the root context used for the background
// goroutines that a Client creates. If not specified, [context.Background]
// is used.
//
// Cancelling the given context is equivalent to calling Close, except that
// it does not wait for teardown to complete.
func WithRootContext(ctx context.Context) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.rootCtx = ctx
	})
}

// WithAttemptBudget bounds the number of consecutive failed connection
// attempts before the client gives up permanently. The count resets to zero
// on every successful connection. When the budget is consumed, the client
// resolves Done with an error wrapping ErrAttemptsExhausted and makes no
// further automatic attempts.
//
// If zero, or if no WithAttemptBudget option is used, the budget is
// unbounded and the client keeps trying indefinitely. With an unbounded
// budget and no reachable endpoint, Done intentionally never closes;
// callers needing a bound must impose their own timeout around it.
func WithAttemptBudget(attempts uint) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.attemptBudget = attempts
	})
}

// WithConnectBackoff configures the delay strategy applied between failed
// connection attempts. If no such option is used, an exponential strategy
// with full jitter is used, starting at 10ms and capped at 30s. Use
// [backoff.None] to retry immediately.
func WithConnectBackoff(strategy backoff.Strategy) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.connectBackoff = strategy
	})
}

// WithDialTimeout limits the duration of a single connection attempt. If
// zero or no WithDialTimeout option is used, a default of 30 seconds is
// applied. A negative value disables the per-attempt timeout.
func WithDialTimeout(duration time.Duration) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.dialTimeout = duration
	})
}

// WithLogger configures the logger used for connectivity state transitions.
// If no such option is used, logging is disabled.
func WithLogger(logger *zap.Logger) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.logger = logger
	})
}

// WithoutRefreshOnFailure disables the refresh hint that is normally sent
// to the resolver when the active connection breaks. The client then
// reconnects against its current snapshot and picks up new addresses only
// when the resolver delivers them on its own schedule.
func WithoutRefreshOnFailure() ClientOption {
	return clientOptionFunc(func(opts *clientOptions) {
		opts.noRefreshOnFailure = true
	})
}

// Client routes calls to one of several dynamically discovered endpoints
// using a pick-first policy: at any moment at most one connection is
// active, all calls go to it, and the active endpoint changes only on
// failure or on a discovery update that removes it.
//
// Create one with [New]; it cannot be used after it has been closed.
type Client struct {
	target     string
	supervisor *supervisor
	cancel     context.CancelFunc
}

// New returns a new Client for the given target. The resolver supplies the
// candidate addresses for the target and the dialer establishes
// connections to them; both are used from background goroutines until the
// client is closed.
func New(
	target string,
	res resolver.Resolver,
	dialer transport.Dialer,
	options ...ClientOption,
) *Client {
	var opts clientOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(opts.rootCtx)
	supervisor := newSupervisor(ctx, target, dialer, &opts)
	refresh := make(chan struct{}, 1)
	supervisor.refresh = refresh
	supervisor.resolverTask = res.New(ctx, target, supervisor, refresh)
	supervisor.start()

	return &Client{
		target:     target,
		supervisor: supervisor,
		cancel:     cancel,
	}
}

// Submit dispatches a call over the currently active connection and returns
// its outcome. If no connection is active — because the client is still
// connecting, is reconnecting, has exhausted its attempt budget, or has
// been closed — it fails immediately with an error wrapping ErrUnavailable.
// It never blocks waiting for a future connection.
//
// A call-level failure is returned as-is and does not affect the client's
// connectivity state.
func (c *Client) Submit(ctx context.Context, req any) (any, error) {
	conn := c.supervisor.currentConn()
	if conn == nil {
		return nil, fmt.Errorf("submit to %q: %w", c.target, ErrUnavailable)
	}
	return conn.Invoke(ctx, req)
}

// Done returns a channel that is closed exactly once, when the client
// reaches a terminal state: either Close was invoked (graceful) or the
// attempt budget was exhausted (permanent failure). With an unbounded
// budget the channel may never close; that means the client is still
// trying, not that it is stuck.
func (c *Client) Done() <-chan struct{} {
	return c.supervisor.closed
}

// Err explains why the client terminated. Before Done is closed it returns
// nil. Afterwards it returns ErrClientClosed for a graceful close, or an
// error wrapping ErrAttemptsExhausted and the last connection failure for
// budget exhaustion. The value never changes once set.
func (c *Client) Err() error {
	select {
	case <-c.supervisor.closed:
		return c.supervisor.closedErr
	default:
		return nil
	}
}

// Close shuts the client down: it cancels any in-flight connection attempt,
// stops the retry loop, closes the resolver task and the active connection,
// and resolves Done with ErrClientClosed if it was not already resolved.
// It is safe to call multiple times and does not return until teardown is
// complete. The returned error reports teardown failures, if any.
func (c *Client) Close() error {
	c.cancel()

	// Don't return until everything is done.
	<-c.supervisor.loopDone
	return c.supervisor.teardownErr
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) apply(opts *clientOptions) {
	f(opts)
}

type clientOptions struct {
	rootCtx            context.Context //nolint:containedctx
	attemptBudget      uint
	connectBackoff     backoff.Strategy
	dialTimeout        time.Duration
	logger             *zap.Logger
	noRefreshOnFailure bool
	clock              internal.Clock
}

func (opts *clientOptions) applyDefaults() {
	if opts.rootCtx == nil {
		opts.rootCtx = context.Background()
	}
	if opts.connectBackoff == nil {
		// Defaults are known-valid, so this cannot fail.
		opts.connectBackoff, _ = backoff.NewExponential()
	}
	if opts.dialTimeout == 0 {
		opts.dialTimeout = defaultDialTimeout
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}
