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

// Package transporttest provides an in-memory implementation of the
// transport contract, for testing the connection-management logic without
// real network activity. Reachability of each address is scripted, dial
// attempts are recorded in order, and established connections can be broken
// on demand.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/example/pickfirst/resolver"
	"github.com/example/pickfirst/transport"
)

// ErrConnRefused is the failure reason reported for dial attempts to
// addresses marked unreachable.
var ErrConnRefused = errors.New("connection refused")

// Dialer is a fake transport.Dialer. All addresses are reachable until
// marked otherwise with SetReachable.
type Dialer struct {
	mu          sync.Mutex
	unreachable map[string]struct{}
	holds       map[string]*Hold
	attempts    []string
	conns       []*Conn
	invoke      func(addr resolver.Address, req any) (any, error)
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer returns a new fake dialer.
func NewDialer() *Dialer {
	return &Dialer{
		unreachable: map[string]struct{}{},
		holds:       map[string]*Hold{},
	}
}

// SetReachable marks the given address as reachable or not. Dial attempts
// to an unreachable address fail with ErrConnRefused. Changing reachability
// does not affect connections that are already established.
func (d *Dialer) SetReachable(hostPort string, reachable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reachable {
		delete(d.unreachable, hostPort)
	} else {
		d.unreachable[hostPort] = struct{}{}
	}
}

// SetInvoke configures the function that established connections use to
// serve calls. If never set, connections echo the request back as the
// response.
func (d *Dialer) SetInvoke(fn func(addr resolver.Address, req any) (any, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invoke = fn
}

// Hold makes dial attempts to the given address block until the hold is
// released or the dial's context is cancelled. The returned value signals
// each blocked attempt on its Started channel.
func (d *Dialer) Hold(hostPort string) *Hold {
	hold := &Hold{
		Started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holds[hostPort] = hold
	return hold
}

// Attempts returns the addresses of all dial attempts so far, in order.
func (d *Dialer) Attempts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	attempts := make([]string, len(d.attempts))
	copy(attempts, d.attempts)
	return attempts
}

// Conns returns all connections established so far, in order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := make([]*Conn, len(d.conns))
	copy(conns, d.conns)
	return conns
}

// LatestConn returns the most recently established connection, or nil if
// none has been established yet.
func (d *Dialer) LatestConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, address resolver.Address) (transport.Conn, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, address.HostPort)
	hold := d.holds[address.HostPort]
	_, unreachable := d.unreachable[address.HostPort]
	invoke := d.invoke
	d.mu.Unlock()

	if hold != nil {
		select {
		case hold.Started <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-hold.release:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if unreachable {
		return nil, fmt.Errorf("dial %s: %w", address.HostPort, ErrConnRefused)
	}

	conn := &Conn{
		addr:   address,
		invoke: invoke,
		done:   make(chan struct{}),
	}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// Hold blocks dial attempts to one address. See Dialer.Hold.
type Hold struct {
	// Started receives one signal per dial attempt that has begun blocking.
	Started chan struct{}

	release     chan struct{}
	releaseOnce sync.Once
}

// Release unblocks all current and future dial attempts covered by the hold.
func (h *Hold) Release() {
	h.releaseOnce.Do(func() {
		close(h.release)
	})
}

// Conn is a fake established connection.
type Conn struct {
	addr   resolver.Address
	invoke func(addr resolver.Address, req any) (any, error)

	done     chan struct{}
	failOnce sync.Once
	err      error

	closed atomic.Bool
	calls  atomic.Int64
}

var _ transport.Conn = (*Conn)(nil)

// Invoke implements transport.Conn. Each call is counted; the configured
// invoke function (or the default echo behavior) produces the outcome.
func (c *Conn) Invoke(_ context.Context, req any) (any, error) {
	c.calls.Add(1)
	if c.closed.Load() {
		return nil, fmt.Errorf("conn to %s is closed", c.addr.HostPort)
	}
	if c.invoke != nil {
		return c.invoke(c.addr, req)
	}
	return req, nil
}

// Address implements transport.Conn.
func (c *Conn) Address() resolver.Address {
	return c.addr
}

// Done implements transport.Conn.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err implements transport.Conn.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

// Fail breaks the connection with the given reason, closing its Done
// channel. Subsequent calls are no-ops.
func (c *Conn) Fail(err error) {
	c.failOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Calls returns how many calls have been dispatched over this connection.
func (c *Conn) Calls() int {
	return int(c.calls.Load())
}

// Closed reports whether Close has been called on this connection.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
