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

// Package resolver provides name resolution for the
// [github.com/example/pickfirst] package. A resolver turns a target name
// into a list of candidate addresses, and keeps that list current over
// time by delivering replacement snapshots to a receiver.
package resolver

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/example/pickfirst/internal"
)

// Resolver is an interface for continuous name resolution.
type Resolver interface {
	// New creates a continuous resolver task for the given target name. When
	// the target is resolved into backend addresses, they are provided to the
	// given receiver.
	//
	// As new result sets arrive (since the set of addresses may change over
	// time), the receiver may be called repeatedly. Each time, the entire set
	// of addresses must be supplied; there is no delta contract.
	//
	// The resolver may report errors in addition to or instead of addresses,
	// but it should keep trying to resolve (and watch for changes), even in
	// the face of errors, until it is closed or the given context is cancelled.
	//
	// The refresh channel receives signals from the client hinting that it
	// may need fresh results, for example after its only connection breaks.
	// A resolver may ignore the hints. The refresh channel is not closed
	// until after Close returns.
	//
	// The Close method on the return value must stop all goroutines and free
	// any resources before returning. After Close returns, there must be no
	// subsequent calls to the receiver.
	New(
		ctx context.Context,
		target string,
		receiver Receiver,
		refresh <-chan struct{},
	) io.Closer
}

// Receiver is a client of a resolver and receives the resolved addresses.
type Receiver interface {
	// OnResolve is called when the set of addresses is resolved. It may be
	// called repeatedly as the set of addresses changes over time. Each call
	// must always supply the full set of resolved addresses (no deltas).
	OnResolve([]Address)
	// OnResolveError is called when resolution encounters an error. This can
	// happen at any time, including after addresses are initially resolved.
	OnResolveError(error)
}

// ResolveProber is an interface for types that provide single-shot name
// resolution.
type ResolveProber interface {
	// ResolveOnce resolves the given target name once, returning a slice of
	// addresses for it. The target is expected to be in "host:port" form and
	// every returned address must carry a port.
	ResolveOnce(ctx context.Context, target string) ([]Address, error)
}

// Address is a resolved address to a host. Addresses compare by value; two
// Address values with the same host and port are the same endpoint.
type Address struct {
	// HostPort stores the host:port pair of the resolved address.
	HostPort string
}

// NewDNSResolver creates a new resolver that resolves DNS names. You can
// specify which kind of network addresses to resolve with the network
// parameter; it must be one of "ip", "ip4" or "ip6". The name is re-resolved
// every interval, and also whenever the client signals a refresh.
func NewDNSResolver(
	resolver *net.Resolver,
	network string,
	interval time.Duration,
) Resolver {
	return NewPollingResolver(
		&dnsResolveProber{
			resolver: resolver,
			network:  network,
		},
		interval,
	)
}

// NewPollingResolver creates a new resolver that calls an underlying
// single-shot prober on a fixed interval. Refresh signals from the client
// trigger an immediate re-probe, without waiting for the interval to elapse.
func NewPollingResolver(
	prober ResolveProber,
	interval time.Duration,
) Resolver {
	return &pollingResolver{
		prober:   prober,
		interval: interval,
		clock:    internal.NewRealClock(),
	}
}

// NewStaticResolver creates a resolver that always produces the same fixed
// set of addresses. The set is delivered once at start and re-delivered on
// every refresh signal.
func NewStaticResolver(addresses ...Address) Resolver {
	return &staticResolver{addresses: addresses}
}

type dnsResolveProber struct {
	resolver *net.Resolver
	network  string
}

func (r *dnsResolveProber) ResolveOnce(
	ctx context.Context,
	target string,
) ([]Address, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return nil, err
	}
	addresses, err := r.resolver.LookupNetIP(ctx, r.network, host)
	if err != nil {
		return nil, err
	}
	result := make([]Address, len(addresses))
	for i, address := range addresses {
		result[i].HostPort = net.JoinHostPort(address.Unmap().String(), port)
	}
	return result, nil
}

type pollingResolver struct {
	prober   ResolveProber
	interval time.Duration
	clock    internal.Clock
}

func (r *pollingResolver) New(
	ctx context.Context,
	target string,
	receiver Receiver,
	refresh <-chan struct{},
) io.Closer {
	ctx, cancel := context.WithCancel(ctx)
	task := &resolverTask{
		cancel:     cancel,
		doneSignal: make(chan struct{}),
	}
	go func() {
		defer close(task.doneSignal)
		defer cancel()

		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			addresses, err := r.prober.ResolveOnce(ctx, target)
			if ctx.Err() != nil {
				// Shutting down; don't deliver the result of a cancelled probe.
				return
			}
			if err != nil {
				receiver.OnResolveError(err)
			} else {
				receiver.OnResolve(addresses)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			case <-refresh:
			}
		}
	}()
	return task
}

type staticResolver struct {
	addresses []Address
}

func (r *staticResolver) New(
	ctx context.Context,
	_ string,
	receiver Receiver,
	refresh <-chan struct{},
) io.Closer {
	ctx, cancel := context.WithCancel(ctx)
	task := &resolverTask{
		cancel:     cancel,
		doneSignal: make(chan struct{}),
	}
	go func() {
		defer close(task.doneSignal)
		defer cancel()

		for {
			// Receivers may retain the slice, so deliver a copy each time.
			snapshot := make([]Address, len(r.addresses))
			copy(snapshot, r.addresses)
			receiver.OnResolve(snapshot)

			select {
			case <-ctx.Done():
				return
			case <-refresh:
			}
		}
	}()
	return task
}

type resolverTask struct {
	cancel     context.CancelFunc
	doneSignal chan struct{}
}

// Close stops the resolver task. It does not return until the task's
// goroutine has finished, after which no more calls to the receiver are made.
func (t *resolverTask) Close() error {
	t.cancel()
	<-t.doneSignal
	return nil
}
