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

// Package picker implements address selection over a resolved endpoint
// snapshot. Selection is pick-first: addresses are tried strictly in the
// order the resolver produced them, wrapping around after the last one.
// The policy is deterministic, with no randomization, so callers can
// reason about (and tests can assert) the exact attempt order.
package picker

import (
	"net"

	"github.com/example/pickfirst/resolver"
)

// PickFirst iterates the addresses of a single endpoint snapshot in order.
// Addresses whose host:port is syntactically unusable are skipped; an
// address is never skipped merely because a prior connection attempt to it
// failed, so every usable address gets a fresh attempt on each cycle.
//
// A PickFirst is not safe for concurrent use.
type PickFirst struct {
	addrs []resolver.Address
	next  int
}

// New returns a picker over the given snapshot. The slice is not retained.
func New(addrs []resolver.Address) *PickFirst {
	usable := make([]resolver.Address, 0, len(addrs))
	for _, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr.HostPort); err != nil {
			continue
		}
		usable = append(usable, addr)
	}
	return &PickFirst{addrs: usable}
}

// Next returns the next address to try. After the last address it wraps
// around to the first. It returns false only when the snapshot contains no
// usable address, in which case the caller should wait for a fresh snapshot
// before retrying.
func (p *PickFirst) Next() (resolver.Address, bool) {
	if len(p.addrs) == 0 {
		return resolver.Address{}, false
	}
	addr := p.addrs[p.next]
	p.next = (p.next + 1) % len(p.addrs)
	return addr, true
}

// Len returns the number of usable addresses in the snapshot.
func (p *PickFirst) Len() int {
	return len(p.addrs)
}

// Contains reports whether the snapshot includes the given address.
func (p *PickFirst) Contains(addr resolver.Address) bool {
	for _, a := range p.addrs {
		if a == addr {
			return true
		}
	}
	return false
}
