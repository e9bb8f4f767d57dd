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

package picker

import (
	"testing"

	"github.com/example/pickfirst/resolver"
	"github.com/stretchr/testify/require"
)

func addrs(hostPorts ...string) []resolver.Address {
	result := make([]resolver.Address, len(hostPorts))
	for i, hostPort := range hostPorts {
		result[i] = resolver.Address{HostPort: hostPort}
	}
	return result
}

func next(t *testing.T, p *PickFirst) string {
	t.Helper()
	addr, ok := p.Next()
	require.True(t, ok)
	return addr.HostPort
}

func TestNextIteratesInOrderAndWraps(t *testing.T) {
	t.Parallel()
	p := New(addrs("1.2.3.1:100", "1.2.3.2:100", "1.2.3.3:100"))
	require.Equal(t, 3, p.Len())
	require.Equal(t, "1.2.3.1:100", next(t, p))
	require.Equal(t, "1.2.3.2:100", next(t, p))
	require.Equal(t, "1.2.3.3:100", next(t, p))
	// wraps around to the first
	require.Equal(t, "1.2.3.1:100", next(t, p))
	require.Equal(t, "1.2.3.2:100", next(t, p))
}

func TestNextSkipsSyntacticallyInvalidAddresses(t *testing.T) {
	t.Parallel()
	p := New(addrs("1.2.3.1:100", "not-a-host-port", "1.2.3.2:100"))
	require.Equal(t, 2, p.Len())
	require.Equal(t, "1.2.3.1:100", next(t, p))
	require.Equal(t, "1.2.3.2:100", next(t, p))
	require.Equal(t, "1.2.3.1:100", next(t, p))
}

func TestNextPreservesDuplicates(t *testing.T) {
	t.Parallel()
	// Duplicate entries are not collapsed; each list position gets a turn.
	p := New(addrs("1.2.3.1:100", "1.2.3.2:100", "1.2.3.1:100"))
	require.Equal(t, 3, p.Len())
	require.Equal(t, "1.2.3.1:100", next(t, p))
	require.Equal(t, "1.2.3.2:100", next(t, p))
	require.Equal(t, "1.2.3.1:100", next(t, p))
	require.Equal(t, "1.2.3.1:100", next(t, p))
}

func TestNextReturnsFalseWhenNothingUsable(t *testing.T) {
	t.Parallel()
	for _, testCase := range []struct {
		name  string
		input []resolver.Address
	}{
		{name: "empty", input: nil},
		{name: "all invalid", input: addrs("nope", "also nope")},
	} {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			p := New(testCase.input)
			require.Zero(t, p.Len())
			_, ok := p.Next()
			require.False(t, ok)
		})
	}
}

func TestContains(t *testing.T) {
	t.Parallel()
	p := New(addrs("1.2.3.1:100", "1.2.3.2:100"))
	require.True(t, p.Contains(resolver.Address{HostPort: "1.2.3.1:100"}))
	require.True(t, p.Contains(resolver.Address{HostPort: "1.2.3.2:100"}))
	require.False(t, p.Contains(resolver.Address{HostPort: "1.2.3.3:100"}))
}
