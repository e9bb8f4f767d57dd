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
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/pickfirst/backoff"
	"github.com/example/pickfirst/internal"
	"github.com/example/pickfirst/picker"
	"github.com/example/pickfirst/resolver"
	"github.com/example/pickfirst/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// supervisor owns the active connection and drives all connectivity state
// transitions: reacting to resolver updates, establishing connections in
// pick-first order, detecting connection failure, and enforcing the attempt
// budget. All transitions are applied by the single goroutine running
// [supervisor.run], in the order their triggering events are observed;
// events that arrive while a transition is in progress are buffered.
type supervisor struct {
	//nolint:containedctx
	ctx         context.Context
	target      string
	dialer      transport.Dialer
	logger      *zap.Logger
	clock       internal.Clock
	budget      uint // 0 means unbounded
	strategy    backoff.Strategy
	dialTimeout time.Duration
	refreshHint bool

	// wired up by New before start is called
	refresh      chan<- struct{}
	resolverTask io.Closer

	latestAddrs     atomic.Pointer[[]resolver.Address]
	latestErr       atomic.Pointer[error]
	resolverUpdates chan struct{}

	// active is exclusively written by the run goroutine and read by the
	// facade for call routing.
	active atomic.Pointer[activeConn]

	closeOnce sync.Once
	closed    chan struct{}
	// closedErr is written before closing the closed chan, so it can only be
	// read after reading from that chan (single-writer pattern, enforced by
	// closeOnce).
	closedErr error

	loopDone chan struct{}
	// teardownErr is written before closing loopDone.
	teardownErr error

	// state below is owned by the run goroutine
	failures uint
	lastErr  error
	// applied is the snapshot the current selection or active connection was
	// built from. OnResolve stores a fresh pointer per delivery, so pointer
	// identity distinguishes a new snapshot from an error-only signal.
	applied *[]resolver.Address
}

type activeConn struct {
	conn transport.Conn
}

func newSupervisor(
	ctx context.Context,
	target string,
	dialer transport.Dialer,
	opts *clientOptions,
) *supervisor {
	return &supervisor{
		ctx:             ctx,
		target:          target,
		dialer:          dialer,
		logger:          opts.logger.With(zap.String("target", target)),
		clock:           opts.clock,
		budget:          opts.attemptBudget,
		strategy:        opts.connectBackoff,
		dialTimeout:     opts.dialTimeout,
		refreshHint:     !opts.noRefreshOnFailure,
		resolverUpdates: make(chan struct{}, 1),
		closed:          make(chan struct{}),
		loopDone:        make(chan struct{}),
	}
}

func (s *supervisor) start() {
	go s.run()
}

// OnResolve implements resolver.Receiver. It may be called from any
// goroutine; the snapshot is handed to the run loop via an atomic slot and
// a non-blocking signal.
func (s *supervisor) OnResolve(addresses []resolver.Address) {
	clone := make([]resolver.Address, len(addresses))
	copy(clone, addresses)
	s.latestAddrs.Store(&clone)
	select {
	case s.resolverUpdates <- struct{}{}:
	default:
	}
}

// OnResolveError implements resolver.Receiver.
func (s *supervisor) OnResolveError(err error) {
	s.latestErr.Store(&err)
	select {
	case s.resolverUpdates <- struct{}{}:
	default:
	}
}

// currentConn returns the active connection, or nil when there is none.
func (s *supervisor) currentConn() transport.Conn {
	if active := s.active.Load(); active != nil {
		return active.conn
	}
	return nil
}

func (s *supervisor) run() {
	defer func() {
		// Tear down the resolver task and any active connection on the way
		// out, concurrently since either close may block.
		grp, _ := errgroup.WithContext(context.Background())
		grp.Go(s.resolverTask.Close)
		if active := s.active.Swap(nil); active != nil {
			grp.Go(active.conn.Close)
		}
		s.teardownErr = grp.Wait()
		// If the budget exhausted first, this is a no-op.
		s.resolveClosed(ErrClientClosed)
		close(s.loopDone)
	}()
	for {
		var connDone <-chan struct{}
		if active := s.active.Load(); active != nil {
			connDone = active.conn.Done()
		}
		select {
		case <-s.ctx.Done():
			return
		case <-s.resolverUpdates:
			if !s.onResolverUpdate() {
				return
			}
		case <-connDone:
			if !s.onConnFailure() {
				return
			}
		}
	}
}

// onResolverUpdate applies a buffered resolver result. It returns false
// when the state machine reached its terminal state.
func (s *supervisor) onResolverUpdate() bool {
	s.observeResolveError()
	addrs := s.latestAddrs.Load()
	if addrs == nil || addrs == s.applied {
		// Resolution failure is recovered locally: keep the current state,
		// whether idle or connected, until a new snapshot arrives.
		return true
	}

	s.applied = addrs
	selection := picker.New(*addrs)
	if active := s.active.Load(); active != nil {
		if selection.Contains(active.conn.Address()) {
			// The active address survived the update; keeping the
			// connection avoids unnecessary disruption.
			s.logger.Debug("active address still present after update",
				zap.String("address", active.conn.Address().HostPort))
			return true
		}
		s.dropActive("address removed by discovery update")
	}
	if selection.Len() == 0 {
		// Nothing to try. This must not consume attempt budget.
		s.logger.Debug("resolver returned no usable addresses")
		return true
	}
	return s.connect(selection)
}

// onConnFailure reacts to the active connection breaking. It returns false
// when the state machine reached its terminal state.
func (s *supervisor) onConnFailure() bool {
	active := s.active.Swap(nil)
	if active == nil {
		return true
	}
	err := active.conn.Err()
	if err == nil {
		err = fmt.Errorf("connection to %s broke without a reason", active.conn.Address().HostPort)
	}
	s.lastErr = err
	_ = active.conn.Close()
	s.logger.Debug("active connection failed",
		zap.String("address", active.conn.Address().HostPort),
		zap.Error(err))

	// The endpoint list may have changed while we were connected; hint the
	// resolver before cycling through the current snapshot again.
	if s.refreshHint {
		select {
		case s.refresh <- struct{}{}:
		default:
		}
	}

	addrs := s.latestAddrs.Load()
	if addrs == nil {
		return true
	}
	s.applied = addrs
	selection := picker.New(*addrs)
	if selection.Len() == 0 {
		return true
	}
	return s.connect(selection)
}

// observeResolveError logs and clears a pending resolution error, if any.
func (s *supervisor) observeResolveError() {
	errPtr := s.latestErr.Load()
	if errPtr == nil {
		return
	}
	s.latestErr.CompareAndSwap(errPtr, nil)
	s.logger.Warn("resolution failed", zap.Error(*errPtr))
}

// connect drives the Connecting state: it tries addresses from the given
// selection in order, wrapping around, until one succeeds, the attempt
// budget is exhausted, the snapshot is replaced by an unusable one, or the
// supervisor is shut down. It returns false only on exhaustion.
func (s *supervisor) connect(selection *picker.PickFirst) bool {
	for {
		addr, ok := selection.Next()
		if !ok {
			return true
		}

		start := s.clock.Now()
		conn, err := s.dialOne(addr)
		if s.ctx.Err() != nil {
			// Shut down while the attempt was in flight. A late success must
			// not resurrect a torn-down client.
			if conn != nil {
				_ = conn.Close()
			}
			return true
		}
		if err == nil {
			s.failures = 0
			s.lastErr = nil
			s.active.Store(&activeConn{conn: conn})
			s.logger.Debug("connected",
				zap.String("address", addr.HostPort),
				zap.Duration("elapsed", s.clock.Since(start)))
			return true
		}

		s.failures++
		s.lastErr = err
		s.logger.Debug("connection attempt failed",
			zap.String("address", addr.HostPort),
			zap.Uint("consecutive_failures", s.failures),
			zap.Error(err))
		if s.budget > 0 && s.failures >= s.budget {
			exhausted := fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, s.failures, s.lastErr)
			s.logger.Info("attempt budget exhausted",
				zap.Uint("budget", s.budget),
				zap.Error(err))
			s.resolveClosed(exhausted)
			return false
		}

		next, proceed := s.awaitRetry(selection)
		if !proceed {
			return true
		}
		selection = next
	}
}

// awaitRetry waits out the backoff delay before the next attempt, while
// remaining responsive to shutdown and to fresh endpoint snapshots. A fresh
// snapshot replaces the selection and restarts it from its first candidate.
// The second return value is false when connecting should stop (shutdown,
// or the new snapshot has nothing usable).
func (s *supervisor) awaitRetry(selection *picker.PickFirst) (*picker.PickFirst, bool) {
	delay := s.strategy.Duration(s.failures - 1)
	if delay <= 0 {
		select {
		case <-s.ctx.Done():
			return nil, false
		case <-s.resolverUpdates:
			next, _, ok := s.reloadSelection(selection)
			return next, ok
		default:
			return selection, true
		}
	}
	timer := s.clock.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return nil, false
		case <-s.resolverUpdates:
			next, replaced, ok := s.reloadSelection(selection)
			if !ok {
				return nil, false
			}
			if replaced {
				return next, true
			}
			// Error-only signal; the delay still has to run out.
		case <-timer.Chan():
			return selection, true
		}
	}
}

// reloadSelection applies a resolver result that arrived mid-connect. An
// error-only result keeps the current selection and its position; a new
// snapshot replaces it, restarting from its first candidate. The returned
// bool flags whether the selection was replaced; ok is false when connecting
// should stop because the new snapshot has nothing usable.
func (s *supervisor) reloadSelection(selection *picker.PickFirst) (*picker.PickFirst, bool, bool) {
	s.observeResolveError()
	addrs := s.latestAddrs.Load()
	if addrs == nil || addrs == s.applied {
		return selection, false, true
	}
	s.applied = addrs
	next := picker.New(*addrs)
	if next.Len() == 0 {
		s.logger.Debug("resolver returned no usable addresses")
		return nil, true, false
	}
	return next, true, true
}

func (s *supervisor) dialOne(addr resolver.Address) (transport.Conn, error) {
	ctx := s.ctx
	if s.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dialTimeout)
		defer cancel()
	}
	return s.dialer.Dial(ctx, addr)
}

func (s *supervisor) dropActive(reason string) {
	active := s.active.Swap(nil)
	if active == nil {
		return
	}
	_ = active.conn.Close()
	s.logger.Debug("dropped active connection",
		zap.String("address", active.conn.Address().HostPort),
		zap.String("reason", reason))
}

func (s *supervisor) resolveClosed(err error) {
	s.closeOnce.Do(func() {
		s.closedErr = err
		close(s.closed)
	})
}
