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

// Package backoff provides strategies for computing delays between
// consecutive connection attempts.
package backoff

import (
	"errors"
	"math/rand"
	"time"

	"go.uber.org/multierr"
)

// Strategy computes the delay to wait before a retry. The attempt argument
// is the number of consecutive failures that have already occurred, starting
// at zero for the delay after the first failure.
type Strategy interface {
	Duration(attempt uint) time.Duration
}

// None is a strategy that never waits. It is primarily useful in tests that
// need deterministic, immediate retries.
//
//nolint:gochecknoglobals
var None Strategy = noDelay{}

type noDelay struct{}

func (noDelay) Duration(uint) time.Duration {
	return 0
}

// ExponentialOption defines options that can be applied to an exponential
// backoff strategy.
type ExponentialOption func(*exponentialOptions)

type exponentialOptions struct {
	base, min, max time.Duration
	rand           *rand.Rand
	minMaxDiff     int64
}

func (e exponentialOptions) validate() (err error) {
	if e.base <= 0 {
		err = multierr.Append(err, errors.New("invalid base for exponential backoff, need greater than zero"))
	}
	if e.min < 0 {
		err = multierr.Append(err, errors.New("invalid min for exponential backoff, need greater than or equal to zero"))
	}
	if e.max < 0 {
		err = multierr.Append(err, errors.New("invalid max for exponential backoff, need greater than or equal to zero"))
	}
	if e.max < e.min {
		err = multierr.Append(err, errors.New("exponential max value must be greater than min value"))
	}
	return err
}

func defaultExponentialOpts() exponentialOptions {
	return exponentialOptions{
		base: 10 * time.Millisecond,
		max:  30 * time.Second,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter doesn't need crypto rand
	}
}

// BaseJump sets the first "jump" the exponential backoff strategy uses; each
// subsequent attempt doubles it.
func BaseJump(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.base = t
	}
}

// MaxBackoff sets the absolute max time that will ever be returned for a backoff.
func MaxBackoff(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.max = t
	}
}

// MinBackoff sets the absolute min time that will ever be returned for a backoff.
func MinBackoff(t time.Duration) ExponentialOption {
	return func(options *exponentialOptions) {
		options.min = t
	}
}

// randGenerator is an internal option for overriding the random number
// generator from tests.
func randGenerator(rand *rand.Rand) ExponentialOption {
	return func(options *exponentialOptions) {
		options.rand = rand
	}
}

// Exponential is an exponential backoff strategy with full jitter: each
// returned duration is drawn uniformly from a closed [Min, Max-bounded]
// interval that doubles with every attempt.
type Exponential struct {
	opts exponentialOptions
}

// NewExponential returns a new exponential backoff strategy.
func NewExponential(opts ...ExponentialOption) (*Exponential, error) {
	options := defaultExponentialOpts()
	for _, opt := range opts {
		opt(&options)
	}

	if err := options.validate(); err != nil {
		return nil, err
	}
	options.minMaxDiff = options.max.Nanoseconds() - options.min.Nanoseconds()

	return &Exponential{
		opts: options,
	}, nil
}

// Duration takes an attempt number and returns the duration the caller
// should wait.
func (e *Exponential) Duration(attempt uint) time.Duration {
	spread := (1 << attempt) * e.opts.base.Nanoseconds()

	// Either the bit shift overflowed, or we went past the max duration
	// we're willing to back off. In both cases use the max value.
	if spread > e.opts.minMaxDiff || spread <= 0 {
		spread = e.opts.minMaxDiff
	}

	return e.opts.min + time.Duration(e.opts.rand.Int63n(spread+1))
}
