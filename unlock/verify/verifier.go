/*
	Copyright 2025 NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

// Package verify checks partially typed credentials against the stored credential off the input path and hands
// matches back to an ordered dispatch target.
package verify

import (
	"context"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/goroutines"
	"github.com/openziti/unlock-automation/unlock/faults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CredentialStore compares a candidate with the stored credential. It may block.
type CredentialStore interface {
	Verify(ctx context.Context, candidate string, sessionId string) (bool, error)
}

// StoreFunc is a function adapter that implements CredentialStore.
type StoreFunc func(ctx context.Context, candidate string, sessionId string) (bool, error)

func (f StoreFunc) Verify(ctx context.Context, candidate string, sessionId string) (bool, error) {
	return f(ctx, candidate, sessionId)
}

// LivenessChecker reports whether the session a result belongs to still exists (the entry view has not been
// destroyed or cleared).
type LivenessChecker interface {
	IsSessionLive(sessionId string) bool
}

// LivenessFunc is a function adapter that implements LivenessChecker.
type LivenessFunc func(sessionId string) bool

func (f LivenessFunc) IsSessionLive(sessionId string) bool {
	return f(sessionId)
}

// Dispatcher posts f onto the goroutine that owns session callback ordering, returning false if it cannot.
type Dispatcher func(f func()) bool

// Observer receives verification outcomes. Implementations must be safe for concurrent use.
type Observer interface {
	Submitted()
	Rejected(err error)
	Verified(duration time.Duration, matched bool, err error)
	Dropped(err error)
}

type Config struct {
	Workers     uint32
	QueueSize   uint32
	Timeout     time.Duration
	CloseNotify <-chan struct{}
}

func DefaultConfig() Config {
	return Config{
		Workers:   1,
		QueueSize: 16,
		Timeout:   5 * time.Second,
	}
}

type Verifier struct {
	pool     goroutines.Pool
	store    CredentialStore
	liveness LivenessChecker
	dispatch Dispatcher
	observer Observer
	timeout  time.Duration
}

// New creates a verifier. liveness and observer may be nil.
func New(config Config, store CredentialStore, dispatch Dispatcher, liveness LivenessChecker, observer Observer) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("credential store must not be nil")
	}
	if dispatch == nil {
		return nil, errors.New("dispatcher must not be nil")
	}

	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}

	poolConfig := goroutines.PoolConfig{
		QueueSize:   config.QueueSize,
		MinWorkers:  1,
		MaxWorkers:  config.Workers,
		IdleTime:    30 * time.Second,
		CloseNotify: config.CloseNotify,
		PanicHandler: func(err interface{}) {
			pfxlog.Logger().WithField(logrus.ErrorKey, err).WithField("backtrace", string(debug.Stack())).Error("panic during credential verification")
		},
		WorkerFunction: verifyWorker,
	}

	pool, err := goroutines.NewPool(poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "error creating credential verification pool")
	}

	return &Verifier{
		pool:     pool,
		store:    store,
		liveness: liveness,
		dispatch: dispatch,
		observer: observer,
		timeout:  config.Timeout,
	}, nil
}

func verifyWorker(_ uint32, f func()) {
	f()
}

// Submit queues candidate for verification when its length equals pinLength. Any other length yields
// faults.ErrMalformedCandidate without touching the store. On a match, onMatch runs on the dispatch target, and only
// if the session is still live. Submit never blocks on the store.
func (v *Verifier) Submit(candidate string, sessionId string, pinLength int, onMatch func(sessionId string)) error {
	if pinLength < 1 || utf8.RuneCountInString(candidate) != pinLength {
		return faults.ErrMalformedCandidate
	}

	v.observe(func(o Observer) { o.Submitted() })

	err := v.pool.QueueOrError(func() {
		v.verify(candidate, sessionId, onMatch)
	})

	if err != nil {
		err = errors.Wrap(err, "credential verification queue unavailable")
		v.observe(func(o Observer) { o.Rejected(err) })
		return err
	}
	return nil
}

func (v *Verifier) verify(candidate string, sessionId string, onMatch func(sessionId string)) {
	log := pfxlog.Logger().WithField("sessionId", sessionId)

	ctx := context.Background()
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	start := time.Now()
	matched := false
	err := faults.Guard("credential store", func() error {
		var err error
		matched, err = v.store.Verify(ctx, candidate, sessionId)
		return err
	})
	elapsed := time.Since(start)

	v.observe(func(o Observer) { o.Verified(elapsed, matched && err == nil, err) })

	if err != nil {
		log.WithError(err).Debug("quick verification failed")
		return
	}

	if !matched {
		log.Trace("quick verification did not match")
		return
	}

	posted := v.dispatch(func() {
		if v.liveness != nil && !v.isLive(sessionId) {
			err := errors.Wrapf(faults.ErrStaleCallback, "session %v", sessionId)
			log.WithError(err).Debug("dropping quick verification result")
			v.observe(func(o Observer) { o.Dropped(err) })
			return
		}
		onMatch(sessionId)
	})

	if !posted {
		err := errors.Wrapf(faults.ErrStaleCallback, "dispatcher closed, session %v", sessionId)
		log.WithError(err).Debug("dropping quick verification result")
		v.observe(func(o Observer) { o.Dropped(err) })
	}
}

func (v *Verifier) isLive(sessionId string) bool {
	live := false
	err := faults.Guard("session liveness", func() error {
		live = v.liveness.IsSessionLive(sessionId)
		return nil
	})
	if err != nil {
		pfxlog.Logger().WithError(err).Error("unable to check session liveness, treating as stale")
		return false
	}
	return live
}

func (v *Verifier) observe(f func(o Observer)) {
	if v.observer != nil {
		f(v.observer)
	}
}

// Shutdown stops the worker pool. Queued verifications may be abandoned.
func (v *Verifier) Shutdown() {
	v.pool.Shutdown()
}
