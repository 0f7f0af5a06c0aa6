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

// Package unlock decides when a locked session should be dismissed without explicit user action. It arms the
// direct and smart unlock triggers from screen and trust lifecycle events, gates them on the pending
// notifications and verifies typed credentials early so a correct pin unlocks without a confirm step.
//
// An Engine is created once per lock surface lifecycle. The embedding surface calls OnScreenOff, OnScreenOn,
// OnTrustChanged and OnCredentialAppended; none of them block on collaborators or return errors.
package unlock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/go-events"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/metrics"
	"github.com/openziti/unlock-automation/inspect"
	"github.com/openziti/unlock-automation/unlock/faults"
	"github.com/openziti/unlock-automation/unlock/pattern"
	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/openziti/unlock-automation/unlock/verify"
	"github.com/pkg/errors"
)

type Engine struct {
	events.EventEmmiter

	id        string
	actions   ActionSink
	loop      *eventLoop
	scheduler *scheduler
	verifier  *verify.Verifier
	metrics   *engineMetrics
	override  pattern.Override

	// credentialEpoch is bumped on every screen off. Quick verification results from an older epoch are dropped.
	credentialEpoch atomic.Uint64

	closeNotify chan struct{}
	closeOnce   sync.Once
}

// New creates an engine and starts its event loop. options may be nil.
func New(collaborators Collaborators, options *Options) (*Engine, error) {
	return newEngine(collaborators, options, timeAfterFunc)
}

func newEngine(collaborators Collaborators, options *Options, after afterFunc) (*Engine, error) {
	if collaborators.Trust == nil {
		return nil, errors.New("trust source must not be nil")
	}
	if collaborators.Actions == nil {
		return nil, errors.New("action sink must not be nil")
	}
	if collaborators.Config == nil {
		return nil, errors.New("config source must not be nil")
	}
	if options == nil {
		options = DefaultOptions
	}

	registry := options.MetricsRegistry
	if registry == nil {
		registry = metrics.NewRegistry("unlock", nil)
	}

	closeNotify := make(chan struct{})

	engine := &Engine{
		EventEmmiter: events.New(),
		id:           uuid.NewString(),
		actions:      collaborators.Actions,
		loop:         newEventLoop(options.eventQueueSize(), closeNotify),
		metrics:      newEngineMetrics(registry),
		closeNotify:  closeNotify,
	}

	evaluator := policy.NewEvaluator(collaborators.Notifications)
	if options.PolicyFailClosed {
		evaluator = policy.NewFailClosedEvaluator(collaborators.Notifications)
	}

	engine.scheduler = &scheduler{
		trust:     collaborators.Trust,
		evaluator: evaluator,
		actions:   collaborators.Actions,
		configs:   collaborators.Config,
		emitter:   engine.EventEmmiter,
		metrics:   engine.metrics,
		post:      engine.loop.post,
		after:     after,
		direct:    newTrigger(DirectTrigger),
		smart:     newTrigger(SmartTrigger),
	}
	engine.scheduler.listener = &trustListener{scheduler: engine.scheduler}

	// quick verification and pattern drawing need a snapshot before the first screen off
	engine.scheduler.config.Store(DefaultEngineConfig())
	engine.scheduler.loadConfig()

	if collaborators.Credentials != nil {
		verifier, err := verify.New(options.verifyConfig(closeNotify), collaborators.Credentials,
			engine.loop.post, collaborators.Liveness, engine.metrics)
		if err != nil {
			return nil, err
		}
		engine.verifier = verifier
	}

	go engine.loop.run()

	pfxlog.Logger().WithField("engineId", engine.id).WithField("version", Version).Info("unlock engine started")
	return engine, nil
}

func (self *Engine) Id() string {
	return self.id
}

// OnScreenOff reloads the configuration, cancels both triggers and drops the trust listener registration.
func (self *Engine) OnScreenOff() {
	self.credentialEpoch.Add(1)
	self.dispatch("screenOff", self.scheduler.onScreenOff)
}

// OnScreenOn arms the direct trigger, or registers the trust listener and possibly arms the smart trigger.
func (self *Engine) OnScreenOn() {
	self.dispatch("screenOn", self.scheduler.onScreenOn)
}

// OnTrustChanged re-evaluates the smart trigger. It has no effect while the trust listener is not registered.
func (self *Engine) OnTrustChanged() {
	self.dispatch("trustChanged", self.scheduler.onTrustChanged)
}

// OnCredentialAppended submits the current credential entry for quick verification. Entries whose length differs
// from the configured pin length are ignored.
func (self *Engine) OnCredentialAppended(candidate string, sessionId string) {
	defer func() {
		if r := recover(); r != nil {
			pfxlog.Logger().Errorf("panic during quick verification submit: %v", r)
		}
	}()

	cfg := self.scheduler.currentConfig()
	if !cfg.QuickUnlock || self.verifier == nil {
		return
	}

	epoch := self.credentialEpoch.Load()
	err := self.verifier.Submit(candidate, sessionId, cfg.PinLength, func(sessionId string) {
		self.onQuickMatch(sessionId, epoch)
	})

	if errors.Is(err, faults.ErrMalformedCandidate) {
		return
	}
	if err != nil {
		pfxlog.Logger().WithError(err).WithField("sessionId", sessionId).Warn("unable to submit quick verification")
	}
}

// DrawPattern runs draw with the wrong-pattern indication hidden when the configuration asks for it.
func (self *Engine) DrawPattern(surface pattern.Surface, draw func()) {
	self.override.Draw(surface, self.scheduler.currentConfig().HidePatternError, draw)
}

// onQuickMatch runs on the event loop.
func (self *Engine) onQuickMatch(sessionId string, epoch uint64) {
	log := pfxlog.Logger().WithField("sessionId", sessionId)

	if current := self.credentialEpoch.Load(); current != epoch {
		err := errors.Wrapf(faults.ErrStaleCallback, "verification from screen cycle %d, now %d", epoch, current)
		log.WithError(err).Debug("dropping quick verification result")
		self.metrics.Dropped(err)
		return
	}

	if reporter, ok := self.actions.(AttemptReporter); ok {
		err := faults.Guard("unlock action sink", func() error {
			return reporter.ReportUnlockAttempt(sessionId, true)
		})
		if err != nil {
			log.WithError(err).Error("unable to report unlock attempt")
		}
	}

	if err := faults.Guard("unlock action sink", self.actions.Dismiss); err != nil {
		log.WithError(err).Error("error dismissing lock surface after quick verification")
		return
	}

	self.metrics.QuickUnlocked()
	log.Info("quick unlock dismissed lock surface")
	self.Emit(EventQuickUnlock, &QuickUnlockEvent{SessionId: sessionId, At: time.Now()})
}

func (self *Engine) dispatch(event string, f func()) {
	if !self.loop.post(f) {
		pfxlog.Logger().WithField("event", event).Debug("unlock engine closed, event ignored")
	}
}

// Inspect reports the engine state as seen from the event loop. It must not be called from an engine event
// listener.
func (self *Engine) Inspect() *inspect.EngineInspectResult {
	result := &inspect.EngineInspectResult{
		EngineId: self.id,
		Version:  Version,
	}

	cfg := self.scheduler.currentConfig()
	result.Config = &inspect.EngineConfigDetail{
		DirectMode:       cfg.DirectMode.String(),
		DirectPolicy:     cfg.DirectPolicy.String(),
		SmartEnabled:     cfg.SmartEnabled,
		SmartPolicy:      cfg.SmartPolicy.String(),
		QuickUnlock:      cfg.QuickUnlock,
		PinLength:        cfg.PinLength,
		HidePatternError: cfg.HidePatternError,
		DirectDelay:      cfg.DirectDelay.String(),
		SmartDelay:       cfg.SmartDelay.String(),
	}
	result.CredentialEpoch = self.credentialEpoch.Load()
	result.PatternOverrideActive = self.override.Active()

	ran := self.loop.call(func() {
		s := self.scheduler
		result.Initialized = s.initialized
		result.TrustListenerRegistered = s.listenerRegistered
		for _, t := range []*trigger{s.direct, s.smart} {
			detail := &inspect.TriggerInspectDetail{
				Trigger:    t.id.String(),
				Policy:     cfg.DirectPolicy.String(),
				Armed:      t.armed,
				Generation: t.generation,
			}
			if t.id == SmartTrigger {
				detail.Policy = cfg.SmartPolicy.String()
			}
			if t.armed {
				fireAt := t.fireAt
				detail.FireAt = &fireAt
			}
			result.Triggers = append(result.Triggers, detail)
		}
	})

	result.Closed = !ran
	return result
}

// Close cancels pending triggers, unregisters the trust listener and stops the event loop and verification pool.
func (self *Engine) Close() error {
	self.closeOnce.Do(func() {
		self.loop.call(self.scheduler.shutdown)
		close(self.closeNotify)
		if self.verifier != nil {
			self.verifier.Shutdown()
		}
		pfxlog.Logger().WithField("engineId", self.id).Info("unlock engine closed")
	})
	return nil
}
