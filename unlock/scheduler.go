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

package unlock

import (
	"time"

	"github.com/kataras/go-events"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/concurrenz"
	"github.com/openziti/unlock-automation/unlock/faults"
	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/openziti/unlock-automation/unlock/trust"
)

// scheduler owns the direct and smart triggers and the trust listener registration. Apart from currentConfig,
// every method runs on the event loop.
type scheduler struct {
	trust     trust.Source
	evaluator *policy.Evaluator
	actions   ActionSink
	configs   ConfigSource
	emitter   events.EventEmmiter
	metrics   *engineMetrics
	post      func(func()) bool
	after     afterFunc

	config concurrenz.AtomicValue[EngineConfig]

	initialized        bool
	listenerRegistered bool
	direct             *trigger
	smart              *trigger
	listener           *trustListener
}

// trustListener forwards source callbacks onto the event loop.
type trustListener struct {
	scheduler *scheduler
}

func (self *trustListener) OnTrustStateChanged(trust.State) {
	self.scheduler.post(self.scheduler.onTrustChanged)
}

func (self *scheduler) currentConfig() EngineConfig {
	return self.config.Load()
}

func (self *scheduler) trigger(id TriggerId) *trigger {
	if id == SmartTrigger {
		return self.smart
	}
	return self.direct
}

// loadConfig replaces the snapshot. On failure the previous snapshot stays in place.
func (self *scheduler) loadConfig() {
	var cfg EngineConfig
	err := faults.Guard("config source", func() error {
		var err error
		cfg, err = self.configs.LoadEngineConfig()
		return err
	})

	if err != nil {
		pfxlog.Logger().WithError(err).Error("unable to load unlock configuration, keeping previous configuration")
		self.metrics.ConfigLoadFailed()
		return
	}

	cfg = cfg.WithDefaults()
	self.config.Store(cfg)
	pfxlog.Logger().WithField("directMode", cfg.DirectMode.String()).
		WithField("directPolicy", cfg.DirectPolicy.String()).
		WithField("smartEnabled", cfg.SmartEnabled).
		WithField("smartPolicy", cfg.SmartPolicy.String()).
		WithField("quickUnlock", cfg.QuickUnlock).
		Debug("unlock configuration loaded")
}

func (self *scheduler) state() (trust.State, bool) {
	var state trust.State
	err := faults.Guard("trust source", func() error {
		var err error
		state, err = self.trust.GetState()
		return err
	})
	if err != nil {
		pfxlog.Logger().WithError(err).Error("unable to query session trust state")
		return state, false
	}
	return state, true
}

func (self *scheduler) onScreenOff() {
	self.loadConfig()
	self.cancel(self.direct, "screen off")
	self.cancel(self.smart, "screen off")
	self.unregisterListener()
	self.initialized = true
}

func (self *scheduler) onScreenOn() {
	log := pfxlog.Logger()

	if !self.initialized {
		log.Debug("screen on before first screen off, nothing to schedule")
		return
	}

	state, ok := self.state()
	if !ok {
		return
	}

	if !state.Secured {
		log.Debug("screen on: session not secured, nothing to schedule")
		return
	}

	cfg := self.currentConfig()

	if !state.TrustManaged {
		if cfg.DirectMode != Off {
			self.arm(self.direct, cfg.DirectDelay)
		}
		return
	}

	if !cfg.SmartEnabled {
		return
	}

	if !self.registerListener() {
		return
	}

	if state.Insecure() {
		log.WithField("delay", cfg.SmartDelay).Debug("screen on: session insecure, scheduling smart unlock")
		self.arm(self.smart, cfg.SmartDelay)
	}
}

func (self *scheduler) onTrustChanged() {
	log := pfxlog.Logger()

	if !self.listenerRegistered {
		log.Trace("trust change ignored, no smart unlock pending for this screen cycle")
		return
	}

	state, ok := self.state()
	if !ok {
		return
	}

	log.WithField("trustManaged", state.TrustManaged).WithField("insecure", state.Insecure()).Debug("trust state changed")

	if state.TrustManaged && state.Insecure() {
		// an already queued fire is left alone
		if !self.smart.armed {
			self.arm(self.smart, 0)
		}
	} else if self.smart.armed {
		self.cancel(self.smart, "session secured by trust provider")
	}

	if state.Showing {
		self.unregisterListener()
	}
}

// arm schedules t, first canceling the other trigger so at most one is ever armed.
func (self *scheduler) arm(t *trigger, delay time.Duration) {
	other := self.direct
	if t == self.direct {
		other = self.smart
	}
	self.cancel(other, t.id.String()+" trigger armed")

	if !t.arm(self.after, delay, self.post, self.fire) {
		return
	}

	self.metrics.TriggerArmed(t.id)
	pfxlog.Logger().WithField("trigger", t.id.String()).WithField("delay", delay).Debug("trigger armed")
	self.emitter.Emit(EventTriggerArmed, &TriggerEvent{Trigger: t.id, At: time.Now()})
}

func (self *scheduler) cancel(t *trigger, reason string) {
	if !t.cancel() {
		return
	}

	self.metrics.TriggerCanceled(t.id)
	pfxlog.Logger().WithField("trigger", t.id.String()).WithField("reason", reason).Debug("trigger canceled")
	self.emitter.Emit(EventTriggerCanceled, &TriggerEvent{Trigger: t.id, Reason: reason, At: time.Now()})
}

func (self *scheduler) fire(id TriggerId, generation uint64) {
	log := pfxlog.Logger().WithField("trigger", id.String())

	t := self.trigger(id)
	if !t.consume(generation) {
		log.Trace("stale trigger fire dropped")
		return
	}
	self.metrics.TriggerFired(id)

	cfg := self.currentConfig()

	switch id {
	case SmartTrigger:
		self.unregisterListener()
		if !cfg.SmartEnabled {
			self.deny(id, "smart unlock disabled")
			return
		}
		if !self.evaluator.MayTrigger(cfg.SmartPolicy) {
			self.deny(id, "denied by "+cfg.SmartPolicy.String())
			return
		}
		self.invoke(id, "dismiss", self.actions.Dismiss)

	case DirectTrigger:
		if cfg.DirectMode == Off {
			self.deny(id, "direct unlock disabled")
			return
		}
		if !self.evaluator.MayTrigger(cfg.DirectPolicy) {
			self.deny(id, "denied by "+cfg.DirectPolicy.String())
			return
		}
		if cfg.DirectMode == SeeThrough {
			self.invoke(id, "showConfirmation", self.actions.ShowConfirmation)
		} else {
			self.invoke(id, "collapse", self.actions.Collapse)
		}
	}
}

func (self *scheduler) deny(id TriggerId, reason string) {
	self.metrics.TriggerDenied(id)
	pfxlog.Logger().WithField("trigger", id.String()).WithField("reason", reason).Debug("trigger denied")
	self.emitter.Emit(EventTriggerDenied, &TriggerEvent{Trigger: id, Reason: reason, At: time.Now()})
}

func (self *scheduler) invoke(id TriggerId, action string, f func() error) {
	if err := faults.Guard("unlock action sink", f); err != nil {
		self.metrics.TriggerActionFailed(id)
		pfxlog.Logger().WithError(err).WithField("trigger", id.String()).WithField("action", action).
			Error("unlock action failed")
		self.emitter.Emit(EventTriggerDenied, &TriggerEvent{Trigger: id, Action: action, Reason: err.Error(), At: time.Now()})
		return
	}

	pfxlog.Logger().WithField("trigger", id.String()).WithField("action", action).Info("unlock trigger fired")
	self.emitter.Emit(EventTriggerFired, &TriggerEvent{Trigger: id, Action: action, At: time.Now()})
}

func (self *scheduler) registerListener() bool {
	if self.listenerRegistered {
		return true
	}

	if err := faults.Guard("trust source", func() error { return self.trust.AddListener(self.listener) }); err != nil {
		pfxlog.Logger().WithError(err).Error("unable to register trust listener, smart unlock skipped for this screen cycle")
		return false
	}

	self.listenerRegistered = true
	self.emitter.Emit(EventListenerRegistered)
	return true
}

func (self *scheduler) unregisterListener() {
	if !self.listenerRegistered {
		return
	}

	self.listenerRegistered = false
	if err := faults.Guard("trust source", func() error { return self.trust.RemoveListener(self.listener) }); err != nil {
		pfxlog.Logger().WithError(err).Warn("unable to unregister trust listener")
	}
	self.emitter.Emit(EventListenerUnregistered)
}

func (self *scheduler) shutdown() {
	self.cancel(self.direct, "engine closed")
	self.cancel(self.smart, "engine closed")
	self.unregisterListener()
}
