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
	"sync/atomic"
	"time"

	"github.com/openziti/metrics"
	"github.com/openziti/unlock-automation/unlock/verify"
)

var _ verify.Observer = (*engineMetrics)(nil)

type triggerMetrics struct {
	armed        metrics.Meter
	canceled     metrics.Meter
	fired        metrics.Meter
	denied       metrics.Meter
	actionFailed metrics.Meter
	armedNow     int64
}

type engineMetrics struct {
	triggers map[TriggerId]*triggerMetrics

	quickSubmitted  metrics.Meter
	quickRejected   metrics.Meter
	quickMatched    metrics.Meter
	quickMismatched metrics.Meter
	quickFailed     metrics.Meter
	quickDropped    metrics.Meter
	quickUnlocked   metrics.Meter
	verifyTimer     metrics.Timer

	configLoadFailures metrics.Meter
}

func newEngineMetrics(registry metrics.Registry) *engineMetrics {
	impl := &engineMetrics{
		triggers:           map[TriggerId]*triggerMetrics{},
		quickSubmitted:     registry.Meter("unlock.quick.submitted"),
		quickRejected:      registry.Meter("unlock.quick.rejected"),
		quickMatched:       registry.Meter("unlock.quick.matched"),
		quickMismatched:    registry.Meter("unlock.quick.mismatched"),
		quickFailed:        registry.Meter("unlock.quick.failed"),
		quickDropped:       registry.Meter("unlock.quick.dropped"),
		quickUnlocked:      registry.Meter("unlock.quick.unlocked"),
		verifyTimer:        registry.Timer("unlock.quick.verify_time"),
		configLoadFailures: registry.Meter("unlock.config.load_failures"),
	}

	for _, id := range []TriggerId{DirectTrigger, SmartTrigger} {
		prefix := "unlock.trigger." + id.String()
		tm := &triggerMetrics{
			armed:        registry.Meter(prefix + ".armed"),
			canceled:     registry.Meter(prefix + ".canceled"),
			fired:        registry.Meter(prefix + ".fired"),
			denied:       registry.Meter(prefix + ".denied"),
			actionFailed: registry.Meter(prefix + ".action_failed"),
		}
		impl.triggers[id] = tm

		registry.FuncGauge(prefix+".armed_now", func() int64 {
			return atomic.LoadInt64(&tm.armedNow)
		})
	}

	return impl
}

func (self *engineMetrics) TriggerArmed(id TriggerId) {
	tm := self.triggers[id]
	tm.armed.Mark(1)
	atomic.StoreInt64(&tm.armedNow, 1)
}

func (self *engineMetrics) TriggerCanceled(id TriggerId) {
	tm := self.triggers[id]
	tm.canceled.Mark(1)
	atomic.StoreInt64(&tm.armedNow, 0)
}

func (self *engineMetrics) TriggerFired(id TriggerId) {
	tm := self.triggers[id]
	tm.fired.Mark(1)
	atomic.StoreInt64(&tm.armedNow, 0)
}

func (self *engineMetrics) TriggerDenied(id TriggerId) {
	self.triggers[id].denied.Mark(1)
}

func (self *engineMetrics) TriggerActionFailed(id TriggerId) {
	self.triggers[id].actionFailed.Mark(1)
}

func (self *engineMetrics) ConfigLoadFailed() {
	self.configLoadFailures.Mark(1)
}

func (self *engineMetrics) QuickUnlocked() {
	self.quickUnlocked.Mark(1)
}

func (self *engineMetrics) Submitted() {
	self.quickSubmitted.Mark(1)
}

func (self *engineMetrics) Rejected(error) {
	self.quickRejected.Mark(1)
}

func (self *engineMetrics) Verified(duration time.Duration, matched bool, err error) {
	self.verifyTimer.Update(duration)
	switch {
	case err != nil:
		self.quickFailed.Mark(1)
	case matched:
		self.quickMatched.Mark(1)
	default:
		self.quickMismatched.Mark(1)
	}
}

func (self *engineMetrics) Dropped(error) {
	self.quickDropped.Mark(1)
}
