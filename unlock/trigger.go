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

import "time"

// TriggerId identifies one of the two delayed unlock triggers.
type TriggerId int

const (
	DirectTrigger TriggerId = iota
	SmartTrigger
)

func (id TriggerId) String() string {
	switch id {
	case DirectTrigger:
		return "direct"
	case SmartTrigger:
		return "smart"
	default:
		return "unknown"
	}
}

type stopFunc func() bool

type afterFunc func(d time.Duration, f func()) stopFunc

func timeAfterFunc(d time.Duration, f func()) stopFunc {
	return time.AfterFunc(d, f).Stop
}

// trigger is a one-shot cancelable delayed trigger. It is only used from the event loop. Every arm and cancel
// bumps the generation, so a timer that already posted its fire event before being stopped is recognised as stale
// when that event is handled.
type trigger struct {
	id         TriggerId
	armed      bool
	fireAt     time.Time
	generation uint64
	stop       stopFunc
}

func newTrigger(id TriggerId) *trigger {
	return &trigger{id: id}
}

// arm schedules fire(generation) to be posted after delay. Arming an armed trigger is a no-op returning false.
func (self *trigger) arm(after afterFunc, delay time.Duration, post func(func()) bool, fire func(id TriggerId, generation uint64)) bool {
	if self.armed {
		return false
	}

	self.armed = true
	self.generation++
	self.fireAt = time.Now().Add(delay)

	id, generation := self.id, self.generation
	self.stop = after(delay, func() {
		post(func() {
			fire(id, generation)
		})
	})
	return true
}

// consume disarms the trigger if generation is the armed one. A false return means the fire is stale.
func (self *trigger) consume(generation uint64) bool {
	if !self.armed || generation != self.generation {
		return false
	}
	self.armed = false
	self.stop = nil
	return true
}

// cancel disarms the trigger. Once it returns the pending fire, if any, can no longer take effect.
func (self *trigger) cancel() bool {
	if !self.armed {
		return false
	}
	self.armed = false
	self.generation++
	if self.stop != nil {
		self.stop()
		self.stop = nil
	}
	return true
}
