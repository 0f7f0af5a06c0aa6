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

package policy

import (
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/unlock-automation/unlock/faults"
)

// NotificationSource produces the current notification stack.
type NotificationSource interface {
	Snapshot() (Snapshot, error)
}

// SourceFunc is a function adapter that implements NotificationSource.
type SourceFunc func() (Snapshot, error)

func (f SourceFunc) Snapshot() (Snapshot, error) {
	return f()
}

// Evaluator applies a TriggerPolicy to a fresh snapshot taken at decision time. Snapshots are never cached.
type Evaluator struct {
	source     NotificationSource
	failClosed bool
}

// NewEvaluator returns an evaluator that treats an unavailable source as allowing the trigger.
func NewEvaluator(source NotificationSource) *Evaluator {
	return &Evaluator{source: source}
}

// NewFailClosedEvaluator returns an evaluator that treats an unavailable source as denying the trigger.
func NewFailClosedEvaluator(source NotificationSource) *Evaluator {
	return &Evaluator{source: source, failClosed: true}
}

// MayTrigger reports whether policy currently allows a trigger. It never returns an error: a source failure is
// logged and resolved by the evaluator's failure mode.
func (e *Evaluator) MayTrigger(policy TriggerPolicy) bool {
	if policy == AlwaysAllowed {
		return true
	}

	var snapshot Snapshot
	err := faults.Guard("notification source", func() error {
		if e.source == nil {
			return faults.ErrCollaboratorUnavailable
		}
		var err error
		snapshot, err = e.source.Snapshot()
		return err
	})

	if err != nil {
		pfxlog.Logger().WithError(err).WithField("policy", policy.String()).
			WithField("failClosed", e.failClosed).
			Error("unable to obtain notification snapshot")
		return !e.failClosed
	}

	allowed := MayTrigger(policy, snapshot)
	if !allowed {
		visible, clearable := snapshot.Counts()
		pfxlog.Logger().WithField("policy", policy.String()).
			WithField("visible", visible).
			WithField("clearable", clearable).
			Debug("trigger denied by notification policy")
	}
	return allowed
}
