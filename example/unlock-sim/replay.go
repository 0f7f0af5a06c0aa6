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


package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kataras/go-events"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/unlock-automation/inspect"
	"github.com/openziti/unlock-automation/unlock"
	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/openziti/unlock-automation/unlock/trust"
	"github.com/openziti/unlock-automation/unlock/verify"
)

// Report counts what the engine did while a scenario ran.
type Report struct {
	Dismissed     int
	Confirmations int
	Collapsed     int
	Denied        int
	QuickUnlocks  int
	Inspect       *inspect.EngineInspectResult
}

// lockSurface stands in for the lock screen, printing every action it is asked to perform.
type lockSurface struct {
	sync.Mutex
	out    io.Writer
	start  time.Time
	report Report
}

func (self *lockSurface) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(self.out, "%8v  ", time.Since(self.start).Round(time.Millisecond))
	_, _ = fmt.Fprintf(self.out, format+"\n", args...)
}

func (self *lockSurface) Dismiss() error {
	self.Lock()
	defer self.Unlock()
	self.report.Dismissed++
	self.printf("lock surface dismissed")
	return nil
}

func (self *lockSurface) ShowConfirmation() error {
	self.Lock()
	defer self.Unlock()
	self.report.Confirmations++
	self.printf("confirmation surface shown")
	return nil
}

func (self *lockSurface) Collapse() error {
	self.Lock()
	defer self.Unlock()
	self.report.Collapsed++
	self.printf("expanded view collapsed")
	return nil
}

func (self *lockSurface) ReportUnlockAttempt(sessionId string, success bool) error {
	self.Lock()
	defer self.Unlock()
	self.printf("unlock attempt reported for %s (success: %v)", sessionId, success)
	return nil
}

type notificationStack struct {
	sync.Mutex
	snapshot policy.Snapshot
}

func (self *notificationStack) set(snapshot policy.Snapshot) {
	self.Lock()
	defer self.Unlock()
	self.snapshot = snapshot
}

func (self *notificationStack) Snapshot() (policy.Snapshot, error) {
	self.Lock()
	defer self.Unlock()
	return append(policy.Snapshot(nil), self.snapshot...), nil
}

type Simulator struct {
	// Settle is how long to wait after the last step so pending triggers can fire.
	Settle time.Duration
	// Config overrides the scenario's inline configuration when set.
	Config unlock.ConfigSource
	Out    io.Writer
}

func (self *Simulator) Run(scenario *Scenario) (*Report, error) {
	log := pfxlog.Logger().WithField("scenario", scenario.Name)

	configSource := self.Config
	if configSource == nil {
		cfg, err := scenario.EngineConfig()
		if err != nil {
			return nil, err
		}
		configSource = unlock.StaticConfig(cfg)
	}

	state := trust.State{Secured: true, Locked: true, Interactive: true}
	scenario.Trust.Apply(&state)
	monitor := trust.NewMonitor(state)

	notifications := &notificationStack{snapshot: snapshotOf(scenario.Notifications)}
	surface := &lockSurface{out: self.Out, start: time.Now()}

	collaborators := unlock.Collaborators{
		Trust:         monitor,
		Notifications: notifications,
		Actions:       surface,
		Config:        configSource,
	}

	if scenario.Pin != "" {
		latency := scenario.VerifyLatency
		collaborators.Credentials = verify.StoreFunc(func(ctx context.Context, candidate string, _ string) (bool, error) {
			select {
			case <-time.After(latency):
			case <-ctx.Done():
				return false, ctx.Err()
			}
			return candidate == scenario.Pin, nil
		})
	}

	engine, err := unlock.New(collaborators, nil)
	if err != nil {
		return nil, err
	}

	engine.AddListener(unlock.EventTriggerArmed, func(data ...interface{}) {
		surface.Lock()
		defer surface.Unlock()
		surface.printf("%s trigger armed", data[0].(*unlock.TriggerEvent).Trigger)
	})
	engine.AddListener(unlock.EventTriggerCanceled, func(data ...interface{}) {
		event := data[0].(*unlock.TriggerEvent)
		surface.Lock()
		defer surface.Unlock()
		surface.printf("%s trigger canceled: %s", event.Trigger, event.Reason)
	})
	engine.AddListener(unlock.EventTriggerDenied, func(data ...interface{}) {
		event := data[0].(*unlock.TriggerEvent)
		surface.Lock()
		defer surface.Unlock()
		surface.report.Denied++
		surface.printf("%s trigger denied: %s", event.Trigger, event.Reason)
	})
	engine.AddListener(unlock.EventQuickUnlock, func(data ...interface{}) {
		surface.Lock()
		defer surface.Unlock()
		surface.report.QuickUnlocks++
	})
	engine.AddListener(unlock.EventListenerRegistered, note(surface, "trust listener registered"))
	engine.AddListener(unlock.EventListenerUnregistered, note(surface, "trust listener unregistered"))

	log.WithField("steps", len(scenario.Steps)).Info("replaying scenario")

	for _, step := range scenario.Steps {
		switch step.Event {
		case StepScreenOff:
			engine.OnScreenOff()
		case StepScreenOn:
			engine.OnScreenOn()
		case StepTrust:
			monitor.Update(step.Trust.Apply)
		case StepNotifications:
			notifications.set(snapshotOf(step.Notifications))
		case StepType:
			session := step.Session
			if session == "" {
				session = "entry"
			}
			runes := []rune(step.Text)
			for i := range runes {
				engine.OnCredentialAppended(string(runes[:i+1]), session)
			}
		case StepWait:
			time.Sleep(step.Duration)
		}
	}

	time.Sleep(self.Settle)

	result := engine.Inspect()
	if err = engine.Close(); err != nil {
		return nil, err
	}

	surface.Lock()
	defer surface.Unlock()
	report := surface.report
	report.Inspect = result
	return &report, nil
}

func note(surface *lockSurface, msg string) events.Listener {
	return func(...interface{}) {
		surface.Lock()
		defer surface.Unlock()
		surface.printf("%s", msg)
	}
}
