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
	"os"
	"time"

	"github.com/openziti/unlock-automation/unlock"
	"github.com/openziti/unlock-automation/unlock/config"
	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/openziti/unlock-automation/unlock/trust"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted lock screen timeline.
type Scenario struct {
	Name string `yaml:"name"`

	// Config is an inline unlock configuration, decoded like a YAML config file.
	Config map[string]interface{} `yaml:"config"`

	Trust         TrustPatch     `yaml:"trust"`
	Pin           string         `yaml:"pin"`
	VerifyLatency time.Duration  `yaml:"verifyLatency"`
	Notifications []Notification `yaml:"notifications"`
	Steps         []Step         `yaml:"steps"`
}

type Notification struct {
	Key       string `yaml:"key"`
	Visible   bool   `yaml:"visible"`
	Clearable bool   `yaml:"clearable"`
}

// TrustPatch only changes the fields that are set.
type TrustPatch struct {
	Secured      *bool `yaml:"secured"`
	TrustManaged *bool `yaml:"trustManaged"`
	Locked       *bool `yaml:"locked"`
	Interactive  *bool `yaml:"interactive"`
	Showing      *bool `yaml:"showing"`
}

func (self TrustPatch) Apply(state *trust.State) {
	set := func(target *bool, value *bool) {
		if value != nil {
			*target = *value
		}
	}
	set(&state.Secured, self.Secured)
	set(&state.TrustManaged, self.TrustManaged)
	set(&state.Locked, self.Locked)
	set(&state.Interactive, self.Interactive)
	set(&state.Showing, self.Showing)
}

const (
	StepScreenOff     = "screenOff"
	StepScreenOn      = "screenOn"
	StepTrust         = "trust"
	StepType          = "type"
	StepWait          = "wait"
	StepNotifications = "notifications"
)

// Step is one timeline entry. Which fields apply depends on Event.
type Step struct {
	Event string `yaml:"event"`

	// Trust is applied to the trust monitor for trust steps.
	Trust TrustPatch `yaml:"trust"`

	// Text is typed one character at a time into Session for type steps.
	Text    string `yaml:"text"`
	Session string `yaml:"session"`

	// Duration is slept for wait steps.
	Duration time.Duration `yaml:"duration"`

	// Notifications replaces the notification stack for notifications steps.
	Notifications []Notification `yaml:"notifications"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read scenario %s", path)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	scenario := &Scenario{}
	if err := yaml.Unmarshal(data, scenario); err != nil {
		return nil, errors.Wrap(err, "unable to parse scenario")
	}

	for i, step := range scenario.Steps {
		switch step.Event {
		case StepScreenOff, StepScreenOn, StepTrust, StepNotifications:
		case StepType:
			if step.Text == "" {
				return nil, errors.Errorf("step %d: type step without text", i)
			}
		case StepWait:
			if step.Duration <= 0 {
				return nil, errors.Errorf("step %d: wait step without duration", i)
			}
		default:
			return nil, errors.Errorf("step %d: unknown event '%s'", i, step.Event)
		}
	}

	return scenario, nil
}

// EngineConfig decodes the inline configuration. A scenario without one gets the defaults.
func (self *Scenario) EngineConfig() (unlock.EngineConfig, error) {
	if len(self.Config) == 0 {
		return unlock.DefaultEngineConfig(), nil
	}
	data, err := yaml.Marshal(self.Config)
	if err != nil {
		return unlock.EngineConfig{}, errors.Wrap(err, "unable to encode inline scenario config")
	}
	return config.Decode(data, config.YAML)
}

func snapshotOf(notifications []Notification) policy.Snapshot {
	var result policy.Snapshot
	for _, n := range notifications {
		result = append(result, policy.Notification{Key: n.Key, Visible: n.Visible, Clearable: n.Clearable})
	}
	return result
}
