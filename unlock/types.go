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
	"strings"
	"time"

	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/pkg/errors"
)

const (
	DefaultPinLength   = 4
	DefaultDirectDelay = 300 * time.Millisecond

	// DefaultSmartDelay gives a trust provider that reported the session insecure at wake time the chance to
	// flip back to secure (on-body detection settling) before the lock surface is dismissed.
	DefaultSmartDelay = time.Second
)

// UnlockMode selects the direct trigger's dismissal treatment.
type UnlockMode int

const (
	Off UnlockMode = iota
	Standard
	SeeThrough
)

func (m UnlockMode) String() string {
	switch m {
	case Off:
		return "Off"
	case Standard:
		return "Standard"
	case SeeThrough:
		return "SeeThrough"
	default:
		return "Unknown"
	}
}

func (m UnlockMode) MarshalText() ([]byte, error) {
	if m < Off || m > SeeThrough {
		return nil, errors.Errorf("invalid unlock mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts the Go names, their snake_case forms and the legacy preference values OFF, STANDARD and
// SEE_THROUGH.
func (m *UnlockMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "off", "":
		*m = Off
	case "standard":
		*m = Standard
	case "seethrough", "see_through":
		*m = SeeThrough
	default:
		return errors.Errorf("unknown unlock mode '%s'", string(text))
	}
	return nil
}

// EngineConfig is the snapshot the scheduler loads on every screen-off. It is replaced wholesale, never mutated
// in place.
type EngineConfig struct {
	DirectMode       UnlockMode           `json:"directUnlock" mapstructure:"directUnlock"`
	DirectPolicy     policy.TriggerPolicy `json:"directUnlockPolicy" mapstructure:"directUnlockPolicy"`
	SmartEnabled     bool                 `json:"smartUnlock" mapstructure:"smartUnlock"`
	SmartPolicy      policy.TriggerPolicy `json:"smartUnlockPolicy" mapstructure:"smartUnlockPolicy"`
	QuickUnlock      bool                 `json:"quickUnlock" mapstructure:"quickUnlock"`
	PinLength        int                  `json:"pinLength" mapstructure:"pinLength"`
	HidePatternError bool                 `json:"hidePatternError" mapstructure:"hidePatternError"`
	DirectDelay      time.Duration        `json:"directDelay" mapstructure:"directDelay"`
	SmartDelay       time.Duration        `json:"smartDelay" mapstructure:"smartDelay"`
}

// DefaultEngineConfig has every automation switched off.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DirectMode:   Off,
		DirectPolicy: policy.AlwaysAllowed,
		SmartPolicy:  policy.AlwaysAllowed,
		PinLength:    DefaultPinLength,
		DirectDelay:  DefaultDirectDelay,
		SmartDelay:   DefaultSmartDelay,
	}
}

// WithDefaults fills unset pin length and delays.
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.PinLength <= 0 {
		c.PinLength = DefaultPinLength
	}
	if c.DirectDelay <= 0 {
		c.DirectDelay = DefaultDirectDelay
	}
	if c.SmartDelay <= 0 {
		c.SmartDelay = DefaultSmartDelay
	}
	return c
}

// ConfigSource supplies the configuration snapshot. It is only read at screen-off, plus once at engine creation.
type ConfigSource interface {
	LoadEngineConfig() (EngineConfig, error)
}

// ConfigSourceFunc is a function adapter that implements ConfigSource.
type ConfigSourceFunc func() (EngineConfig, error)

func (f ConfigSourceFunc) LoadEngineConfig() (EngineConfig, error) {
	return f()
}

// StaticConfig always returns cfg.
func StaticConfig(cfg EngineConfig) ConfigSource {
	return ConfigSourceFunc(func() (EngineConfig, error) {
		return cfg, nil
	})
}

// ActionSink performs the lock surface actions the engine decides on.
type ActionSink interface {
	// Dismiss dismisses the lock surface to home.
	Dismiss() error
	// ShowConfirmation shows the credential confirmation surface.
	ShowConfirmation() error
	// Collapse collapses the expanded view.
	Collapse() error
}

// AttemptReporter is optionally implemented by an ActionSink. When present a successful quick unlock is reported
// before dismissing.
type AttemptReporter interface {
	ReportUnlockAttempt(sessionId string, success bool) error
}
