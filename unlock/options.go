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

	"github.com/openziti/metrics"
	"github.com/openziti/unlock-automation/unlock/policy"
	"github.com/openziti/unlock-automation/unlock/trust"
	"github.com/openziti/unlock-automation/unlock/verify"
)

// Collaborators are the external contracts the engine depends on.
type Collaborators struct {
	Trust         trust.Source
	Notifications policy.NotificationSource
	Actions       ActionSink
	Config        ConfigSource

	// Credentials may be nil, in which case quick verification is unavailable.
	Credentials verify.CredentialStore

	// Liveness may be nil, in which case every session is considered live.
	Liveness verify.LivenessChecker
}

type Options struct {
	// EventQueueSize bounds the number of events waiting for the event loop.
	EventQueueSize int

	VerifyWorkers   uint32
	VerifyQueueSize uint32
	VerifyTimeout   time.Duration

	// PolicyFailClosed makes an unavailable notification source deny triggers instead of allowing them.
	PolicyFailClosed bool

	// MetricsRegistry receives the engine metrics. A private registry is created when nil.
	MetricsRegistry metrics.Registry
}

var DefaultOptions = &Options{
	EventQueueSize:  64,
	VerifyWorkers:   1,
	VerifyQueueSize: 16,
	VerifyTimeout:   5 * time.Second,
}

func (self *Options) verifyConfig(closeNotify <-chan struct{}) verify.Config {
	cfg := verify.DefaultConfig()
	if self.VerifyWorkers > 0 {
		cfg.Workers = self.VerifyWorkers
	}
	if self.VerifyQueueSize > 0 {
		cfg.QueueSize = self.VerifyQueueSize
	}
	if self.VerifyTimeout > 0 {
		cfg.Timeout = self.VerifyTimeout
	}
	cfg.CloseNotify = closeNotify
	return cfg
}

func (self *Options) eventQueueSize() int {
	if self.EventQueueSize < 1 {
		return DefaultOptions.EventQueueSize
	}
	return self.EventQueueSize
}
