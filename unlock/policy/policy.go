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

// Package policy decides whether an unlock trigger may fire given the notifications currently pending on the
// lock surface.
package policy

import (
	"strings"

	"github.com/pkg/errors"
)

// TriggerPolicy gates a trigger on the pending notification list.
type TriggerPolicy int

const (
	AlwaysAllowed TriggerPolicy = iota
	RequireNoNotifications
	RequireNoClearableNotifications
)

func (p TriggerPolicy) String() string {
	switch p {
	case AlwaysAllowed:
		return "AlwaysAllowed"
	case RequireNoNotifications:
		return "RequireNoNotifications"
	case RequireNoClearableNotifications:
		return "RequireNoClearableNotifications"
	default:
		return "Unknown"
	}
}

func (p TriggerPolicy) MarshalText() ([]byte, error) {
	if p < AlwaysAllowed || p > RequireNoClearableNotifications {
		return nil, errors.Errorf("invalid trigger policy %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText accepts the Go names, their snake_case forms and the legacy preference values
// DEFAULT, NOTIF_NONE and NOTIF_ONGOING.
func (p *TriggerPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "alwaysallowed", "always_allowed", "default", "":
		*p = AlwaysAllowed
	case "requirenonotifications", "require_no_notifications", "notif_none":
		*p = RequireNoNotifications
	case "requirenoclearablenotifications", "require_no_clearable_notifications", "notif_ongoing":
		*p = RequireNoClearableNotifications
	default:
		return errors.Errorf("unknown trigger policy '%s'", string(text))
	}
	return nil
}

// Notification is one row of the host notification stack.
type Notification struct {
	Key       string
	Visible   bool
	Clearable bool
}

// Snapshot is the notification stack at the moment of a decision, in display order.
type Snapshot []Notification

// Counts returns the number of visible notifications and how many of those are clearable.
func (s Snapshot) Counts() (visible, clearable int) {
	for _, n := range s {
		if !n.Visible {
			continue
		}
		visible++
		if n.Clearable {
			clearable++
		}
	}
	return visible, clearable
}

// MayTrigger evaluates policy against snapshot.
func MayTrigger(policy TriggerPolicy, snapshot Snapshot) bool {
	switch policy {
	case RequireNoNotifications:
		visible, _ := snapshot.Counts()
		return visible == 0
	case RequireNoClearableNotifications:
		_, clearable := snapshot.Counts()
		return clearable == 0
	default:
		return true
	}
}
