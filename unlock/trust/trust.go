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

// Package trust describes the session trust state the unlock engine observes but never owns.
package trust

import "fmt"

// State is the externally owned lock session state.
type State struct {
	// Secured is true when the session has a secure lock method configured.
	Secured bool
	// TrustManaged is true when an external trust provider is deciding the lock state.
	TrustManaged bool
	// Locked is false when the session is currently insecure (e.g. a trust agent granted trust).
	Locked bool
	// Interactive is true while the screen is on.
	Interactive bool
	// Showing is true once the lock surface is fully presented.
	Showing bool
}

// Insecure is the inverse of Locked.
func (s State) Insecure() bool {
	return !s.Locked
}

func (s State) String() string {
	return fmt.Sprintf("secured=%v trustManaged=%v locked=%v interactive=%v showing=%v",
		s.Secured, s.TrustManaged, s.Locked, s.Interactive, s.Showing)
}

// Listener is notified when trust or screen interactivity changes.
type Listener interface {
	OnTrustStateChanged(state State)
}

// ListenerFunc is a function adapter that implements Listener. Since functions are not comparable, a ListenerFunc
// must be registered by pointer to be removable.
type ListenerFunc func(state State)

func (f *ListenerFunc) OnTrustStateChanged(state State) {
	(*f)(state)
}

// Source is the collaborator the engine queries and registers with.
type Source interface {
	GetState() (State, error)
	AddListener(l Listener) error
	RemoveListener(l Listener) error
}
