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

package trust

import (
	"sync"

	"github.com/google/uuid"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/foundation/v2/concurrenz"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
)

var _ Source = (*Monitor)(nil)

// Monitor is an in-process Source for embedding surfaces that push state changes themselves. Listeners are
// notified synchronously on the goroutine calling Update. Listeners are matched by equality, so they must have
// comparable dynamic types (pointers are the usual choice).
type Monitor struct {
	state      concurrenz.AtomicValue[State]
	listeners  cmap.ConcurrentMap[string, Listener]
	updateLock sync.Mutex
}

func NewMonitor(initial State) *Monitor {
	m := &Monitor{
		listeners: cmap.New[Listener](),
	}
	m.state.Store(initial)
	return m
}

func (m *Monitor) GetState() (State, error) {
	return m.state.Load(), nil
}

func (m *Monitor) AddListener(l Listener) error {
	if l == nil {
		return errors.New("listener must not be nil")
	}
	if m.find(l) != "" {
		return errors.New("listener already registered")
	}
	m.listeners.Set(uuid.NewString(), l)
	return nil
}

func (m *Monitor) RemoveListener(l Listener) error {
	id := m.find(l)
	if id == "" {
		return errors.New("listener not registered")
	}
	m.listeners.Remove(id)
	return nil
}

// ListenerCount returns the number of registered listeners.
func (m *Monitor) ListenerCount() int {
	return m.listeners.Count()
}

// Update replaces the state and notifies every listener if it changed. Returns true if the state changed.
func (m *Monitor) Update(f func(state *State)) bool {
	m.updateLock.Lock()
	current := m.state.Load()
	next := current
	f(&next)
	changed := next != current
	if changed {
		m.state.Store(next)
	}
	m.updateLock.Unlock()

	if !changed {
		return false
	}

	for _, l := range m.snapshotListeners() {
		m.notify(l, next)
	}
	return true
}

func (m *Monitor) notify(l Listener, state State) {
	defer func() {
		if r := recover(); r != nil {
			pfxlog.Logger().Errorf("trust listener panicked: %v", r)
		}
	}()
	l.OnTrustStateChanged(state)
}

func (m *Monitor) snapshotListeners() []Listener {
	var result []Listener
	m.listeners.IterCb(func(_ string, l Listener) {
		result = append(result, l)
	})
	return result
}

func (m *Monitor) find(l Listener) string {
	id := ""
	m.listeners.IterCb(func(key string, v Listener) {
		if v == l {
			id = key
		}
	})
	return id
}
