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

// Package pattern hides a wrong-pattern indication from the pattern surface for the duration of a single draw.
package pattern

import "sync"

type DisplayMode int

const (
	Correct DisplayMode = iota
	Animate
	Wrong
)

func (m DisplayMode) String() string {
	switch m {
	case Correct:
		return "Correct"
	case Animate:
		return "Animate"
	case Wrong:
		return "Wrong"
	default:
		return "Unknown"
	}
}

// Surface is the pattern view being drawn.
type Surface interface {
	DisplayMode() DisplayMode
	SetDisplayMode(mode DisplayMode)
	InStealthMode() bool
	SetInStealthMode(stealth bool)
}

type saved struct {
	mode    DisplayMode
	stealth bool
}

// Override swaps Wrong to Correct (and forces stealth) for exactly one draw, restoring the surface afterwards.
type Override struct {
	lock  sync.Mutex
	saved *saved
}

// BeforeDraw applies the override when hideErrors is set and the surface is about to draw a wrong pattern.
func (o *Override) BeforeDraw(surface Surface, hideErrors bool) {
	o.lock.Lock()
	defer o.lock.Unlock()

	mode := surface.DisplayMode()
	if hideErrors && o.saved == nil && mode == Wrong {
		o.saved = &saved{
			mode:    mode,
			stealth: surface.InStealthMode(),
		}
		surface.SetInStealthMode(true)
		surface.SetDisplayMode(Correct)
	} else {
		o.saved = nil
	}
}

// AfterDraw restores the values replaced by BeforeDraw and clears the override.
func (o *Override) AfterDraw(surface Surface) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.saved != nil {
		surface.SetInStealthMode(o.saved.stealth)
		surface.SetDisplayMode(o.saved.mode)
		o.saved = nil
	}
}

// Active returns true between a BeforeDraw that applied the override and the matching AfterDraw.
func (o *Override) Active() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.saved != nil
}

// Draw brackets draw with BeforeDraw and AfterDraw. The surface is restored even if draw panics.
func (o *Override) Draw(surface Surface, hideErrors bool, draw func()) {
	o.BeforeDraw(surface, hideErrors)
	defer o.AfterDraw(surface)
	draw()
}
