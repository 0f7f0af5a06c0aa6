package unlock

import (
	"time"

	"github.com/kataras/go-events"
)

// Engine events are emitted on the event loop. Listeners must not block and must not call Engine.Inspect or
// Engine.Close.
const (
	EventTriggerArmed         events.EventName = "triggerArmed"
	EventTriggerCanceled      events.EventName = "triggerCanceled"
	EventTriggerFired         events.EventName = "triggerFired"
	EventTriggerDenied        events.EventName = "triggerDenied"
	EventQuickUnlock          events.EventName = "quickUnlock"
	EventListenerRegistered   events.EventName = "listenerRegistered"
	EventListenerUnregistered events.EventName = "listenerUnregistered"
)

// TriggerEvent is the payload of the trigger events.
type TriggerEvent struct {
	Trigger TriggerId
	// Action is the sink action invoked, set on EventTriggerFired.
	Action string
	// Reason explains a cancel or denial.
	Reason string
	At     time.Time
}

// QuickUnlockEvent is the payload of EventQuickUnlock.
type QuickUnlockEvent struct {
	SessionId string
	At        time.Time
}
