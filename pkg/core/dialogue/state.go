// Package dialogue is the slot-filling conversation policy: which state a
// conversation is in, what the agent does next, and when a booking may be
// committed. Everything here is pure; capability calls happen elsewhere.
package dialogue

import (
	"github.com/meetline-ai/meetline/pkg/core/booking"
)

// State is the conversation's position in the booking flow.
type State string

const (
	StateGreeting   State = "greeting"
	StateCollecting State = "collecting"
	StateConfirming State = "confirming"
	StateBooking    State = "booking"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether the conversation accepts no further slot
// changes. Failed conversations still accept a retry affirmative.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Intent is the confirmation signal derived from a user utterance while
// confirming (or offering a retry after a failure).
type Intent string

const (
	IntentAffirm  Intent = "affirm"
	IntentDeny    Intent = "deny"
	IntentUnclear Intent = "unclear"
)

// ActionType names what the agent does next.
type ActionType string

const (
	// ActionAsk requests one field; an empty Field asks what to change.
	ActionAsk ActionType = "ask"
	// ActionRecap restates the full snapshot and asks for confirmation.
	ActionRecap ActionType = "recap"
	// ActionBook dispatches the booking capability.
	ActionBook ActionType = "book"
	// ActionFail reports a booking failure and offers a retry.
	ActionFail ActionType = "fail"
	// ActionIdle answers without changing anything (terminal states).
	ActionIdle ActionType = "idle"
)

// Action is the machine's instruction to the response layer.
type Action struct {
	Type   ActionType
	Field  booking.Field
	Reason string
}

// Decision pairs the next state with the action that accompanies it.
type Decision struct {
	State  State
	Action Action
}
