package dialogue

import (
	"github.com/meetline-ai/meetline/pkg/core/booking"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
)

// Next computes the transition for one user turn. It is a pure function
// of its arguments: the same state, snapshot, intent, and recap
// fingerprint always produce the same decision.
//
// recapFingerprint is the snapshot fingerprint recorded when the last
// recap was spoken, or empty if no recap has been given. A booking is
// only dispatched when the user's affirmative answers a recap of the
// snapshot exactly as it still stands.
func Next(state State, snap booking.Snapshot, intent Intent, recapFingerprint string) Decision {
	switch state {
	case StateGreeting, StateCollecting:
		return collectingDecision(snap)
	case StateConfirming:
		return confirmingDecision(snap, intent, recapFingerprint)
	case StateFailed:
		if intent == IntentAffirm {
			// Retry re-enters confirmation with the collected slots intact.
			return Decision{State: StateConfirming, Action: Action{Type: ActionRecap}}
		}
		return Decision{State: StateFailed, Action: Action{Type: ActionIdle}}
	case StateDone:
		return Decision{State: StateDone, Action: Action{Type: ActionIdle}}
	case StateBooking:
		// Transient state; AfterBooking resolves it once the capability
		// call returns.
		return Decision{State: StateBooking, Action: Action{Type: ActionIdle}}
	default:
		return Decision{State: state, Action: Action{Type: ActionIdle}}
	}
}

func collectingDecision(snap booking.Snapshot) Decision {
	if !snap.RequiredComplete() {
		f, _ := snap.NextMissing()
		return Decision{State: StateCollecting, Action: Action{Type: ActionAsk, Field: f}}
	}
	return Decision{State: StateConfirming, Action: Action{Type: ActionRecap}}
}

func confirmingDecision(snap booking.Snapshot, intent Intent, recapFingerprint string) Decision {
	fresh := recapFingerprint != "" && recapFingerprint == snap.Fingerprint()

	switch intent {
	case IntentAffirm:
		if !fresh {
			// The snapshot moved after the recap (or none was given):
			// restate before committing anything.
			return Decision{State: StateConfirming, Action: Action{Type: ActionRecap}}
		}
		return Decision{State: StateBooking, Action: Action{Type: ActionBook}}

	case IntentDeny:
		if !snap.RequiredComplete() {
			f, _ := snap.NextMissing()
			return Decision{State: StateCollecting, Action: Action{Type: ActionAsk, Field: f}}
		}
		if !fresh {
			return Decision{State: StateConfirming, Action: Action{Type: ActionRecap}}
		}
		return Decision{State: StateCollecting, Action: Action{Type: ActionAsk}}

	default: // IntentUnclear
		if !snap.RequiredComplete() {
			// A correction knocked out a required slot; go collect it.
			f, _ := snap.NextMissing()
			return Decision{State: StateCollecting, Action: Action{Type: ActionAsk, Field: f}}
		}
		// Correction detected or plain hedge: recap again either way.
		return Decision{State: StateConfirming, Action: Action{Type: ActionRecap}}
	}
}

// AfterBooking resolves the transient BOOKING state from the capability
// outcome. The caller has already exhausted the single automatic retry.
func AfterBooking(err error) Decision {
	if err != nil {
		return Decision{State: StateFailed, Action: Action{Type: ActionFail, Reason: err.Error()}}
	}
	return Decision{State: StateDone, Action: Action{Type: ActionIdle}}
}

// Resume derives the conversation state from a transcript and its
// re-extracted snapshot, so a restarted process continues exactly where
// the persisted turn log left off. Terminal agent utterances carry
// recognizable markers; everything else falls out of slot completeness.
func Resume(turns []transcript.Turn, snap booking.Snapshot) State {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != transcript.RoleAgent {
			continue
		}
		if IsBookedUtterance(turns[i].Content) {
			return StateDone
		}
		if IsFailureUtterance(turns[i].Content) {
			return StateFailed
		}
	}

	hasUser := false
	for _, t := range turns {
		if t.Role == transcript.RoleUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return StateGreeting
	}
	if snap.RequiredComplete() {
		// The machine will issue a fresh recap before any booking; the
		// resumed context carries no recap fingerprint.
		return StateConfirming
	}
	return StateCollecting
}
