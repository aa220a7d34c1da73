package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/meetline-ai/meetline/pkg/core/booking"
)

// Terminal utterance markers. Resume scans agent turns for these, so the
// transcript alone records whether a booking committed.
const (
	bookedMarker  = "Your meeting is booked"
	failureMarker = "I couldn't complete the booking"
)

// IsBookedUtterance reports whether an agent utterance announced a
// committed booking.
func IsBookedUtterance(s string) bool {
	return strings.Contains(s, bookedMarker)
}

// IsFailureUtterance reports whether an agent utterance announced a
// booking failure.
func IsFailureUtterance(s string) bool {
	return strings.Contains(s, failureMarker)
}

// Greeting opens a fresh conversation and asks for the first slot.
func Greeting() string {
	return "Hi! I can help you book a meeting. Who should I put the booking under?"
}

// Ask is the canonical question for one missing field. An empty field
// asks what the caller wants to change after a denial.
func Ask(f booking.Field) string {
	switch f {
	case booking.FieldName:
		return "Could I get the name for the booking?"
	case booking.FieldDateTime:
		return "When would you like to meet? A date and time works best."
	case booking.FieldEmail:
		return "What email address should the invite go to?"
	case booking.FieldPhone:
		return "And a phone number, in case we need to reach you?"
	default:
		return "No problem. What should I change?"
	}
}

// Recap restates the full snapshot and asks for explicit confirmation.
// The confirmation gate records the snapshot fingerprint at the moment
// this is produced.
func Recap(snap booking.Snapshot, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	filled := snap.WithDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I have: a %d-minute meeting", *filled.DurationMinutes)
	if filled.Title != nil && *filled.Title != booking.DefaultTitle {
		fmt.Fprintf(&b, " titled %q", *filled.Title)
	}
	if snap.Name != nil {
		fmt.Fprintf(&b, " for %s", *snap.Name)
	}
	if snap.DateTime != nil {
		fmt.Fprintf(&b, " on %s", snap.DateTime.In(loc).Format("Monday, January 2 at 3:04 PM MST"))
	}
	if snap.Email != nil {
		fmt.Fprintf(&b, ", with the invite going to %s", *snap.Email)
	}
	if snap.Phone != nil {
		fmt.Fprintf(&b, " and %s on file", *snap.Phone)
	}
	b.WriteString(". Shall I book it?")
	return b.String()
}

// Booked announces a committed booking with its links. Contains the
// terminal marker Resume looks for.
func Booked(res booking.Result) string {
	var b strings.Builder
	b.WriteString(bookedMarker)
	b.WriteString("!")
	if res.MeetLink != "" {
		fmt.Fprintf(&b, " Meet link: %s.", res.MeetLink)
	}
	if res.EventLink != "" {
		fmt.Fprintf(&b, " Calendar event: %s.", res.EventLink)
	}
	b.WriteString(" Anything else, just start a new conversation.")
	return b.String()
}

// BookingFailed apologizes after the retried booking call failed and
// offers to retry the confirmation step. Contains the terminal marker
// Resume looks for.
func BookingFailed() string {
	return failureMarker + " just now. Nothing was scheduled. Say yes if you'd like me to try again."
}

// RetryHint answers anything other than a retry affirmative in the
// failed state.
func RetryHint() string {
	return "The booking didn't go through earlier. Say yes to try again, or start a new conversation."
}

// AlreadyBooked answers turns that arrive after the booking committed.
func AlreadyBooked() string {
	return "This meeting is already booked. Start a new conversation for another booking."
}

// RepeatPlease recovers from a failed or unintelligible transcription.
func RepeatPlease() string {
	return "Sorry, I didn't catch that. Could you repeat it?"
}
