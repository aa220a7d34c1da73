package dialogue

import (
	"strings"
	"testing"
	"time"

	"github.com/meetline-ai/meetline/pkg/core/booking"
)

func TestRecap(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	dt := time.Date(2026, 6, 8, 14, 0, 0, 0, la)
	snap := booking.Snapshot{
		Name:     strPtr("Jane Doe"),
		DateTime: &dt,
		Email:    strPtr("jane@x.com"),
	}

	got := Recap(snap, la)
	for _, want := range []string{
		"Jane Doe",
		"Monday, June 8 at 2:00 PM PDT",
		"30 minutes",
		"jane@x.com",
		"Shall I book it?",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("recap missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, booking.DefaultTitle) {
		t.Fatalf("recap should omit the default title:\n%s", got)
	}
	if strings.Contains(got, "phone") {
		t.Fatalf("recap should omit an unset phone:\n%s", got)
	}
}

func TestRecap_IncludesCustomTitleAndPhone(t *testing.T) {
	dt := time.Date(2026, 6, 8, 14, 0, 0, 0, time.UTC)
	snap := booking.Snapshot{
		Name:     strPtr("Jane Doe"),
		DateTime: &dt,
		Email:    strPtr("jane@x.com"),
		Phone:    strPtr("+14155550100"),
		Title:    strPtr("Quarterly review"),
	}

	got := Recap(snap, time.UTC)
	if !strings.Contains(got, "Quarterly review") {
		t.Fatalf("recap missing custom title:\n%s", got)
	}
	if !strings.Contains(got, "+14155550100") {
		t.Fatalf("recap missing phone:\n%s", got)
	}
}

func TestTerminalMarkersRoundTrip(t *testing.T) {
	booked := Booked(booking.Result{
		MeetLink:  "https://meet.google.com/abc-defg-hij",
		EventLink: "https://calendar.google.com/event?eid=1",
	})
	if !IsBookedUtterance(booked) {
		t.Fatalf("Booked output not recognized: %q", booked)
	}
	if IsFailureUtterance(booked) {
		t.Fatalf("Booked output misread as failure: %q", booked)
	}
	if !strings.Contains(booked, "meet.google.com") {
		t.Fatalf("booked message missing meet link: %q", booked)
	}

	failed := BookingFailed()
	if !IsFailureUtterance(failed) {
		t.Fatalf("BookingFailed output not recognized: %q", failed)
	}
	if IsBookedUtterance(failed) {
		t.Fatalf("failure output misread as booked: %q", failed)
	}
}

func TestAskCoversEveryField(t *testing.T) {
	for _, f := range booking.AskOrder {
		if Ask(f) == "" {
			t.Fatalf("Ask(%s) returned empty prompt", f)
		}
	}
	if Ask("") == "" {
		t.Fatal("Ask for an unspecified field returned empty prompt")
	}
}
