package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meetline-ai/meetline/pkg/core/booking"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
)

type fakeGenerator struct {
	reply      string
	err        error
	lastSystem string
	lastUser   string
	calls      int
}

func (f *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastUser = user
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func userTurn(content string, ts time.Time) transcript.Turn {
	return transcript.Turn{Role: transcript.RoleUser, Content: content, Timestamp: ts}
}

func agentTurn(content string, ts time.Time) transcript.Turn {
	return transcript.Turn{Role: transcript.RoleAgent, Content: content, Timestamp: ts}
}

var refTime = time.Date(2026, 6, 3, 9, 30, 0, 0, time.UTC)

func sampleTurns() []transcript.Turn {
	return []transcript.Turn{
		agentTurn("Hi! Who am I booking for?", refTime.Add(-time.Minute)),
		userTurn("Jane Doe, jane@x.com, next Monday 2pm", refTime),
	}
}

func TestExtract_CleanJSON(t *testing.T) {
	gen := &fakeGenerator{reply: `{"name":"Jane Doe","datetime_iso":"2026-06-08T14:00:00-07:00","duration_minutes":30,"email":"jane@x.com","phone":"+1 (403) 555-0123","title":null}`}
	ex := New(gen, Config{})

	snap, err := ex.Extract(context.Background(), sampleTurns(), booking.Snapshot{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if snap.Name == nil || *snap.Name != "Jane Doe" {
		t.Fatalf("Name = %v", snap.Name)
	}
	if snap.DateTime == nil || !snap.DateTime.Equal(time.Date(2026, 6, 8, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("DateTime = %v", snap.DateTime)
	}
	if snap.DurationMinutes == nil || *snap.DurationMinutes != 30 {
		t.Fatalf("DurationMinutes = %v", snap.DurationMinutes)
	}
	if snap.Email == nil || *snap.Email != "jane@x.com" {
		t.Fatalf("Email = %v", snap.Email)
	}
	if snap.Phone == nil || *snap.Phone != "+14035550123" {
		t.Fatalf("Phone = %v, want normalized", snap.Phone)
	}
	if snap.Title != nil {
		t.Fatalf("Title = %v, want nil", snap.Title)
	}
}

func TestExtract_FencedAndProseWrappedJSON(t *testing.T) {
	replies := []string{
		"```json\n{\"name\":\"Jane\"}\n```",
		"Here is the extraction you asked for:\n{\"name\":\"Jane\"}\nLet me know if you need more.",
	}
	for _, reply := range replies {
		gen := &fakeGenerator{reply: reply}
		ex := New(gen, Config{})
		snap, err := ex.Extract(context.Background(), sampleTurns(), booking.Snapshot{})
		if err != nil {
			t.Fatalf("reply %q: %v", reply, err)
		}
		if snap.Name == nil || *snap.Name != "Jane" {
			t.Fatalf("reply %q: Name = %v", reply, snap.Name)
		}
	}
}

func TestExtract_GarbledReplyKeepsPrior(t *testing.T) {
	prior := booking.Snapshot{Name: strPtr("Jane Doe")}
	gen := &fakeGenerator{reply: "I could not find any booking details, sorry!"}
	ex := New(gen, Config{})

	snap, err := ex.Extract(context.Background(), sampleTurns(), prior)
	if err == nil {
		t.Fatal("want extraction error for garbled reply")
	}
	if snap.Name == nil || *snap.Name != "Jane Doe" {
		t.Fatalf("prior snapshot not retained: %+v", snap)
	}
}

func TestExtract_GeneratorErrorKeepsPrior(t *testing.T) {
	prior := booking.Snapshot{Email: strPtr("jane@x.com")}
	gen := &fakeGenerator{err: errors.New("connection reset")}
	ex := New(gen, Config{})

	snap, err := ex.Extract(context.Background(), sampleTurns(), prior)
	if err == nil {
		t.Fatal("want error when the generator fails")
	}
	if snap.Email == nil || *snap.Email != "jane@x.com" {
		t.Fatalf("prior snapshot not retained: %+v", snap)
	}
}

func TestExtract_StructurallyInvalidValuesStayUnset(t *testing.T) {
	gen := &fakeGenerator{reply: `{"name":"","datetime_iso":"sometime soon","duration_minutes":-10,"email":"not-an-email","phone":"12345","title":"   "}`}
	ex := New(gen, Config{})

	snap, err := ex.Extract(context.Background(), sampleTurns(), booking.Snapshot{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if snap.Name != nil {
		t.Errorf("empty name should stay nil, got %q", *snap.Name)
	}
	if snap.DateTime != nil {
		t.Errorf("unparseable datetime should stay nil, got %v", snap.DateTime)
	}
	if snap.DurationMinutes != nil {
		t.Errorf("non-positive duration should stay nil, got %d", *snap.DurationMinutes)
	}
	if snap.Email != nil {
		t.Errorf("invalid email should stay nil, got %q", *snap.Email)
	}
	if snap.Phone != nil {
		t.Errorf("invalid phone should stay nil, got %q", *snap.Phone)
	}
	if snap.Title != nil {
		t.Errorf("blank title should stay nil, got %q", *snap.Title)
	}
}

func TestExtract_OffsetlessDatetimeUsesConfiguredZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	gen := &fakeGenerator{reply: `{"datetime_iso":"2026-06-08T14:00:00"}`}
	ex := New(gen, Config{Location: loc})

	snap, err := ex.Extract(context.Background(), sampleTurns(), booking.Snapshot{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if snap.DateTime == nil {
		t.Fatal("DateTime not set")
	}
	want := time.Date(2026, 6, 8, 14, 0, 0, 0, loc)
	if !snap.DateTime.Equal(want) {
		t.Fatalf("DateTime = %v, want %v", snap.DateTime, want)
	}
}

func TestExtract_QuotedDuration(t *testing.T) {
	gen := &fakeGenerator{reply: `{"duration_minutes":"45"}`}
	ex := New(gen, Config{})

	snap, err := ex.Extract(context.Background(), sampleTurns(), booking.Snapshot{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if snap.DurationMinutes == nil || *snap.DurationMinutes != 45 {
		t.Fatalf("DurationMinutes = %v, want 45", snap.DurationMinutes)
	}
}

func TestExtract_PromptPinsReferenceInstant(t *testing.T) {
	gen := &fakeGenerator{reply: `{}`}
	ex := New(gen, Config{})

	if _, err := ex.Extract(context.Background(), sampleTurns(), booking.Snapshot{}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(gen.lastSystem, refTime.Format(time.RFC3339)) {
		t.Fatalf("system prompt missing reference time %s:\n%s", refTime.Format(time.RFC3339), gen.lastSystem)
	}

	// Same transcript, same prompt: re-extraction is stable.
	firstSystem, firstUser := gen.lastSystem, gen.lastUser
	if _, err := ex.Extract(context.Background(), sampleTurns(), booking.Snapshot{}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gen.lastSystem != firstSystem || gen.lastUser != firstUser {
		t.Fatal("prompts changed for an identical transcript")
	}
}

func TestExtract_NoUserTurnSkipsLLM(t *testing.T) {
	gen := &fakeGenerator{reply: `{}`}
	ex := New(gen, Config{})
	prior := booking.Snapshot{Name: strPtr("kept")}

	snap, err := ex.Extract(context.Background(), []transcript.Turn{agentTurn("Hi!", refTime)}, prior)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times, want 0", gen.calls)
	}
	if snap.Name == nil || *snap.Name != "kept" {
		t.Fatalf("prior not returned: %+v", snap)
	}
}

func TestExtract_WindowLimitsPrompt(t *testing.T) {
	var turns []transcript.Turn
	for i := 0; i < 30; i++ {
		turns = append(turns, userTurn("filler", refTime.Add(time.Duration(i)*time.Second)))
	}
	turns = append(turns, userTurn("the final word", refTime.Add(time.Minute)))

	gen := &fakeGenerator{reply: `{}`}
	ex := New(gen, Config{Window: 5})

	if _, err := ex.Extract(context.Background(), turns, booking.Snapshot{}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := strings.Count(gen.lastUser, "Caller:"); got != 5 {
		t.Fatalf("prompt has %d turns, want 5", got)
	}
	if !strings.Contains(gen.lastUser, "the final word") {
		t.Fatal("window must keep the most recent turns")
	}
}

func strPtr(s string) *string { return &s }
