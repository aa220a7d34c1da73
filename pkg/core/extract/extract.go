// Package extract derives a booking snapshot from a conversation
// transcript using the LLM capability. Extraction is rerun over the full
// transcript on every user turn, so later corrections override earlier
// values without any diff logic.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/booking"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
)

// Generator is the blocking LLM surface the extractor needs.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Config tunes an Extractor. Zero values fall back to sensible defaults.
type Config struct {
	// Location resolves relative datetimes ("next Monday at 2pm").
	Location *time.Location
	// Window caps how many recent turns are rendered into the prompt.
	Window int
	Logger *slog.Logger
}

const defaultWindow = 20

// Extractor turns transcripts into booking snapshots. It is tolerant by
// contract: a failed LLM call or unparseable reply leaves the prior
// snapshot in effect, and garbled fields stay unset rather than erroring.
type Extractor struct {
	llm    Generator
	loc    *time.Location
	window int
	logger *slog.Logger
}

// New creates an extractor backed by the given generator.
func New(llm Generator, cfg Config) *Extractor {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: llm, loc: loc, window: window, logger: logger}
}

// Extract recomputes the snapshot from the transcript. On any failure the
// prior snapshot is returned alongside the error; callers may safely
// ignore the error and keep going with stale slots.
func (e *Extractor) Extract(ctx context.Context, turns []transcript.Turn, prior booking.Snapshot) (booking.Snapshot, error) {
	last, ok := transcript.LastUser(turns)
	if !ok {
		return prior, nil
	}

	system := e.systemPrompt(last.Timestamp)
	user := renderTranscript(transcript.Window(turns, e.window))

	raw, err := e.llm.Generate(ctx, system, user)
	if err != nil {
		e.logger.Warn("slot extraction call failed", "error", err)
		return prior, core.NewExtractionError(err)
	}

	snap, err := e.decode(raw)
	if err != nil {
		e.logger.Warn("slot extraction reply unparseable", "error", err)
		return prior, core.NewExtractionError(err)
	}
	return snap, nil
}

// systemPrompt pins the reference instant to the last user turn's
// timestamp so re-extracting a fixed transcript always resolves relative
// dates the same way.
func (e *Extractor) systemPrompt(ref time.Time) string {
	var b strings.Builder
	b.WriteString("You extract meeting-booking details from a conversation between an agent and a caller.\n")
	b.WriteString("Reply with ONLY a JSON object, no prose, with exactly these keys:\n")
	b.WriteString(`{"name": string|null, "datetime_iso": string|null, "duration_minutes": number|null, "email": string|null, "phone": string|null, "title": string|null}` + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use null for anything the caller has not clearly said. Never invent values.\n")
	b.WriteString("- datetime_iso is the meeting start in RFC 3339 with a UTC offset.\n")
	fmt.Fprintf(&b, "- Resolve relative dates against the reference time %s (%s).\n",
		ref.In(e.loc).Format(time.RFC3339), e.loc.String())
	b.WriteString("- Copy email and phone exactly as the caller said them.\n")
	b.WriteString("- If the caller corrects a value, keep only the latest one.\n")
	return b.String()
}

func renderTranscript(turns []transcript.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		switch turn.Role {
		case transcript.RoleUser:
			b.WriteString("Caller: ")
		default:
			b.WriteString("Agent: ")
		}
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// rawFields mirrors the JSON contract with the LLM. RawMessage keeps the
// decode tolerant of wrong-but-recoverable types.
type rawFields struct {
	Name            json.RawMessage `json:"name"`
	DatetimeISO     json.RawMessage `json:"datetime_iso"`
	DurationMinutes json.RawMessage `json:"duration_minutes"`
	Email           json.RawMessage `json:"email"`
	Phone           json.RawMessage `json:"phone"`
	Title           json.RawMessage `json:"title"`
}

func (e *Extractor) decode(raw string) (booking.Snapshot, error) {
	body, ok := extractJSONObject(raw)
	if !ok {
		return booking.Snapshot{}, fmt.Errorf("no JSON object in reply")
	}

	var fields rawFields
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return booking.Snapshot{}, fmt.Errorf("decode reply: %w", err)
	}

	var snap booking.Snapshot
	if name := decodeString(fields.Name); name != "" {
		snap.Name = &name
	}
	if dt, ok := e.decodeDatetime(fields.DatetimeISO); ok {
		snap.DateTime = &dt
	}
	if d, ok := decodeMinutes(fields.DurationMinutes); ok && d > 0 {
		snap.DurationMinutes = &d
	}
	if email := decodeString(fields.Email); email != "" && booking.ValidEmail(email) {
		snap.Email = &email
	}
	if phone := decodeString(fields.Phone); phone != "" && booking.ValidPhone(phone) {
		normalized := booking.NormalizePhone(phone)
		snap.Phone = &normalized
	}
	if title := booking.SanitizeTitle(decodeString(fields.Title)); title != "" {
		snap.Title = &title
	}
	return snap, nil
}

// extractJSONObject slices the first balanced-looking object out of the
// reply, tolerating code fences and surrounding prose.
func extractJSONObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func decodeMinutes(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), true
	}
	// Some models quote numbers.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// decodeDatetime accepts RFC 3339 first, then common offset-less shapes
// interpreted in the configured timezone.
func (e *Extractor) decodeDatetime(raw json.RawMessage) (time.Time, bool) {
	s := decodeString(raw)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, e.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
