// Package booking defines the structured booking fields extracted from a
// conversation and the capability contract for committing them.
package booking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Field names one booking slot.
type Field string

const (
	FieldName     Field = "name"
	FieldDateTime Field = "datetime"
	FieldEmail    Field = "email"
	FieldPhone    Field = "phone"
	FieldTitle    Field = "title"
)

// AskOrder is the priority in which the agent asks for missing fields.
var AskOrder = []Field{FieldName, FieldDateTime, FieldEmail, FieldPhone}

// requiredFields must be set before a booking can be committed. Phone and
// title are optional; title falls back to DefaultTitle.
var requiredFields = []Field{FieldName, FieldDateTime, FieldEmail}

const (
	DefaultTitle           = "Scheduled Meeting"
	DefaultDurationMinutes = 30

	maxTitleRunes = 120
	maxPhoneRunes = 40
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9\s\-()]{6,}$`)
)

// Snapshot is the structured state of a booking derived from the
// transcript. Unset fields are nil, never empty strings. A snapshot is
// always recomputed wholesale from the transcript; it carries no history
// of its own.
type Snapshot struct {
	Name            *string    `json:"name,omitempty"`
	DateTime        *time.Time `json:"datetime,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Email           *string    `json:"email,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Title           *string    `json:"title,omitempty"`
}

// MissingRequired lists required fields that are still unset, in ask order.
func (s Snapshot) MissingRequired() []Field {
	var missing []Field
	for _, f := range requiredFields {
		if !s.has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// RequiredComplete reports whether every required field is set.
func (s Snapshot) RequiredComplete() bool {
	return len(s.MissingRequired()) == 0
}

// NextMissing returns the first unset field in ask priority order.
func (s Snapshot) NextMissing() (Field, bool) {
	for _, f := range AskOrder {
		if !s.has(f) {
			return f, true
		}
	}
	return "", false
}

func (s Snapshot) has(f Field) bool {
	switch f {
	case FieldName:
		return s.Name != nil
	case FieldDateTime:
		return s.DateTime != nil
	case FieldEmail:
		return s.Email != nil
	case FieldPhone:
		return s.Phone != nil
	case FieldTitle:
		return s.Title != nil
	default:
		return false
	}
}

// WithDefaults returns a copy with the optional duration and title filled
// in when unset. Called once at booking time; the working snapshot keeps
// nil so later utterances can still supply real values.
func (s Snapshot) WithDefaults() Snapshot {
	out := s
	if out.DurationMinutes == nil {
		d := DefaultDurationMinutes
		out.DurationMinutes = &d
	}
	if out.Title == nil {
		t := DefaultTitle
		out.Title = &t
	}
	return out
}

// Fingerprint is a stable textual digest of every field. The confirmation
// gate records it when a recap is spoken and compares it against the
// snapshot current at the moment of the user's affirmative; any drift
// forces a fresh recap instead of a booking.
func (s Snapshot) Fingerprint() string {
	var b strings.Builder
	writeField := func(name string, v *string) {
		b.WriteString(name)
		b.WriteByte('=')
		if v != nil {
			b.WriteString(*v)
		} else {
			b.WriteByte('-')
		}
		b.WriteByte('|')
	}

	writeField("name", s.Name)
	b.WriteString("dt=")
	if s.DateTime != nil {
		b.WriteString(s.DateTime.UTC().Format(time.RFC3339))
	} else {
		b.WriteByte('-')
	}
	b.WriteByte('|')
	b.WriteString("dur=")
	if s.DurationMinutes != nil {
		b.WriteString(strconv.Itoa(*s.DurationMinutes))
	} else {
		b.WriteByte('-')
	}
	b.WriteByte('|')
	writeField("email", s.Email)
	writeField("phone", s.Phone)
	writeField("title", s.Title)
	return b.String()
}

// ValidEmail reports whether s is structurally an email address.
// Anything failing this stays unset so the agent re-asks.
func ValidEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}

// ValidPhone reports whether s is structurally a phone number: an
// optional leading + followed by at least seven digits with common
// separators allowed.
func ValidPhone(s string) bool {
	return phoneRe.MatchString(strings.TrimSpace(s))
}

// NormalizePhone strips separators, keeping digits and a leading +, and
// caps the length. Call only on values that passed ValidPhone.
func NormalizePhone(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return truncateRunes(b.String(), maxPhoneRunes)
}

// SanitizeTitle trims and caps a user-supplied meeting title.
func SanitizeTitle(s string) string {
	return truncateRunes(strings.TrimSpace(s), maxTitleRunes)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (f Field) String() string { return string(f) }

// Spoken returns the field name as the agent says it in prompts.
func (f Field) Spoken() string {
	switch f {
	case FieldDateTime:
		return "date and time"
	case FieldEmail:
		return "email address"
	case FieldPhone:
		return "phone number"
	default:
		return string(f)
	}
}

// Describe renders a short human-readable summary of the snapshot for
// logs. It never includes nil fields.
func (s Snapshot) Describe() string {
	var parts []string
	if s.Name != nil {
		parts = append(parts, "name="+*s.Name)
	}
	if s.DateTime != nil {
		parts = append(parts, "datetime="+s.DateTime.Format(time.RFC3339))
	}
	if s.DurationMinutes != nil {
		parts = append(parts, fmt.Sprintf("duration=%dm", *s.DurationMinutes))
	}
	if s.Email != nil {
		parts = append(parts, "email="+*s.Email)
	}
	if s.Phone != nil {
		parts = append(parts, "phone="+*s.Phone)
	}
	if s.Title != nil {
		parts = append(parts, "title="+*s.Title)
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, " ")
}
