package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/meetline-ai/meetline/pkg/core/booking"
	"github.com/meetline-ai/meetline/pkg/core/dialogue"
	"github.com/meetline-ai/meetline/pkg/core/live"
)

// speakGuided streams the planned utterance through the reply model so it
// comes out conversational. The model must keep the planned meaning; if
// it cannot be reached the planned text is spoken verbatim instead.
func (a *Agent) speakGuided(ctx context.Context, state dialogue.State, snap booking.Snapshot, userText, planned string) *live.Response {
	if a.llm == nil {
		return a.co.Stream(ctx, live.NewStaticStream(planned))
	}

	stream, err := a.llm.Stream(ctx, speakerSystem(state, snap, a.loc), speakerUser(userText, planned))
	if err != nil {
		a.log.Warn("reply model unavailable, speaking planned text", "error", err)
		return a.co.Stream(ctx, live.NewStaticStream(planned))
	}
	return a.co.Stream(ctx, stream)
}

func speakerSystem(state dialogue.State, snap booking.Snapshot, loc *time.Location) string {
	return fmt.Sprintf(`You are a scheduling assistant on a voice call.
Be concise and natural to speak aloud.

Current step: %s
Known info:
- name: %s
- datetime: %s
- email: %s
- phone: %s
- title: %s

You must follow the planned assistant message exactly in meaning.
Keep every name, time, and question intact. Do not mention these notes.`,
		state,
		orUnset(snap.Name),
		datetimeOrUnset(snap.DateTime, loc),
		orUnset(snap.Email),
		orUnset(snap.Phone),
		orUnset(snap.Title))
}

func speakerUser(userText, planned string) string {
	return fmt.Sprintf("User said: %s\n\nPlanned assistant message:\n%s", userText, planned)
}

func orUnset(s *string) string {
	if s == nil {
		return "(unset)"
	}
	return *s
}

func datetimeOrUnset(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "(unset)"
	}
	return t.In(loc).Format(time.RFC3339)
}
