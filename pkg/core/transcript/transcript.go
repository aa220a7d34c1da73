// Package transcript holds the append-only turn log for a conversation.
// The transcript is the only state the system persists: snapshots and
// dialogue states are always recomputed from it.
package transcript

import (
	"context"
	"time"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one utterance in a conversation. Turns are immutable once
// appended; their order in the transcript is the only ordering guarantee
// extraction and replay rely on.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the append-only turn log, keyed by conversation ID. Append is
// the only mutator: no deletion, no reordering, no in-place edits.
type Store interface {
	Append(ctx context.Context, conversationID string, turn Turn) error
	Turns(ctx context.Context, conversationID string) ([]Turn, error)
}

// Window returns the most recent n turns, preserving order. It returns
// the input slice unchanged when it already fits.
func Window(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// LastUser returns the most recent user turn, if any.
func LastUser(turns []Turn) (Turn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i], true
		}
	}
	return Turn{}, false
}
