package session

import "github.com/meetline-ai/meetline/pkg/core"

// clientFrame is one inbound WebSocket message. A turn or audio frame
// arriving while a reply is streaming is a barge-in.
type clientFrame struct {
	Type string `json:"type"` // turn | audio | cancel

	// Text carries the finalized utterance for turn frames.
	Text string `json:"text,omitempty"`
	// Data carries base64 audio for audio frames; Format is a container
	// hint (wav, mp3, webm).
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`
}

// serverFrame is one outbound WebSocket message. Turn stamps every frame
// with the reply it belongs to so late frames from a barged-in reply are
// recognizable.
type serverFrame struct {
	Type string `json:"type"` // state | delta | audio | booked | error | done | cancelled
	Turn int64  `json:"turn,omitempty"`

	State string `json:"state,omitempty"`
	Text  string `json:"text,omitempty"`

	Index int    `json:"index"`
	Data  string `json:"data,omitempty"`

	MeetLink  string `json:"meet_link,omitempty"`
	EventLink string `json:"event_link,omitempty"`

	Error *core.Error `json:"error,omitempty"`
}
