// Package tts adapts speech-synthesis services to the streaming audio
// surface the response coordinator consumes. One Synthesize call covers
// one text chunk; the coordinator never re-submits text it already sent.
package tts

import (
	"context"

	"github.com/meetline-ai/meetline/pkg/core/live"
)

// Provider is the speech-synthesis capability: one text chunk in, a
// finite audio byte stream out. It satisfies live.Synthesizer.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts one text chunk to streaming audio.
	Synthesize(ctx context.Context, text string) (live.AudioStream, error)
}
