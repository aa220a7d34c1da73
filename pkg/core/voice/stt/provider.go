// Package stt adapts speech-to-text services to the transcription
// capability the gateway needs: finalized audio in, text out.
package stt

import "context"

// Provider is the transcription capability.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts one finalized audio clip to text. format is a
	// container hint (wav, mp3, webm); empty means wav.
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}
