package live

import "io"

// TokenStream yields text deltas from a language model reply.
// Next returns io.EOF after the final delta.
type TokenStream interface {
	Next() (string, error)
	Close() error
}

// StaticStream replays a fixed utterance as a single-delta token stream.
// The agent uses it for scripted lines that never go through the model,
// such as booking confirmations.
type StaticStream struct {
	text string
	done bool
}

// NewStaticStream returns a TokenStream that yields text once.
func NewStaticStream(text string) *StaticStream {
	return &StaticStream{text: text}
}

// Next implements TokenStream.
func (s *StaticStream) Next() (string, error) {
	if s.done || s.text == "" {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

// Close implements TokenStream.
func (s *StaticStream) Close() error {
	s.done = true
	return nil
}
