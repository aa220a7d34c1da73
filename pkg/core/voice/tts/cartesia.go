package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetline-ai/meetline/pkg/core/live"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-3"
)

// CartesiaProvider synthesizes speech through Cartesia's streaming
// WebSocket API. Each Synthesize call opens one generation and closes it
// when the chunk's audio has fully arrived.
type CartesiaProvider struct {
	apiKey     string
	wsURL      string
	voice      string
	format     string
	sampleRate int
	timeout    time.Duration
	dialer     *websocket.Dialer
}

// CartesiaOption configures the provider.
type CartesiaOption func(*CartesiaProvider)

// WithCartesiaURL sets a custom WebSocket endpoint (for testing).
func WithCartesiaURL(url string) CartesiaOption {
	return func(p *CartesiaProvider) {
		p.wsURL = url
	}
}

// WithCartesiaVoice sets the voice ID.
func WithCartesiaVoice(voice string) CartesiaOption {
	return func(p *CartesiaProvider) {
		if voice != "" {
			p.voice = voice
		}
	}
}

// WithCartesiaTimeout bounds each generation: connect, request, and all
// audio frames must arrive within d. <= 0 leaves generations bounded
// only by the caller's context.
func WithCartesiaTimeout(d time.Duration) CartesiaOption {
	return func(p *CartesiaProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithCartesiaFormat sets the audio container (wav, mp3, pcm) and sample rate.
func WithCartesiaFormat(format string, sampleRate int) CartesiaOption {
	return func(p *CartesiaProvider) {
		if format != "" {
			p.format = format
		}
		if sampleRate > 0 {
			p.sampleRate = sampleRate
		}
	}
}

// NewCartesia creates a Cartesia TTS provider.
func NewCartesia(apiKey string, opts ...CartesiaOption) *CartesiaProvider {
	p := &CartesiaProvider{
		apiKey:     apiKey,
		wsURL:      cartesiaWSURL,
		format:     "wav",
		sampleRate: 24000,
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *CartesiaProvider) Name() string {
	return "cartesia"
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	ContextID    string               `json:"context_id,omitempty"`
}

type cartesiaResponse struct {
	Type  string `json:"type"` // "chunk", "done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (p *CartesiaProvider) outputFormat() cartesiaOutputFormat {
	switch p.format {
	case "mp3":
		return cartesiaOutputFormat{Container: "mp3", SampleRate: p.sampleRate, BitRate: 128000}
	case "pcm", "raw":
		return cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: p.sampleRate}
	default:
		return cartesiaOutputFormat{Container: "wav", Encoding: "pcm_s16le", SampleRate: p.sampleRate}
	}
}

var contextCounter atomic.Uint64

// Synthesize opens a WebSocket generation for one text chunk.
func (p *CartesiaProvider) Synthesize(ctx context.Context, text string) (live.AudioStream, error) {
	u, err := url.Parse(p.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", p.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	conn, _, err := p.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	req := cartesiaRequest{
		ModelID:      cartesiaModel,
		Transcript:   text,
		Voice:        cartesiaVoiceSpec{Mode: "id", ID: p.voice},
		OutputFormat: p.outputFormat(),
		ContextID:    fmt.Sprintf("ctx_%d", contextCounter.Add(1)),
	}
	if err := conn.WriteJSON(req); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	s := &wsStream{conn: conn, closed: make(chan struct{})}
	// Cancellation or the generation deadline unblocks the read by
	// tearing the connection down.
	go func() {
		defer cancel()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.closed:
		}
	}()
	return s, nil
}

// wsStream yields decoded audio frames from one Cartesia generation.
type wsStream struct {
	conn   *websocket.Conn
	closed chan struct{}
	done   bool
}

// Next returns the next audio frame, or io.EOF after the generation ends.
func (s *wsStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		var msg cartesiaResponse
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.done = true
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, io.EOF
			}
			return nil, err
		}
		switch msg.Type {
		case "chunk":
			frame, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				s.done = true
				return nil, fmt.Errorf("decode audio: %w", err)
			}
			return frame, nil
		case "done":
			s.done = true
			return nil, io.EOF
		case "error":
			s.done = true
			return nil, fmt.Errorf("cartesia error: %s", strings.TrimSpace(msg.Error))
		}
	}
}

// Close tears the generation down.
func (s *wsStream) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return s.conn.Close()
}
