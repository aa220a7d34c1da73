package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/live"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultSpeechModel is used when no model is configured.
	DefaultSpeechModel = "gpt-4o-mini-tts"

	// DefaultVoice is the voice used when none is configured.
	DefaultVoice = "alloy"

	// speechChunkBytes is the read size for streamed audio bodies.
	speechChunkBytes = 8192
)

// OpenAIProvider synthesizes speech through the OpenAI audio API. The
// response body is streamed back in fixed-size reads so playback can
// begin before the full chunk is rendered.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	format     string
	httpClient *http.Client
}

// OpenAIOption configures the provider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIBaseURL sets a custom base URL (for testing or proxying).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.baseURL = url
	}
}

// WithOpenAIModel sets the speech model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOpenAIVoice sets the voice.
func WithOpenAIVoice(voice string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if voice != "" {
			p.voice = voice
		}
	}
}

// WithOpenAIFormat sets the audio container (mp3, wav, pcm).
func WithOpenAIFormat(format string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if format != "" {
			p.format = format
		}
	}
}

// WithOpenAIHTTPClient sets a custom HTTP client. Its timeout bounds the
// whole synthesis call, body included.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.httpClient = client
	}
}

// NewOpenAI creates an OpenAI TTS provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultSpeechModel,
		voice:      DefaultVoice,
		format:     "mp3",
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Synthesize submits one text chunk and streams the audio body back.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) (live.AudioStream, error) {
	body, err := json.Marshal(speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          p.voice,
		ResponseFormat: p.format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai speech request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, &core.Error{
			Type:    core.ErrProvider,
			Message: fmt.Sprintf("openai speech: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))),
		}
	}
	return &bodyStream{body: resp.Body}, nil
}

// bodyStream reads an HTTP audio body in fixed-size frames.
type bodyStream struct {
	body io.ReadCloser
	err  error
}

// Next returns the next audio frame, or io.EOF once the body is drained.
func (s *bodyStream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	buf := make([]byte, speechChunkBytes)
	n, err := s.body.Read(buf)
	if err != nil {
		s.err = err
	}
	if n > 0 {
		return buf[:n], nil
	}
	if s.err != nil {
		return nil, s.err
	}
	// A zero-byte read with no error; the consumer skips empty frames.
	return nil, nil
}

// Close releases the underlying response body.
func (s *bodyStream) Close() error {
	return s.body.Close()
}
