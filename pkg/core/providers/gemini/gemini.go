// Package gemini adapts the Gemini API to the two language-model surfaces
// the agent needs: blocking generation for slot extraction and token
// streaming for spoken replies.
package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"google.golang.org/genai"

	"github.com/meetline-ai/meetline/pkg/core"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// Provider calls the Gemini API through the official SDK.
type Provider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// Option configures the provider.
type Option func(*Provider)

// WithModel sets the model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithTimeout bounds each Generate call and the full life of each
// streamed reply. <= 0 leaves calls bounded only by the caller's
// context.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a Gemini provider. The context is only used for client
// construction, not for later calls.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	p := &Provider{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

func generationConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

// Generate sends a blocking request and returns the reply text.
func (p *Provider) Generate(ctx context.Context, system, user string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(user), generationConfig(system))
	if err != nil {
		return "", core.NewProviderError("gemini", err)
	}
	text := resp.Text()
	if text == "" {
		return "", core.NewAPIError("gemini: empty response")
	}
	return text, nil
}

// Stream sends a streaming request and returns the reply token stream.
// With a timeout configured, the whole stream must finish within it.
func (p *Provider) Stream(ctx context.Context, system, user string) (*TokenStream, error) {
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	seq := p.client.Models.GenerateContentStream(ctx, p.model, genai.Text(user), generationConfig(system))
	next, stop := iter.Pull2(seq)
	return &TokenStream{next: next, stop: stop, cancel: cancel}, nil
}

// TokenStream pulls text deltas out of a Gemini streaming response.
type TokenStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc
	err    error
}

// Next returns the next text delta, or io.EOF once the stream ends.
func (s *TokenStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.err = io.EOF
			return "", io.EOF
		}
		if err != nil {
			s.err = core.NewProviderError("gemini", err)
			return "", s.err
		}
		if delta := resp.Text(); delta != "" {
			return delta, nil
		}
	}
}

// Close releases the underlying stream and its deadline.
func (s *TokenStream) Close() error {
	s.stop()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
