package live

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/meetline-ai/meetline/pkg/core"
)

// AudioStream yields the synthesized audio for one text chunk.
// Next returns io.EOF after the final frame.
type AudioStream interface {
	Next() ([]byte, error)
	Close() error
}

// Synthesizer turns one text chunk into an audio stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// AudioChunk is one audio frame tagged with the index of the text chunk
// it was synthesized from. Frames always arrive in chunk order.
type AudioChunk struct {
	Chunk int
	Data  []byte
}

// Config holds coordinator tuning.
type Config struct {
	// MinChunkWords is the chunker's word-count fallback. <= 0 selects
	// the default.
	MinChunkWords int
	// QueueDepth bounds how many chunks may wait for synthesis. <= 0
	// selects the default.
	QueueDepth int
	Logger     *slog.Logger
}

const defaultQueueDepth = 64

// Coordinator fans a single model reply out to two surfaces: text deltas
// the moment they arrive, and synthesized audio chunk by chunk. Text is
// never held back by synthesis; audio for a chunk is dropped rather than
// played out of order or after cancellation.
type Coordinator struct {
	synth Synthesizer
	cfg   Config
	log   *slog.Logger
}

// NewCoordinator creates a coordinator that speaks through synth.
func NewCoordinator(synth Synthesizer, cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{synth: synth, cfg: cfg, log: log}
}

// Response is one in-flight agent reply. Callers must drain both Text and
// Audio; Wait blocks until both channels are closed and reports what was
// actually delivered.
type Response struct {
	// Text carries model deltas as they arrive.
	Text <-chan string
	// Audio carries synthesized frames ordered by source chunk.
	Audio <-chan AudioChunk

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	text      strings.Builder
	cancelled bool
	err       error
}

// Outcome describes a finished response.
type Outcome struct {
	// Text is the concatenation of every delta delivered on Response.Text.
	// After a cancellation this is the partial reply the caller already
	// saw; it is never rolled back.
	Text string
	// Cancelled reports whether the reply was cut short.
	Cancelled bool
	// Err is the model stream failure, if any. Synthesis failures are
	// logged and skipped; they never appear here.
	Err error
}

// Cancel stops the reply. Deltas and audio already delivered stand; no
// chunk queued at cancel time is spoken afterward.
func (r *Response) Cancel() {
	r.cancel()
}

// Wait blocks until the reply has fully drained.
func (r *Response) Wait() Outcome {
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Outcome{Text: r.text.String(), Cancelled: r.cancelled, Err: r.err}
}

func (r *Response) appendText(delta string) {
	r.mu.Lock()
	r.text.WriteString(delta)
	r.mu.Unlock()
}

func (r *Response) setCancelled() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}

func (r *Response) setErr(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

type textChunk struct {
	index int
	text  string
}

// Stream starts fanning tokens out to text and audio. It takes ownership
// of tokens and closes it when the model side finishes.
func (c *Coordinator) Stream(ctx context.Context, tokens TokenStream) *Response {
	ctx, cancel := context.WithCancel(ctx)

	textCh := make(chan string, 32)
	audioCh := make(chan AudioChunk, 32)
	queue := make(chan textChunk, c.queueDepth())

	r := &Response{Text: textCh, Audio: audioCh, cancel: cancel}
	r.wg.Add(2)

	go c.pump(ctx, tokens, r, textCh, queue)
	go c.speak(ctx, r, queue, audioCh)

	return r
}

func (c *Coordinator) queueDepth() int {
	if c.cfg.QueueDepth > 0 {
		return c.cfg.QueueDepth
	}
	return defaultQueueDepth
}

// pump reads the token stream, forwards every delta to the text channel
// immediately, and queues completed chunks for synthesis.
func (c *Coordinator) pump(ctx context.Context, tokens TokenStream, r *Response, textCh chan<- string, queue chan<- textChunk) {
	defer r.wg.Done()
	defer close(queue)
	defer close(textCh)
	defer tokens.Close()

	chunker := NewChunker(c.cfg.MinChunkWords)
	next := 0

	enqueue := func(text string) bool {
		if text == "" {
			return true
		}
		select {
		case queue <- textChunk{index: next, text: text}:
			next++
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			chunker.Reset()
			r.setCancelled()
			return
		}

		delta, err := tokens.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				chunker.Reset()
				r.setCancelled()
				return
			}
			c.log.Warn("model stream failed mid-reply", "error", err)
			r.setErr(core.NewProviderError("llm", err))
			break
		}
		if delta == "" {
			continue
		}

		select {
		case textCh <- delta:
			r.appendText(delta)
		case <-ctx.Done():
			chunker.Reset()
			r.setCancelled()
			return
		}

		if chunk := chunker.Add(delta); chunk != "" {
			if !enqueue(chunk) {
				r.setCancelled()
				return
			}
		}
	}

	// A cancel that raced the end of the stream still counts: nothing
	// buffered may be spoken once it lands.
	if ctx.Err() != nil {
		chunker.Reset()
		r.setCancelled()
		return
	}

	// The stream ended, cleanly or not. Text the caller already saw still
	// gets spoken.
	if !enqueue(chunker.Flush()) {
		r.setCancelled()
	}
}

// speak synthesizes queued chunks one at a time so audio frames come out
// in chunk order. After cancellation it keeps draining the queue without
// speaking so the pump never blocks.
func (c *Coordinator) speak(ctx context.Context, r *Response, queue <-chan textChunk, audioCh chan<- AudioChunk) {
	defer r.wg.Done()
	defer close(audioCh)

	for chunk := range queue {
		if ctx.Err() != nil {
			r.setCancelled()
			continue
		}
		if !c.synthesize(ctx, chunk, audioCh) {
			r.setCancelled()
		}
	}
}

// synthesize speaks one chunk. It returns false only when cancellation
// cut the chunk off; synthesis failures are logged and reported as true
// so the remaining chunks still play.
func (c *Coordinator) synthesize(ctx context.Context, chunk textChunk, audioCh chan<- AudioChunk) bool {
	stream, err := c.synth.Synthesize(ctx, chunk.text)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.log.Warn("chunk synthesis failed", "chunk", chunk.index, "error", err)
		return true
	}
	defer stream.Close()

	for {
		frame, err := stream.Next()
		if err == io.EOF {
			return true
		}
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			c.log.Warn("audio stream failed mid-chunk", "chunk", chunk.index, "error", err)
			return true
		}
		if len(frame) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return false
		}
		select {
		case audioCh <- AudioChunk{Chunk: chunk.index, Data: frame}:
		case <-ctx.Done():
			return false
		}
	}
}
