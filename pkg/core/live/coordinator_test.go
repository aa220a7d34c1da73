package live

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meetline-ai/meetline/pkg/core"
)

// sliceStream replays fixed deltas, then io.EOF or a configured error.
type sliceStream struct {
	deltas []string
	err    error
	pos    int
}

func (s *sliceStream) Next() (string, error) {
	if s.pos >= len(s.deltas) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

// chanStream yields deltas fed by the test, one Next per feed.
type chanStream struct {
	ch chan string
}

func newChanStream() *chanStream { return &chanStream{ch: make(chan string, 16)} }

func (s *chanStream) Next() (string, error) {
	d, ok := <-s.ch
	if !ok {
		return "", io.EOF
	}
	return d, nil
}

func (s *chanStream) Close() error { return nil }

// fakeSynth yields framesPerChunk frames per chunk, each carrying the
// chunk text. A non-nil gate blocks every stream until it is closed.
type fakeSynth struct {
	mu            sync.Mutex
	chunks        []string
	framesPerChunk int
	failOn        string
	gate          chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (AudioStream, error) {
	f.mu.Lock()
	f.chunks = append(f.chunks, text)
	f.mu.Unlock()

	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("synthesis refused")
	}

	frames := f.framesPerChunk
	if frames <= 0 {
		frames = 1
	}
	return &fakeAudioStream{ctx: ctx, text: text, remaining: frames, gate: f.gate}, nil
}

func (f *fakeSynth) synthesized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.chunks...)
}

type fakeAudioStream struct {
	ctx       context.Context
	text      string
	remaining int
	gate      chan struct{}
}

func (s *fakeAudioStream) Next() ([]byte, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.remaining == 0 {
		return nil, io.EOF
	}
	s.remaining--
	return []byte(s.text), nil
}

func (s *fakeAudioStream) Close() error { return nil }

type collected struct {
	text  []string
	audio []AudioChunk
}

// drain consumes both response channels to completion.
func drain(r *Response) (collected, Outcome) {
	var c collected
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for d := range r.Text {
			c.text = append(c.text, d)
		}
	}()
	go func() {
		defer wg.Done()
		for a := range r.Audio {
			c.audio = append(c.audio, a)
		}
	}()
	wg.Wait()
	return c, r.Wait()
}

func TestCoordinator_TextAndAudioComplete(t *testing.T) {
	synth := &fakeSynth{}
	co := NewCoordinator(synth, Config{})

	deltas := []string{"Thanks", " Jane", "!", " What", " day", " works", "?"}
	r := co.Stream(context.Background(), &sliceStream{deltas: deltas})

	got, outcome := drain(r)

	want := strings.Join(deltas, "")
	if outcome.Text != want {
		t.Fatalf("outcome text = %q, want %q", outcome.Text, want)
	}
	if strings.Join(got.text, "") != want {
		t.Fatalf("delivered text = %q, want %q", strings.Join(got.text, ""), want)
	}
	if outcome.Cancelled || outcome.Err != nil {
		t.Fatalf("outcome = %+v, want clean finish", outcome)
	}

	spoken := synth.synthesized()
	if strings.Join(spoken, " ") != "Thanks Jane! What day works?" {
		t.Fatalf("synthesized chunks = %v", spoken)
	}
	if len(got.audio) != len(spoken) {
		t.Fatalf("audio frames = %d, want %d", len(got.audio), len(spoken))
	}
}

func TestCoordinator_AudioOrderedByChunk(t *testing.T) {
	synth := &fakeSynth{framesPerChunk: 3}
	co := NewCoordinator(synth, Config{})

	deltas := []string{"One.", " Two.", " Three.", " Four."}
	r := co.Stream(context.Background(), &sliceStream{deltas: deltas})

	got, outcome := drain(r)
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}

	last := -1
	for i, a := range got.audio {
		if a.Chunk < last {
			t.Fatalf("frame %d out of order: chunk %d after %d", i, a.Chunk, last)
		}
		last = a.Chunk
	}
	if last != 3 {
		t.Fatalf("last chunk = %d, want 3", last)
	}
}

func TestCoordinator_TextNotThrottledByAudio(t *testing.T) {
	gate := make(chan struct{})
	synth := &fakeSynth{gate: gate}
	co := NewCoordinator(synth, Config{})

	deltas := []string{
		"First.", " Second.", " Third.", " Fourth.", " Fifth.",
		" Sixth.", " Seventh.", " Eighth.",
	}
	r := co.Stream(context.Background(), &sliceStream{deltas: deltas})

	// Synthesis is blocked, yet every delta must still arrive.
	timeout := time.After(5 * time.Second)
	var text []string
	for range deltas {
		select {
		case d := <-r.Text:
			text = append(text, d)
		case <-timeout:
			t.Fatalf("text stalled behind audio after %d deltas", len(text))
		}
	}
	if strings.Join(text, "") != strings.Join(deltas, "") {
		t.Fatalf("text = %q", strings.Join(text, ""))
	}

	close(gate)
	got, outcome := drain(r)
	if outcome.Cancelled || outcome.Err != nil {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(got.audio) == 0 {
		t.Fatal("expected audio after releasing the gate")
	}
}

func TestCoordinator_CancelStopsAudioKeepsFlushedText(t *testing.T) {
	gate := make(chan struct{})
	synth := &fakeSynth{gate: gate}
	co := NewCoordinator(synth, Config{})

	tokens := newChanStream()
	r := co.Stream(context.Background(), tokens)

	// Feed and read a few deltas while synthesis is still blocked.
	fed := []string{"Okay,", " your", " meeting", " is", " set", " for"}
	var heard []string
	for _, d := range fed {
		tokens.ch <- d
		select {
		case got := <-r.Text:
			heard = append(heard, got)
		case <-time.After(5 * time.Second):
			t.Fatal("delta never arrived")
		}
	}

	// Barge-in.
	r.Cancel()
	close(gate)
	close(tokens.ch)

	got, outcome := drain(r)

	if !outcome.Cancelled {
		t.Fatal("outcome not marked cancelled")
	}
	if len(got.audio) != 0 {
		t.Fatalf("audio emitted after cancel: %d frames", len(got.audio))
	}
	want := strings.Join(fed, "")
	if outcome.Text != want {
		t.Fatalf("flushed text = %q, want %q", outcome.Text, want)
	}
	if strings.Join(heard, "") != want {
		t.Fatalf("heard = %q, want %q", strings.Join(heard, ""), want)
	}
}

func TestCoordinator_StreamErrorKeepsPartialReply(t *testing.T) {
	synth := &fakeSynth{}
	co := NewCoordinator(synth, Config{})

	stream := &sliceStream{
		deltas: []string{"Let", " me", " check."},
		err:    errors.New("connection reset"),
	}
	r := co.Stream(context.Background(), stream)

	got, outcome := drain(r)

	if outcome.Cancelled {
		t.Fatal("stream failure must not count as cancellation")
	}
	var coreErr *core.Error
	if !errors.As(outcome.Err, &coreErr) || coreErr.Type != core.ErrProvider {
		t.Fatalf("outcome err = %v, want provider error", outcome.Err)
	}
	if outcome.Text != "Let me check." {
		t.Fatalf("partial text = %q", outcome.Text)
	}
	if len(got.audio) == 0 {
		t.Fatal("partial reply should still be spoken")
	}
}

func TestCoordinator_SynthesisFailureSkipsChunkOnly(t *testing.T) {
	synth := &fakeSynth{failOn: "Second"}
	co := NewCoordinator(synth, Config{})

	deltas := []string{"First.", " Second.", " Third."}
	r := co.Stream(context.Background(), &sliceStream{deltas: deltas})

	got, outcome := drain(r)

	if outcome.Err != nil || outcome.Cancelled {
		t.Fatalf("outcome = %+v, want clean finish", outcome)
	}
	if outcome.Text != strings.Join(deltas, "") {
		t.Fatalf("text = %q", outcome.Text)
	}

	for _, a := range got.audio {
		if a.Chunk == 1 {
			t.Fatal("failed chunk produced audio")
		}
	}
	seen := map[int]bool{}
	for _, a := range got.audio {
		seen[a.Chunk] = true
	}
	if !seen[0] || !seen[2] {
		t.Fatalf("surviving chunks missing audio: %v", got.audio)
	}
}

func TestCoordinator_EmptyStream(t *testing.T) {
	synth := &fakeSynth{}
	co := NewCoordinator(synth, Config{})

	r := co.Stream(context.Background(), NewStaticStream(""))
	got, outcome := drain(r)

	if outcome.Text != "" || outcome.Cancelled || outcome.Err != nil {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(got.text) != 0 || len(got.audio) != 0 {
		t.Fatalf("unexpected output: %+v", got)
	}
}

func TestStaticStream(t *testing.T) {
	s := NewStaticStream("All set.")
	d, err := s.Next()
	if err != nil || d != "All set." {
		t.Fatalf("Next = %q, %v", d, err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("second Next err = %v, want io.EOF", err)
	}
}
