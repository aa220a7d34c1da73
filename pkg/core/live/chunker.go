package live

import "strings"

// defaultMinChunkWords is the word-count fallback for text that runs on
// without punctuation.
const defaultMinChunkWords = 5

// chunkPunctuation marks boundaries where buffered text is ready to speak.
const chunkPunctuation = ",.!?"

// Chunker accumulates model text deltas and cuts them into chunks small
// enough to hand to speech synthesis without waiting for the full reply.
//
// A chunk is emitted when:
//  1. the delta contains punctuation (cut after the last mark), or
//  2. the buffer already holds at least minWords complete words and the
//     incoming delta starts a new word.
//
// A Chunker is owned by a single goroutine; it is not safe for concurrent
// use.
type Chunker struct {
	minWords int
	pending  strings.Builder
}

// NewChunker returns a Chunker with the given word-count fallback.
// minWords <= 0 selects the default.
func NewChunker(minWords int) *Chunker {
	if minWords <= 0 {
		minWords = defaultMinChunkWords
	}
	return &Chunker{minWords: minWords}
}

// Add appends a text delta and returns a completed chunk, or "" if the
// text should keep buffering.
func (c *Chunker) Add(delta string) string {
	if delta == "" {
		return ""
	}

	// A leading space means the previously buffered word is complete.
	boundary := delta[0] == ' ' || delta[0] == '\n'
	buffered := c.pending.String()

	c.pending.WriteString(delta)

	if strings.ContainsAny(delta, chunkPunctuation) {
		joined := c.pending.String()
		cut := strings.LastIndexAny(joined, chunkPunctuation)
		chunk := strings.TrimSpace(joined[:cut+1])
		rest := strings.TrimSpace(joined[cut+1:])
		c.pending.Reset()
		c.pending.WriteString(rest)
		return chunk
	}

	if boundary && len(strings.Fields(buffered)) >= c.minWords {
		c.pending.Reset()
		c.pending.WriteString(strings.TrimLeft(delta, " \n"))
		return strings.TrimSpace(buffered)
	}

	return ""
}

// Flush returns whatever is still buffered and clears the Chunker.
// Call it when the model stream ends.
func (c *Chunker) Flush() string {
	out := strings.TrimSpace(c.pending.String())
	c.pending.Reset()
	return out
}

// Reset discards buffered text without emitting it. Call it when the
// response is cancelled.
func (c *Chunker) Reset() {
	c.pending.Reset()
}
