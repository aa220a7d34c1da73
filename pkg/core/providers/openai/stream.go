package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// tokenStream reads text deltas out of a Chat Completions SSE body.
type tokenStream struct {
	reader   *bufio.Reader
	closer   io.Closer
	err      error
	finished bool
}

// chatChunk is the streaming chunk shape; only text deltas matter here.
type chatChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

func newTokenStream(body io.ReadCloser) *tokenStream {
	return &tokenStream{
		reader: bufio.NewReader(body),
		closer: body,
	}
}

// Next returns the next text delta, or io.EOF once the stream ends.
func (s *tokenStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.finished {
		return "", io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.finished = true
				return "", io.EOF
			}
			s.err = err
			return "", err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.finished = true
			return "", io.EOF
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip unparseable chunks
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

// Close releases the underlying response body.
func (s *tokenStream) Close() error {
	return s.closer.Close()
}
