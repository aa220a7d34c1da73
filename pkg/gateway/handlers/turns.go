package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/agent"
	"github.com/meetline-ai/meetline/pkg/core/voice/stt"
	"github.com/meetline-ai/meetline/pkg/gateway/apierror"
	"github.com/meetline-ai/meetline/pkg/gateway/config"
	"github.com/meetline-ai/meetline/pkg/gateway/lifecycle"
	"github.com/meetline-ai/meetline/pkg/gateway/mw"
	"github.com/meetline-ai/meetline/pkg/gateway/ratelimit"
	"github.com/meetline-ai/meetline/pkg/gateway/sse"
)

// Agent is the dialogue surface the transport layer drives. The session
// token doubles as the conversation ID.
type Agent interface {
	Greet(ctx context.Context, conversationID string) (*agent.Reply, error)
	Turn(ctx context.Context, conversationID, text string) (*agent.Reply, error)
	Reprompt(ctx context.Context, conversationID string) (*agent.Reply, error)
}

// SSE event payloads for one streamed turn.
type stateEvent struct {
	State string `json:"state"`
}

type deltaEvent struct {
	Text string `json:"text"`
}

type audioEvent struct {
	Index int    `json:"index"`
	Data  string `json:"data"`
}

type doneEvent struct {
	Text string `json:"text"`
}

// TurnsHandler serves POST /v1/turns: one user turn in, one reply
// streamed out as server-sent events. The turn text arrives either as
// JSON or as a multipart audio upload that is transcribed first.
type TurnsHandler struct {
	Agent     Agent
	STT       stt.Provider
	Config    config.Config
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
}

func (h TurnsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID}, 529)
		return
	}

	token, ok := mw.SessionFrom(r.Context())
	if !ok {
		writeCoreErrorJSON(w, reqID, core.NewAuthenticationError("session token missing"), http.StatusUnauthorized)
		return
	}

	if h.Limiter != nil && h.Config.LimitMaxConcurrentStreams > 0 {
		dec := h.Limiter.AcquireStream(ratelimit.SessionKey(token), time.Now())
		if !dec.Allowed {
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", dec.RetryAfter))
			}
			writeCoreErrorJSON(w, reqID, core.NewRateLimitError("too many concurrent streams", dec.RetryAfter), http.StatusTooManyRequests)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}
	}

	text, reprompt, err := h.turnText(w, r)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	var reply *agent.Reply
	switch {
	case reprompt:
		reply, err = h.Agent.Reprompt(r.Context(), token)
	case strings.TrimSpace(text) == "":
		// An empty turn opens the conversation.
		reply, err = h.Agent.Greet(r.Context(), token)
	default:
		reply, err = h.Agent.Turn(r.Context(), token, text)
	}
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	streamReply(w, r, reqID, reply)
}

// turnText resolves the turn's utterance from the request. reprompt is
// set when the audio could not be understood and the agent should ask the
// caller to repeat themselves.
func (h TurnsHandler) turnText(w http.ResponseWriter, r *http.Request) (text string, reprompt bool, err error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "multipart/") {
		audio, format, err := readAudioUpload(w, r, int64(h.Config.LiveMaxAudioFrameBytes))
		if err != nil {
			return "", false, err
		}
		if h.STT == nil {
			return "", false, core.NewInvalidRequestError("audio turns are not enabled")
		}

		ctx := r.Context()
		if h.Config.ASRTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.Config.ASRTimeout)
			defer cancel()
		}
		text, terr := h.STT.Transcribe(ctx, audio, format)
		if terr != nil {
			var ce *core.Error
			if errors.As(terr, &ce) && ce.Type == core.ErrTranscription {
				return "", true, nil
			}
			return "", false, terr
		}
		if strings.TrimSpace(text) == "" {
			return "", true, nil
		}
		return text, false, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var in struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return "", false, core.NewInvalidRequestError("request body must be JSON with a text field")
	}
	return in.Text, false, nil
}

// streamReply plays one agent reply out over SSE: state first, then
// deltas and audio as they arrive, then booked, then done. A client
// disconnect cancels the reply; text already flushed stands.
func streamReply(w http.ResponseWriter, r *http.Request, reqID string, reply *agent.Reply) {
	sw, err := sse.New(w)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	_ = sw.Send("state", stateEvent{State: string(reply.State)})

	resp := reply.Response
	if resp != nil {
		drained := make(chan struct{})
		go func() {
			select {
			case <-r.Context().Done():
				resp.Cancel()
			case <-drained:
			}
		}()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for delta := range resp.Text {
				_ = sw.Send("delta", deltaEvent{Text: delta})
			}
		}()
		go func() {
			defer wg.Done()
			for chunk := range resp.Audio {
				_ = sw.Send("audio", audioEvent{
					Index: chunk.Chunk,
					Data:  base64.StdEncoding.EncodeToString(chunk.Data),
				})
			}
		}()
		wg.Wait()
		close(drained)

		outcome := resp.Wait()
		if reply.Err != nil {
			sendErrorEvent(sw, reqID, reply.Err)
		}
		if outcome.Err != nil {
			sendErrorEvent(sw, reqID, outcome.Err)
		}
		if reply.Booked != nil {
			_ = sw.Send("booked", reply.Booked)
		}
		_ = sw.Send("done", doneEvent{Text: outcome.Text})
	}

	<-reply.Recorded()
}

func sendErrorEvent(sw *sse.Writer, reqID string, err error) {
	coreErr, _ := coreErrorFrom(err, reqID)
	_ = sw.Send("error", apierror.Envelope{Error: coreErr})
}

// readAudioUpload pulls the audio part out of a multipart upload. The
// format hint comes from the uploaded filename extension.
func readAudioUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, string, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, "", core.NewInvalidRequestErrorWithParam("multipart audio file missing", "audio")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", core.NewInvalidRequestError("failed to read audio upload")
	}
	if len(data) == 0 {
		return nil, "", core.NewInvalidRequestErrorWithParam("audio upload is empty", "audio")
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if format == "" {
		format = "wav"
	}
	return data, format, nil
}
