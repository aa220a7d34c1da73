// Package session runs one live voice conversation over a WebSocket: it
// reads turn, audio, and cancel frames from the client, drives the agent,
// and streams text deltas and synthesized audio back as they are
// produced. A new turn arriving mid-reply is a barge-in and cancels the
// reply in flight.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/agent"
	"github.com/meetline-ai/meetline/pkg/core/voice/stt"
)

// Agent is the slice of the dialogue agent a live session drives.
type Agent interface {
	Greet(ctx context.Context, conversationID string) (*agent.Reply, error)
	Turn(ctx context.Context, conversationID, text string) (*agent.Reply, error)
	Reprompt(ctx context.Context, conversationID string) (*agent.Reply, error)
}

// Config holds per-session tuning. Zero values select defaults.
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	// MaxDuration bounds the whole session; the socket is closed when it
	// elapses.
	MaxDuration time.Duration
	// MaxAudioFrameBytes caps inbound frames, audio included.
	MaxAudioFrameBytes int64
	// ASRTimeout bounds each transcription call. <= 0 leaves it bounded
	// only by the session context.
	ASRTimeout time.Duration
}

// Session is one live conversation bound to a WebSocket connection.
type Session struct {
	conn           *websocket.Conn
	agent          Agent
	stt            stt.Provider
	conversationID string
	cfg            Config
	log            *slog.Logger

	writeMu sync.Mutex
	// turn is the ID of the newest dispatched turn; frames stamped with an
	// older ID are stale leftovers from a barged-in reply and are dropped.
	turn atomic.Int64
}

// New wraps an upgraded connection. The stt provider may be nil, in which
// case audio frames are rejected.
func New(conn *websocket.Conn, ag Agent, sttp stt.Provider, conversationID string, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		conn:           conn,
		agent:          ag,
		stt:            sttp,
		conversationID: conversationID,
		cfg:            cfg,
		log:            log.With("conversation_id", conversationID),
	}
}

// inFlight is the reply currently streaming to the client.
type inFlight struct {
	turn  int64
	reply *agent.Reply
	done  chan struct{}
}

// Handle returns the control handle the tracker holds for this session.
// Close is wired by Run; Notify pushes an advisory error frame.
func (s *Session) Handle(cancel context.CancelFunc) Handle {
	return Handle{
		Close: cancel,
		Notify: func(code, message string) error {
			return s.writeFrame(serverFrame{
				Type:  "error",
				Error: &core.Error{Type: core.ErrOverloaded, Message: message, Code: code},
			})
		},
	}
}

// Run drives the session until the client disconnects, the context is
// cancelled, or the session duration limit elapses.
func (s *Session) Run(ctx context.Context) error {
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	pingInterval := s.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.cfg.MaxDuration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.cfg.MaxDuration)
		defer cancelTimeout()
	}

	if s.cfg.MaxAudioFrameBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxAudioFrameBytes)
	}
	readWindow := 2*pingInterval + writeTimeout
	_ = s.conn.SetReadDeadline(time.Now().Add(readWindow))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	frames := make(chan clientFrame)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f clientFrame
			if err := s.conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	go s.pingLoop(ctx, pingInterval, writeTimeout)

	var current *inFlight
	stop := func() {
		if current == nil {
			return
		}
		if current.reply.Response != nil {
			current.reply.Response.Cancel()
		}
		<-current.done
		current = nil
	}

	for {
		// Reap a reply that finished on its own so a stop() for the next
		// turn does not re-cancel it.
		if current != nil {
			select {
			case <-current.done:
				current = nil
			default:
			}
		}

		select {
		case <-ctx.Done():
			stop()
			s.closeSocket(writeTimeout)
			return nil

		case err := <-readErr:
			stop()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err

		case f := <-frames:
			switch f.Type {
			case "cancel":
				stop()

			case "turn", "audio":
				stop()
				current = s.dispatch(ctx, f)

			default:
				s.writeError(0, core.NewInvalidRequestError(fmt.Sprintf("unknown frame type %q", f.Type)))
			}
		}
	}
}

// dispatch resolves the frame to text, takes the agent turn, and starts
// forwarding the reply. Returns nil when the turn could not start.
func (s *Session) dispatch(ctx context.Context, f clientFrame) *inFlight {
	turnID := s.turn.Add(1)

	var (
		reply *agent.Reply
		err   error
	)
	switch {
	case f.Type == "audio":
		text, terr := s.transcribe(ctx, f)
		switch {
		case terr != nil && isTranscriptionMiss(terr):
			// Unintelligible audio: ask the caller to repeat, keep state.
			reply, err = s.agent.Reprompt(ctx, s.conversationID)
		case terr != nil:
			s.writeError(turnID, terr)
			return nil
		case strings.TrimSpace(text) == "":
			reply, err = s.agent.Reprompt(ctx, s.conversationID)
		default:
			reply, err = s.agent.Turn(ctx, s.conversationID, text)
		}

	case strings.TrimSpace(f.Text) == "":
		// An empty turn opens the conversation.
		reply, err = s.agent.Greet(ctx, s.conversationID)

	default:
		reply, err = s.agent.Turn(ctx, s.conversationID, f.Text)
	}

	if err != nil {
		s.writeError(turnID, err)
		return nil
	}

	fl := &inFlight{turn: turnID, reply: reply, done: make(chan struct{})}
	go s.forward(fl)
	return fl
}

func (s *Session) transcribe(ctx context.Context, f clientFrame) (string, error) {
	if s.stt == nil {
		return "", core.NewInvalidRequestError("audio turns are not enabled")
	}
	audio, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return "", core.NewInvalidRequestError("audio frame is not valid base64")
	}
	if len(audio) == 0 {
		return "", core.NewInvalidRequestError("audio frame is empty")
	}
	if s.cfg.ASRTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ASRTimeout)
		defer cancel()
	}
	return s.stt.Transcribe(ctx, audio, f.Format)
}

func isTranscriptionMiss(err error) bool {
	var ce *core.Error
	return errors.As(err, &ce) && ce.Type == core.ErrTranscription
}

// forward streams one reply to the client: state first, then deltas and
// audio as they arrive, then booked, then done or cancelled.
func (s *Session) forward(fl *inFlight) {
	defer close(fl.done)

	reply := fl.reply
	s.send(fl.turn, serverFrame{Type: "state", Turn: fl.turn, State: string(reply.State)})

	resp := reply.Response
	if resp == nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for delta := range resp.Text {
			s.send(fl.turn, serverFrame{Type: "delta", Turn: fl.turn, Text: delta})
		}
	}()
	go func() {
		defer wg.Done()
		for chunk := range resp.Audio {
			s.send(fl.turn, serverFrame{
				Type:  "audio",
				Turn:  fl.turn,
				Index: chunk.Chunk,
				Data:  base64.StdEncoding.EncodeToString(chunk.Data),
			})
		}
	}()
	wg.Wait()

	outcome := resp.Wait()
	if reply.Err != nil {
		s.writeError(fl.turn, reply.Err)
	}
	if outcome.Err != nil {
		s.writeError(fl.turn, outcome.Err)
	}
	if reply.Booked != nil {
		s.send(fl.turn, serverFrame{
			Type:      "booked",
			Turn:      fl.turn,
			MeetLink:  reply.Booked.MeetLink,
			EventLink: reply.Booked.EventLink,
		})
	}
	if outcome.Cancelled {
		s.send(fl.turn, serverFrame{Type: "cancelled", Turn: fl.turn})
	} else {
		s.send(fl.turn, serverFrame{Type: "done", Turn: fl.turn, Text: outcome.Text})
	}

	<-reply.Recorded()
}

// send writes a frame unless a newer turn has been dispatched.
func (s *Session) send(turnID int64, frame serverFrame) {
	if s.turn.Load() != turnID {
		return
	}
	if err := s.writeFrame(frame); err != nil {
		s.log.Debug("live write failed", "err", err, "frame", frame.Type)
	}
}

func (s *Session) writeError(turnID int64, err error) {
	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = &core.Error{Type: core.ErrAPI, Message: err.Error()}
	}
	s.writeIgnoringTurn(serverFrame{Type: "error", Turn: turnID, Error: ce})
}

func (s *Session) writeIgnoringTurn(frame serverFrame) {
	if err := s.writeFrame(frame); err != nil {
		s.log.Debug("live write failed", "err", err, "frame", frame.Type)
	}
}

func (s *Session) writeFrame(frame serverFrame) error {
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}

func (s *Session) pingLoop(ctx context.Context, interval, writeTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

func (s *Session) closeSocket(writeTimeout time.Duration) {
	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = s.conn.Close()
}
