package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/voice/stt"
	"github.com/meetline-ai/meetline/pkg/gateway/config"
	"github.com/meetline-ai/meetline/pkg/gateway/lifecycle"
	"github.com/meetline-ai/meetline/pkg/gateway/mw"
	"github.com/meetline-ai/meetline/pkg/gateway/session"
)

// LiveHandler serves GET /v1/live: the full-duplex WebSocket voice
// session. The HTTP session token names the conversation, so a client
// can move between /v1/turns and /v1/live mid-conversation.
type LiveHandler struct {
	Agent     Agent
	STT       stt.Provider
	Config    config.Config
	Logger    *slog.Logger
	Tracker   *session.Tracker
	Lifecycle *lifecycle.Lifecycle
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := session.New(conn, h.Agent, h.STT, token, session.Config{
		WriteTimeout:       h.Config.LiveWSWriteTimeout,
		PingInterval:       h.Config.LiveWSPingInterval,
		MaxDuration:        h.Config.LiveMaxSessionDuration,
		MaxAudioFrameBytes: int64(h.Config.LiveMaxAudioFrameBytes),
		ASRTimeout:         h.Config.ASRTimeout,
	}, h.Logger)

	unregister := h.Tracker.Register(token, s.Handle(cancel))
	defer unregister()

	if err := s.Run(ctx); err != nil && h.Logger != nil {
		h.Logger.Debug("live session ended", "request_id", reqID, "error", err)
	}
}

func (h LiveHandler) checkOrigin(r *http.Request) bool {
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
