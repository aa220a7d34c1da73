package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
	"github.com/meetline-ai/meetline/pkg/gateway/mw"
)

// ConversationsHandler serves GET /v1/conversations/{id}: the full
// transcript of one conversation. A caller can only read the
// conversation bound to its own session token.
type ConversationsHandler struct {
	Store transcript.Store
}

func (h ConversationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	token, ok := mw.SessionFrom(r.Context())
	if !ok {
		writeCoreErrorJSON(w, reqID, core.NewAuthenticationError("session token missing"), http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	// A mismatched ID reads as absent rather than forbidden so tokens
	// cannot be probed.
	if id == "" || id != token {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("conversation not found"), http.StatusNotFound)
		return
	}

	turns, err := h.Store.Turns(r.Context(), id)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	type conversationResp struct {
		ConversationID string            `json:"conversation_id"`
		Turns          []transcript.Turn `json:"turns"`
	}
	if turns == nil {
		turns = []transcript.Turn{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(conversationResp{ConversationID: id, Turns: turns})
}
