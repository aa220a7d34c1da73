package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/voice/stt"
	"github.com/meetline-ai/meetline/pkg/gateway/config"
	"github.com/meetline-ai/meetline/pkg/gateway/mw"
)

// TranscribeHandler serves POST /v1/transcribe: a bare ASR passthrough
// with no dialogue side effects.
type TranscribeHandler struct {
	STT    stt.Provider
	Config config.Config
}

func (h TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if h.STT == nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("transcription is not enabled"), http.StatusBadRequest)
		return
	}

	audio, format, err := readAudioUpload(w, r, int64(h.Config.LiveMaxAudioFrameBytes))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	ctx := r.Context()
	if h.Config.ASRTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.ASRTimeout)
		defer cancel()
	}

	text, err := h.STT.Transcribe(ctx, audio, format)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Text string `json:"text"`
	}{Text: text})
}
