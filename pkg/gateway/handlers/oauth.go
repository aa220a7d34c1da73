package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/calendar"
	"github.com/meetline-ai/meetline/pkg/gateway/mw"
)

const (
	oauthStateCookie    = "meetline_oauth_state"
	oauthVerifierCookie = "meetline_oauth_verifier"
	oauthCookieTTL      = 10 * time.Minute
)

// OAuthHandler drives the browser half of the Google Calendar
// authorization flow: login redirects to consent, callback exchanges the
// code and persists the credentials.
type OAuthHandler struct {
	Flow   *calendar.OAuthFlow
	Store  calendar.CredentialsStore
	Logger *slog.Logger
}

func (h OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if h.Flow == nil || h.Flow.ClientID == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("google oauth is not configured"), http.StatusBadRequest)
		return
	}

	state, err := calendar.NewState()
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	verifier, challenge, err := calendar.NewPKCE()
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	setOAuthCookie(w, oauthStateCookie, state)
	setOAuthCookie(w, oauthVerifierCookie, verifier)
	http.Redirect(w, r, h.Flow.AuthorizeURL(state, challenge), http.StatusFound)
}

func (h OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		writeCoreErrorJSON(w, reqID, core.NewAuthenticationError("google consent was denied: "+errParam), http.StatusUnauthorized)
		return
	}

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != stateCookie.Value {
		writeCoreErrorJSON(w, reqID, core.NewAuthenticationError("oauth state mismatch"), http.StatusUnauthorized)
		return
	}
	verifierCookie, err := r.Cookie(oauthVerifierCookie)
	if err != nil || verifierCookie.Value == "" {
		writeCoreErrorJSON(w, reqID, core.NewAuthenticationError("oauth verifier missing"), http.StatusUnauthorized)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("authorization code missing", "code"), http.StatusBadRequest)
		return
	}

	creds, err := h.Flow.Exchange(r.Context(), code, verifierCookie.Value)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	if err := h.Store.Save(creds); err != nil {
		writeErr(w, reqID, err)
		return
	}

	clearOAuthCookie(w, oauthStateCookie)
	clearOAuthCookie(w, oauthVerifierCookie)

	if h.Logger != nil {
		h.Logger.Info("google calendar credentials saved")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}{OK: true, Message: "Google Calendar connected"})
}

func setOAuthCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/v1/oauth/google",
		MaxAge:   int(oauthCookieTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearOAuthCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/v1/oauth/google",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
