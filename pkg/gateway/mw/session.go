package mw

import (
	"context"
	"net/http"
	"strings"
)

const (
	// SessionHeader carries the conversation session token for API
	// clients; SessionCookie does the same for browsers. The token IS
	// the conversation identity: nothing else names a conversation.
	SessionHeader = "Meetline-Session"
	SessionCookie = "meetline_session"
)

type ctxKeySession struct{}

func SessionFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ctxKeySession{}).(string)
	return token, ok && token != ""
}

func WithSession(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeySession{}, token)
}

// Session resolves the caller's session token, minting one when absent.
// The token is echoed back in both the response header and a cookie so
// either transport can carry it on the next turn.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(SessionHeader))
		if token == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				token = strings.TrimSpace(c.Value)
			}
		}
		if !validSessionToken(token) {
			token = "sess_" + randHex(16)
		}

		w.Header().Set(SessionHeader, token)
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), token)))
	})
}

// validSessionToken rejects tokens this gateway could not have minted so
// callers cannot pick arbitrary conversation keys.
func validSessionToken(token string) bool {
	if !strings.HasPrefix(token, "sess_") {
		return false
	}
	rest := token[len("sess_"):]
	if len(rest) != 32 {
		return false
	}
	for _, c := range rest {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
