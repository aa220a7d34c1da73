package calendar

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// LoginResult is the outcome of one loopback login flow.
type LoginResult struct {
	Credentials *Credentials
	Error       error
}

// StartLogin runs the authorization-code flow against a local loopback
// callback server. It returns the channel the result arrives on and the
// consent URL to open in a browser.
func StartLogin(flow *OAuthFlow) (<-chan LoginResult, string, error) {
	verifier, challenge, err := NewPKCE()
	if err != nil {
		return nil, "", fmt.Errorf("generate PKCE: %w", err)
	}
	state, err := NewState()
	if err != nil {
		return nil, "", fmt.Errorf("generate state: %w", err)
	}

	redirectURL, err := url.Parse(flow.RedirectURI)
	if err != nil {
		return nil, "", fmt.Errorf("parse redirect URI: %w", err)
	}
	port := redirectURL.Port()
	if port == "" {
		port = "80"
	}

	listener, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		return nil, "", fmt.Errorf("start callback server on port %s: %w", port, err)
	}

	resultChan := make(chan LoginResult, 1)
	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	server.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != redirectURL.Path {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("state") != state {
			http.Error(w, "Invalid state", http.StatusBadRequest)
			resultChan <- LoginResult{Error: fmt.Errorf("state mismatch")}
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "No code received", http.StatusBadRequest)
			resultChan <- LoginResult{Error: fmt.Errorf("no code received")}
			return
		}

		creds, err := flow.Exchange(r.Context(), code, verifier)
		if err != nil {
			http.Error(w, "Token exchange failed", http.StatusInternalServerError)
			resultChan <- LoginResult{Error: err}
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Meetline - Google Calendar</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem;">
<h1>Authentication complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`)

		resultChan <- LoginResult{Credentials: creds}

		go func() {
			time.Sleep(500 * time.Millisecond)
			_ = server.Shutdown(context.Background())
		}()
	})

	go func() {
		if err := server.Serve(listener); err != http.ErrServerClosed {
			resultChan <- LoginResult{Error: err}
		}
	}()

	return resultChan, flow.AuthorizeURL(state, challenge), nil
}
