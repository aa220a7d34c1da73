package mw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSession_MintsTokenWhenAbsent(t *testing.T) {
	var seen string
	h := Session(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !strings.HasPrefix(seen, "sess_") || len(seen) != len("sess_")+32 {
		t.Fatalf("minted token=%q", seen)
	}
	if got := rr.Header().Get(SessionHeader); got != seen {
		t.Fatalf("header token=%q, ctx token=%q", got, seen)
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != seen {
		t.Fatalf("cookie=%v, want value %q", cookie, seen)
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}
}

func TestSession_ReusesHeaderToken(t *testing.T) {
	const token = "sess_0123456789abcdef0123456789abcdef"

	var seen string
	h := Session(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	req.Header.Set(SessionHeader, token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != token {
		t.Fatalf("ctx token=%q, want %q", seen, token)
	}
	if got := rr.Header().Get(SessionHeader); got != token {
		t.Fatalf("echoed token=%q", got)
	}
}

func TestSession_ReusesCookieToken(t *testing.T) {
	const token = "sess_0123456789abcdef0123456789abcdef"

	var seen string
	h := Session(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != token {
		t.Fatalf("ctx token=%q, want %q", seen, token)
	}
}

func TestSession_RejectsForgedTokens(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"sess_short",
		"sess_XYZ3456789abcdef0123456789abcdef",
		"../../etc/passwd",
	}
	for _, forged := range cases {
		var seen string
		h := Session(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = SessionFrom(r.Context())
		}))

		req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
		if forged != "" {
			req.Header.Set(SessionHeader, forged)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if seen == forged || !strings.HasPrefix(seen, "sess_") {
			t.Fatalf("forged token %q was accepted as %q", forged, seen)
		}
	}
}
