package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/agent"
	"github.com/meetline-ai/meetline/pkg/core/booking"
	"github.com/meetline-ai/meetline/pkg/core/calendar"
	"github.com/meetline-ai/meetline/pkg/core/dialogue"
	"github.com/meetline-ai/meetline/pkg/core/extract"
	"github.com/meetline-ai/meetline/pkg/core/live"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
	"github.com/meetline-ai/meetline/pkg/gateway/config"
	"github.com/meetline-ai/meetline/pkg/gateway/lifecycle"
	"github.com/meetline-ai/meetline/pkg/gateway/mw"
)

const testToken = "sess_0123456789abcdef0123456789abcdef"

// echoLLM speaks the planned message back verbatim.
type echoLLM struct{}

func (echoLLM) Stream(ctx context.Context, system, user string) (live.TokenStream, error) {
	const marker = "Planned assistant message:\n"
	planned := user
	if i := strings.Index(user, marker); i >= 0 {
		planned = user[i+len(marker):]
	}
	return live.NewStaticStream(planned), nil
}

type emptySlots struct{}

func (emptySlots) Generate(ctx context.Context, system, user string) (string, error) {
	return `{}`, nil
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text string) (live.AudioStream, error) {
	return &singleFrame{data: []byte(text)}, nil
}

type singleFrame struct {
	data []byte
	done bool
}

func (s *singleFrame) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.data, nil
}

func (s *singleFrame) Close() error { return nil }

type fakeBooker struct{}

func (fakeBooker) CreateEvent(ctx context.Context, snap booking.Snapshot) (booking.Result, error) {
	return booking.Result{}, nil
}

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Name() string { return "fake" }

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent() (*agent.Agent, *transcript.MemoryStore) {
	store := transcript.NewMemoryStore()
	ext := extract.New(emptySlots{}, extract.Config{Location: time.UTC, Logger: discardLogger()})
	co := live.NewCoordinator(fakeSynth{}, live.Config{Logger: discardLogger()})
	a := agent.New(agent.Config{Location: time.UTC, BookingTimeout: time.Second, Logger: discardLogger()}, store, ext, echoLLM{}, co, fakeBooker{})
	return a, store
}

func testConfig() config.Config {
	return config.Config{
		LiveMaxAudioFrameBytes: 1 << 20,
		ASRTimeout:             time.Second,
		LLMProviderName:        config.LLMProviderOpenAI,
		TTSProviderName:        config.TTSProviderOpenAI,
		OpenAIAPIKey:           "sk-test",
		TranscriptStore:        config.StoreMemory,
		LLMTimeout:             time.Minute,
		TTSTimeout:             time.Minute,
		BookingTimeout:         time.Minute,
	}
}

// withSession stamps a request with the session token and a request ID
// the way the middleware chain would.
func withSession(r *http.Request, token string) *http.Request {
	ctx := mw.WithRequestID(r.Context(), "req_test0000aa")
	if token != "" {
		ctx = mw.WithSession(ctx, token)
	}
	return r.WithContext(ctx)
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var out []sseEvent
	var cur sseEvent
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			cur.name = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			cur.data = strings.TrimPrefix(line, "data: ")
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	return out
}

func eventOf(events []sseEvent, name string) (sseEvent, bool) {
	for _, ev := range events {
		if ev.name == name {
			return ev, true
		}
	}
	return sseEvent{}, false
}

func deltasOf(events []sseEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.name != "delta" {
			continue
		}
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal([]byte(ev.data), &p)
		b.WriteString(p.Text)
	}
	return b.String()
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestReadyReportsIssues(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadyHandler{Config: config.Config{}}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("empty config: status = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	ReadyHandler{Config: testConfig()}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid config: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	rec = httptest.NewRecorder()
	ReadyHandler{Config: testConfig(), Lifecycle: lc}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining: status = %d, want 503", rec.Code)
	}
}

func newTurnsHandler() TurnsHandler {
	a, _ := newTestAgent()
	return TurnsHandler{Agent: a, Config: testConfig(), Logger: discardLogger()}
}

func TestTurnsEmptyTurnGreets(t *testing.T) {
	h := newTurnsHandler()

	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{}`)), testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	events := parseSSE(rec.Body.String())
	state, ok := eventOf(events, "state")
	if !ok || !strings.Contains(state.data, string(dialogue.StateGreeting)) {
		t.Fatalf("state event = %+v, want greeting", state)
	}
	if got := deltasOf(events); got != dialogue.Greeting() {
		t.Fatalf("deltas = %q, want greeting", got)
	}
	done, ok := eventOf(events, "done")
	if !ok {
		t.Fatalf("no done event")
	}
	var p struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal([]byte(done.data), &p)
	if p.Text != dialogue.Greeting() {
		t.Fatalf("done text = %q, want greeting", p.Text)
	}
	if _, ok := eventOf(events, "audio"); !ok {
		t.Fatalf("no audio event")
	}
}

func TestTurnsTextAdvancesDialogue(t *testing.T) {
	h := newTurnsHandler()

	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{"text":"I'd like to book a meeting"}`)), testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	events := parseSSE(rec.Body.String())
	state, _ := eventOf(events, "state")
	if !strings.Contains(state.data, string(dialogue.StateCollecting)) {
		t.Fatalf("state = %+v, want collecting", state)
	}
	done, _ := eventOf(events, "done")
	var p struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal([]byte(done.data), &p)
	if p.Text != dialogue.Ask(booking.FieldName) {
		t.Fatalf("done text = %q, want name question", p.Text)
	}
}

func multipartAudio(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	fw, err := mp.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mp.Close()
	return &buf, mp.FormDataContentType()
}

func TestTurnsAudioTranscribesFirst(t *testing.T) {
	a, _ := newTestAgent()
	h := TurnsHandler{Agent: a, STT: &fakeSTT{text: "book me a meeting"}, Config: testConfig(), Logger: discardLogger()}

	body, ct := multipartAudio(t, "turn.wav", []byte("riff-audio"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/turns", body), testToken)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	events := parseSSE(rec.Body.String())
	done, ok := eventOf(events, "done")
	if !ok {
		t.Fatalf("no done event, body: %s", rec.Body.String())
	}
	var p struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal([]byte(done.data), &p)
	if p.Text != dialogue.Ask(booking.FieldName) {
		t.Fatalf("done text = %q, want name question", p.Text)
	}
}

func TestTurnsRepromptsOnUnintelligibleAudio(t *testing.T) {
	a, _ := newTestAgent()
	sttErr := core.NewTranscriptionError(io.ErrUnexpectedEOF)
	h := TurnsHandler{Agent: a, STT: &fakeSTT{err: sttErr}, Config: testConfig(), Logger: discardLogger()}

	body, ct := multipartAudio(t, "turn.wav", []byte("static"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/turns", body), testToken)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	events := parseSSE(rec.Body.String())
	done, ok := eventOf(events, "done")
	if !ok {
		t.Fatalf("no done event, body: %s", rec.Body.String())
	}
	var p struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal([]byte(done.data), &p)
	if p.Text != dialogue.RepeatPlease() {
		t.Fatalf("done text = %q, want repeat prompt", p.Text)
	}
}

func TestTurnsRequiresSession(t *testing.T) {
	h := newTurnsHandler()

	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{}`)), "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTurnsRejectedWhileDraining(t *testing.T) {
	h := newTurnsHandler()
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h.Lifecycle = lc

	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{}`)), testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 529 {
		t.Fatalf("status = %d, want 529", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "draining") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestConversationsRequiresMatchingSession(t *testing.T) {
	a, store := newTestAgent()

	// Seed a conversation through the agent.
	reply, err := a.Turn(context.Background(), testToken, "hello")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	for range reply.Response.Text {
	}
	for range reply.Response.Audio {
	}
	reply.Response.Wait()
	<-reply.Recorded()

	h := ConversationsHandler{Store: store}

	req := withSession(httptest.NewRequest(http.MethodGet, "/v1/conversations/"+testToken, nil), testToken)
	req.SetPathValue("id", testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ConversationID string            `json:"conversation_id"`
		Turns          []transcript.Turn `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ConversationID != testToken || len(resp.Turns) != 2 {
		t.Fatalf("resp = %+v, want 2 turns", resp)
	}
	if resp.Turns[0].Role != transcript.RoleUser || resp.Turns[0].Content != "hello" {
		t.Fatalf("first turn = %+v", resp.Turns[0])
	}

	// A session reading another conversation sees not found.
	req = withSession(httptest.NewRequest(http.MethodGet, "/v1/conversations/"+testToken, nil), "sess_ffffffffffffffffffffffffffffffff")
	req.SetPathValue("id", testToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("mismatched session: status = %d, want 404", rec.Code)
	}
}

func TestTranscribePassthrough(t *testing.T) {
	h := TranscribeHandler{STT: &fakeSTT{text: "hello world"}, Config: testConfig()}

	body, ct := multipartAudio(t, "clip.mp3", []byte("mpeg-bytes"))
	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/transcribe", body), testToken)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Text != "hello world" {
		t.Fatalf("text = %q", resp.Text)
	}
}

func TestTranscribeRejectsMissingAudio(t *testing.T) {
	h := TranscribeHandler{STT: &fakeSTT{text: "x"}, Config: testConfig()}

	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	_ = mp.WriteField("note", "no audio here")
	_ = mp.Close()

	req := withSession(httptest.NewRequest(http.MethodPost, "/v1/transcribe", &buf), testToken)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type memCredsStore struct {
	creds *calendar.Credentials
}

func (m *memCredsStore) Load() (*calendar.Credentials, error) {
	if m.creds == nil {
		return nil, calendar.ErrNoCredentials
	}
	return m.creds, nil
}

func (m *memCredsStore) Save(creds *calendar.Credentials) error {
	m.creds = creds
	return nil
}

func (m *memCredsStore) Path() string { return "memory" }

func TestOAuthLoginRedirectsToConsent(t *testing.T) {
	flow := &calendar.OAuthFlow{
		ClientID:    "client-1",
		RedirectURI: "https://gateway.example/v1/oauth/google/callback",
	}
	h := OAuthHandler{Flow: flow, Store: &memCredsStore{}, Logger: discardLogger()}

	req := withSession(httptest.NewRequest(http.MethodGet, "/v1/oauth/google/login", nil), testToken)
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	q := loc.Query()
	if q.Get("client_id") != "client-1" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("consent query = %v", q)
	}

	var state, verifier string
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case oauthStateCookie:
			state = c.Value
		case oauthVerifierCookie:
			verifier = c.Value
		}
	}
	if state == "" || verifier == "" {
		t.Fatalf("state/verifier cookies not set")
	}
	if q.Get("state") != state {
		t.Fatalf("state in URL %q != cookie %q", q.Get("state"), state)
	}
}

func TestOAuthCallbackExchangesAndPersists(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "code-1" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
		})
	}))
	defer tokens.Close()

	flow := &calendar.OAuthFlow{
		ClientID:    "client-1",
		RedirectURI: "https://gateway.example/v1/oauth/google/callback",
		TokenURL:    tokens.URL,
	}
	store := &memCredsStore{}
	h := OAuthHandler{Flow: flow, Store: store, Logger: discardLogger()}

	req := withSession(httptest.NewRequest(http.MethodGet, "/v1/oauth/google/callback?state=st-1&code=code-1", nil), testToken)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st-1"})
	req.AddCookie(&http.Cookie{Name: oauthVerifierCookie, Value: "ver-1"})
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if store.creds == nil || store.creds.AccessToken != "at-1" || store.creds.RefreshToken != "rt-1" {
		t.Fatalf("credentials not persisted: %+v", store.creds)
	}
}

func TestOAuthCallbackRejectsStateMismatch(t *testing.T) {
	h := OAuthHandler{Flow: &calendar.OAuthFlow{ClientID: "c"}, Store: &memCredsStore{}}

	req := withSession(httptest.NewRequest(http.MethodGet, "/v1/oauth/google/callback?state=evil&code=code-1", nil), testToken)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st-1"})
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/nope", nil), ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var env struct {
		Error *core.Error `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error == nil || env.Error.Type != core.ErrNotFound {
		t.Fatalf("envelope = %+v", env)
	}
}
