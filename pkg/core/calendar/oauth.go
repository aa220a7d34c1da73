package calendar

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// GoogleAuthURL is the Google OAuth authorization endpoint.
	GoogleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

	// GoogleTokenURL is the Google OAuth token endpoint.
	GoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// Scopes are the OAuth scopes required for creating calendar events.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar.events",
}

// OAuthFlow drives the Google authorization-code flow with PKCE for the
// calendar scope.
type OAuthFlow struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// HTTPClient is used for token calls; nil selects a default.
	HTTPClient *http.Client

	// AuthURL and TokenURL override the Google endpoints for testing.
	AuthURL  string
	TokenURL string
}

func (f *OAuthFlow) client() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (f *OAuthFlow) authURL() string {
	if f.AuthURL != "" {
		return f.AuthURL
	}
	return GoogleAuthURL
}

func (f *OAuthFlow) tokenURL() string {
	if f.TokenURL != "" {
		return f.TokenURL
	}
	return GoogleTokenURL
}

// NewPKCE creates a code verifier and its S256 challenge.
func NewPKCE() (verifier, challenge string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	h := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(h[:])
	return verifier, challenge, nil
}

// NewState creates an opaque CSRF state token.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthorizeURL builds the consent URL for one login attempt.
func (f *OAuthFlow) AuthorizeURL(state, challenge string) string {
	u, _ := url.Parse(f.authURL())
	q := u.Query()
	q.Set("client_id", f.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", f.RedirectURI)
	q.Set("scope", strings.Join(Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	u.RawQuery = q.Encode()
	return u.String()
}

// Exchange trades an authorization code for credentials.
func (f *OAuthFlow) Exchange(ctx context.Context, code, verifier string) (*Credentials, error) {
	data := url.Values{}
	data.Set("client_id", f.ClientID)
	data.Set("client_secret", f.ClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", f.RedirectURI)
	data.Set("code_verifier", verifier)

	result, err := f.postToken(ctx, data)
	if err != nil {
		return nil, err
	}
	if result.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token received - ensure offline access was requested")
	}
	return &Credentials{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

// Refresh replaces the access token using the stored refresh token.
func (f *OAuthFlow) Refresh(ctx context.Context, creds *Credentials) error {
	if creds.RefreshToken == "" {
		return ErrCredentialsExpired
	}

	data := url.Values{}
	data.Set("client_id", f.ClientID)
	data.Set("client_secret", f.ClientSecret)
	data.Set("refresh_token", creds.RefreshToken)
	data.Set("grant_type", "refresh_token")

	result, err := f.postToken(ctx, data)
	if err != nil {
		return err
	}
	creds.AccessToken = result.AccessToken
	creds.Expiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (f *OAuthFlow) postToken(ctx context.Context, data url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error == "invalid_grant" {
			return nil, ErrCredentialsExpired
		}
		return nil, fmt.Errorf("token request failed: %s", resp.Status)
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TokenSource provides valid access tokens. Tests inject a static one so
// no flow or credentials file is required.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token forever.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// RefreshingTokenSource serves tokens from a credentials store and
// refreshes them through the flow when they near expiry.
type RefreshingTokenSource struct {
	flow  *OAuthFlow
	store CredentialsStore

	mu    sync.Mutex
	creds *Credentials
}

// NewRefreshingTokenSource creates a token source backed by store.
func NewRefreshingTokenSource(flow *OAuthFlow, store CredentialsStore) *RefreshingTokenSource {
	return &RefreshingTokenSource{flow: flow, store: store}
}

// Token returns a valid access token, refreshing and re-persisting the
// credentials when needed.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		creds, err := s.store.Load()
		if err != nil {
			return "", err
		}
		s.creds = creds
	}

	if s.creds.NeedsRefresh() {
		if err := s.flow.Refresh(ctx, s.creds); err != nil {
			return "", err
		}
		// A failed save is not fatal; the refreshed token is still valid.
		_ = s.store.Save(s.creds)
	}
	return s.creds.AccessToken, nil
}
