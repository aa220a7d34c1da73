// Package calendar commits confirmed bookings to Google Calendar and
// owns the OAuth credentials that authorize it.
package calendar

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ErrNoCredentials indicates that no credentials file was found.
var ErrNoCredentials = errors.New("calendar: no credentials found, run google-login first")

// ErrCredentialsExpired indicates that the refresh token is no longer valid.
var ErrCredentialsExpired = errors.New("calendar: credentials expired, re-run google-login")

// DefaultCredentialsPath is the default credentials file location,
// relative to the user's home directory.
const DefaultCredentialsPath = ".config/meetline/google-credentials.json"

// refreshWindow is how early a token is refreshed before its expiry.
const refreshWindow = time.Minute

// Credentials holds the Google OAuth tokens for the calendar scope.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// NeedsRefresh reports whether the access token should be refreshed
// before use. Tokens are refreshed inside the early-refresh window so an
// in-flight booking never races expiry.
func (c *Credentials) NeedsRefresh() bool {
	return time.Now().After(c.Expiry.Add(-refreshWindow))
}

// CredentialsStore manages credential persistence.
type CredentialsStore interface {
	Load() (*Credentials, error)
	Save(creds *Credentials) error
	Path() string
}

// FileCredentialsStore implements CredentialsStore using a JSON file.
type FileCredentialsStore struct {
	path string
}

// NewFileCredentialsStore creates a file-based credentials store. An
// empty path selects the default location.
func NewFileCredentialsStore(path string) *FileCredentialsStore {
	if path == "" {
		path = DefaultCredentialsFilePath()
	}
	return &FileCredentialsStore{path: path}
}

// DefaultCredentialsFilePath returns the default credentials file path.
func DefaultCredentialsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultCredentialsPath
	}
	return filepath.Join(home, DefaultCredentialsPath)
}

// Path returns the path to the credentials file.
func (s *FileCredentialsStore) Path() string {
	return s.path
}

// Load retrieves credentials from the JSON file.
func (s *FileCredentialsStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Save persists credentials to the JSON file.
func (s *FileCredentialsStore) Save(creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}
