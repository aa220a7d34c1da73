// Command google-login connects a Google Calendar account for the
// gateway's booking capability.
//
// Usage:
//
//	MEETLINE_GOOGLE_CLIENT_ID=... MEETLINE_GOOGLE_CLIENT_SECRET=... \
//	  go run ./cmd/google-login
//
// This opens a browser for Google OAuth consent and saves the resulting
// tokens to MEETLINE_GOOGLE_CREDENTIALS_FILE (or the default location
// under the home directory).
package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/meetline-ai/meetline/internal/dotenv"
	"github.com/meetline-ai/meetline/pkg/core/calendar"
)

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "google-login: %v\n", err)
		os.Exit(1)
	}

	flow := &calendar.OAuthFlow{
		ClientID:     strings.TrimSpace(os.Getenv("MEETLINE_GOOGLE_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("MEETLINE_GOOGLE_CLIENT_SECRET")),
		RedirectURI:  strings.TrimSpace(os.Getenv("MEETLINE_GOOGLE_REDIRECT_URI")),
	}
	if flow.ClientID == "" || flow.ClientSecret == "" {
		fmt.Fprintln(os.Stderr, "google-login: MEETLINE_GOOGLE_CLIENT_ID and MEETLINE_GOOGLE_CLIENT_SECRET must be set")
		os.Exit(1)
	}
	if flow.RedirectURI == "" {
		flow.RedirectURI = "http://127.0.0.1:8765/callback"
	}

	fmt.Println("Starting Google Calendar login...")
	fmt.Println()

	resultChan, authURL, err := calendar.StartLogin(flow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start login: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Opening browser for Google OAuth...")
	fmt.Println()
	fmt.Println("If the browser doesn't open, visit:")
	fmt.Println(authURL)
	fmt.Println()

	openBrowser(authURL)

	fmt.Println("Waiting for OAuth callback...")

	select {
	case result := <-resultChan:
		if result.Error != nil {
			fmt.Fprintf(os.Stderr, "OAuth failed: %v\n", result.Error)
			os.Exit(1)
		}

		store := calendar.NewFileCredentialsStore(strings.TrimSpace(os.Getenv("MEETLINE_GOOGLE_CREDENTIALS_FILE")))
		if err := store.Save(result.Credentials); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save credentials: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		fmt.Println("Success! Credentials saved.")
		fmt.Printf("Location: %s\n", store.Path())
		fmt.Printf("Expires: %s\n", result.Credentials.Expiry.Format(time.RFC3339))

	case <-time.After(5 * time.Minute):
		fmt.Fprintln(os.Stderr, "Timeout waiting for OAuth callback")
		os.Exit(1)
	}
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}
