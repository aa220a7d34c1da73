package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/booking"
)

// DefaultBaseURL is the Google Calendar v3 API endpoint.
const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Client creates calendar events with Meet conferences attached. It
// implements booking.Booker.
type Client struct {
	tokens     TokenSource
	baseURL    string
	calendarID string
	location   *time.Location
	httpClient *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom API endpoint (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithCalendarID targets a calendar other than "primary".
func WithCalendarID(id string) ClientOption {
	return func(c *Client) {
		if id != "" {
			c.calendarID = id
		}
	}
}

// WithLocation sets the timezone written into event start/end times.
func WithLocation(loc *time.Location) ClientOption {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a calendar client authorized by tokens.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		tokens:     tokens,
		baseURL:    DefaultBaseURL,
		calendarID: "primary",
		location:   time.UTC,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventAttendee struct {
	Email string `json:"email"`
}

type conferenceSolutionKey struct {
	Type string `json:"type"`
}

type conferenceCreateRequest struct {
	RequestID             string                `json:"requestId"`
	ConferenceSolutionKey conferenceSolutionKey `json:"conferenceSolutionKey"`
}

type conferenceData struct {
	CreateRequest *conferenceCreateRequest `json:"createRequest,omitempty"`
	EntryPoints   []struct {
		EntryPointType string `json:"entryPointType"`
		URI            string `json:"uri"`
	} `json:"entryPoints,omitempty"`
}

type eventBody struct {
	Summary        string          `json:"summary"`
	Description    string          `json:"description,omitempty"`
	Start          eventTime       `json:"start"`
	End            eventTime       `json:"end"`
	Attendees      []eventAttendee `json:"attendees,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
}

type eventResponse struct {
	ID             string          `json:"id"`
	HTMLLink       string          `json:"htmlLink"`
	HangoutLink    string          `json:"hangoutLink"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
}

// CreateEvent inserts one event with a Meet conference and invites the
// attendee. The snapshot arrives with defaults applied; required fields
// are set.
func (c *Client) CreateEvent(ctx context.Context, snap booking.Snapshot) (booking.Result, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return booking.Result{}, core.NewBookingError(err)
	}

	start := snap.DateTime.In(c.location)
	end := start.Add(time.Duration(*snap.DurationMinutes) * time.Minute)

	body := eventBody{
		Summary:     *snap.Title,
		Description: eventDescription(snap),
		Start:       eventTime{DateTime: start.Format(time.RFC3339), TimeZone: c.location.String()},
		End:         eventTime{DateTime: end.Format(time.RFC3339), TimeZone: c.location.String()},
		Attendees:   []eventAttendee{{Email: *snap.Email}},
		ConferenceData: &conferenceData{
			CreateRequest: &conferenceCreateRequest{
				RequestID:             uuid.NewString(),
				ConferenceSolutionKey: conferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return booking.Result{}, core.NewBookingError(fmt.Errorf("marshal event: %w", err))
	}

	url := fmt.Sprintf("%s/calendars/%s/events?conferenceDataVersion=1&sendUpdates=all",
		strings.TrimRight(c.baseURL, "/"), c.calendarID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return booking.Result{}, core.NewBookingError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return booking.Result{}, core.NewBookingError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return booking.Result{}, core.NewBookingError(
			fmt.Errorf("calendar insert: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	var event eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return booking.Result{}, core.NewBookingError(fmt.Errorf("decode event: %w", err))
	}

	return booking.Result{
		MeetLink:  meetLink(event),
		EventLink: event.HTMLLink,
		EventID:   event.ID,
	}, nil
}

// eventDescription carries the caller's name and phone, which have no
// structured slot on the event itself.
func eventDescription(snap booking.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Booked by the Meetline voice agent for %s.", *snap.Name)
	if snap.Phone != nil {
		fmt.Fprintf(&b, " Phone: %s.", *snap.Phone)
	}
	return b.String()
}

// meetLink prefers hangoutLink and falls back to the conference video
// entry point.
func meetLink(event eventResponse) string {
	if event.HangoutLink != "" {
		return event.HangoutLink
	}
	if event.ConferenceData != nil {
		for _, ep := range event.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.URI != "" {
				return ep.URI
			}
		}
	}
	return ""
}
