package booking

import "context"

// Result is what a successful booking returns to the caller: a video
// meeting link and a calendar event link.
type Result struct {
	MeetLink  string `json:"meet_link"`
	EventLink string `json:"event_link"`
	EventID   string `json:"event_id,omitempty"`
}

// Booker commits a completed snapshot to the calendar backend. The
// snapshot passed in has defaults applied and all required fields set;
// implementations do not re-validate slot completeness.
type Booker interface {
	CreateEvent(ctx context.Context, snap Snapshot) (Result, error)
}
