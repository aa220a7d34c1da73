// Package agent ties the transcript store, slot extraction, the dialogue
// machine, and the streaming coordinator into a per-turn pipeline. One
// call to Turn takes a finalized user utterance and produces a streaming
// reply plus any state change, booking included.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/booking"
	"github.com/meetline-ai/meetline/pkg/core/dialogue"
	"github.com/meetline-ai/meetline/pkg/core/extract"
	"github.com/meetline-ai/meetline/pkg/core/live"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
)

// StreamGenerator is the language model capability used to speak replies.
type StreamGenerator interface {
	Stream(ctx context.Context, system, user string) (live.TokenStream, error)
}

// Config holds agent tuning.
type Config struct {
	// Location resolves relative datetimes and formats recaps.
	Location *time.Location
	// BookingTimeout bounds each calendar attempt. <= 0 selects the
	// default.
	BookingTimeout time.Duration
	Logger         *slog.Logger
}

const defaultBookingTimeout = 15 * time.Second

// recordTimeout bounds the transcript append that runs after a reply has
// flushed, possibly after the turn context is already cancelled.
const recordTimeout = 5 * time.Second

// Agent runs the booking dialogue. All conversation state other than the
// transcript is an in-memory cache; it can always be rebuilt from the
// stored turns.
type Agent struct {
	store  transcript.Store
	ext    *extract.Extractor
	llm    StreamGenerator
	co     *live.Coordinator
	booker booking.Booker

	loc            *time.Location
	bookingTimeout time.Duration
	log            *slog.Logger

	mu    sync.Mutex
	convs map[string]*conversation
}

// conversation is the cached dialogue context for one conversation. Its
// mutex is held for the full life of a reply, so turns within a
// conversation are strictly sequential.
type conversation struct {
	mu      sync.Mutex
	loaded  bool
	state   dialogue.State
	snap    booking.Snapshot
	recapFP string
}

// New creates an agent. llm may be nil, in which case every reply is
// spoken from the planned text verbatim.
func New(cfg Config, store transcript.Store, ext *extract.Extractor, llm StreamGenerator, co *live.Coordinator, booker booking.Booker) *Agent {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.BookingTimeout
	if timeout <= 0 {
		timeout = defaultBookingTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		store:          store,
		ext:            ext,
		llm:            llm,
		co:             co,
		booker:         booker,
		loc:            loc,
		bookingTimeout: timeout,
		log:            log,
		convs:          make(map[string]*conversation),
	}
}

// Reply is one in-flight agent response.
type Reply struct {
	// State is the dialogue state entered by this turn.
	State dialogue.State
	// Response streams the reply text and audio. Callers must drain both
	// channels.
	Response *live.Response
	// Booked carries the calendar links when this reply announces a
	// completed booking.
	Booked *booking.Result
	// Err is a non-fatal capability failure (extraction, booking). The
	// reply still streams; the error is surfaced so callers can report it.
	Err error

	recorded chan struct{}
}

// Recorded returns a channel closed once the agent's side of this reply
// has been written to the transcript. The next turn for the conversation
// is not admitted before that happens.
func (r *Reply) Recorded() <-chan struct{} { return r.recorded }

// Greet speaks the opening line of a brand-new conversation.
func (a *Agent) Greet(ctx context.Context, conversationID string) (*Reply, error) {
	conv := a.conversation(conversationID)
	conv.mu.Lock()

	if err := a.ensureLoaded(ctx, conv, conversationID); err != nil {
		conv.mu.Unlock()
		return nil, err
	}
	turns, err := a.store.Turns(ctx, conversationID)
	if err != nil {
		conv.mu.Unlock()
		return nil, err
	}
	if len(turns) > 0 {
		conv.mu.Unlock()
		return nil, core.NewInvalidRequestError("conversation already started")
	}

	resp := a.co.Stream(ctx, live.NewStaticStream(dialogue.Greeting()))
	return a.finish(conv, conversationID, dialogue.StateGreeting, resp, "", nil, nil), nil
}

// Reprompt asks the caller to repeat themselves after their utterance
// could not be transcribed. No user turn is appended and the dialogue
// state does not move.
func (a *Agent) Reprompt(ctx context.Context, conversationID string) (*Reply, error) {
	conv := a.conversation(conversationID)
	conv.mu.Lock()

	if err := a.ensureLoaded(ctx, conv, conversationID); err != nil {
		conv.mu.Unlock()
		return nil, err
	}

	resp := a.co.Stream(ctx, live.NewStaticStream(dialogue.RepeatPlease()))
	return a.finish(conv, conversationID, conv.state, resp, "", nil, nil), nil
}

// Turn processes one finalized user utterance and returns the streaming
// reply. Turns within a conversation run one at a time; a call blocks
// until the previous reply for the same conversation has fully flushed
// and been recorded.
func (a *Agent) Turn(ctx context.Context, conversationID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.NewInvalidRequestError("turn text must not be empty")
	}

	conv := a.conversation(conversationID)
	conv.mu.Lock()

	if err := a.ensureLoaded(ctx, conv, conversationID); err != nil {
		conv.mu.Unlock()
		return nil, err
	}

	userTurn := transcript.Turn{Role: transcript.RoleUser, Content: text, Timestamp: time.Now().UTC()}
	if err := a.store.Append(ctx, conversationID, userTurn); err != nil {
		conv.mu.Unlock()
		return nil, err
	}
	turns, err := a.store.Turns(ctx, conversationID)
	if err != nil {
		conv.mu.Unlock()
		return nil, err
	}

	// Terminal states freeze the slots: nothing said in DONE or FAILED
	// may change what was (or will be, on a retry) booked.
	var replyErr error
	snap := conv.snap
	if !conv.state.Terminal() {
		var err error
		snap, err = a.ext.Extract(ctx, turns, conv.snap)
		if err != nil {
			// The prior snapshot stays in effect; the dialogue carries on.
			replyErr = err
			a.log.Warn("slot extraction failed, keeping prior snapshot",
				"conversation", conversationID, "error", err)
		}
		conv.snap = snap
	}

	intent := dialogue.Classify(text)
	dec := dialogue.Next(conv.state, snap, intent, conv.recapFP)
	conv.state = dec.State

	a.log.Info("turn",
		"conversation", conversationID,
		"intent", string(intent),
		"state", string(dec.State),
		"action", string(dec.Action.Type),
		"slots", snap.Describe())

	switch dec.Action.Type {
	case dialogue.ActionAsk:
		planned := dialogue.Ask(dec.Action.Field)
		resp := a.speakGuided(ctx, dec.State, snap, text, planned)
		return a.finish(conv, conversationID, dec.State, resp, "", nil, replyErr), nil

	case dialogue.ActionRecap:
		planned := dialogue.Recap(snap, a.loc)
		resp := a.speakGuided(ctx, dec.State, snap, text, planned)
		// The fingerprint arms only after the recap actually reaches the
		// caller; an unheard recap must never admit a booking.
		return a.finish(conv, conversationID, dec.State, resp, snap.Fingerprint(), nil, replyErr), nil

	case dialogue.ActionBook:
		return a.bookAndAnnounce(ctx, conv, conversationID, snap, replyErr)

	default:
		// Terminal states answer with a scripted nudge.
		planned := dialogue.RetryHint()
		if dec.State == dialogue.StateDone {
			planned = dialogue.AlreadyBooked()
		}
		resp := a.co.Stream(ctx, live.NewStaticStream(planned))
		return a.finish(conv, conversationID, dec.State, resp, "", nil, replyErr), nil
	}
}

// bookAndAnnounce creates the calendar event, retrying once, and speaks
// the outcome. Terminal announcements are scripted so their wording stays
// recognizable on resume.
func (a *Agent) bookAndAnnounce(ctx context.Context, conv *conversation, conversationID string, snap booking.Snapshot, replyErr error) (*Reply, error) {
	res, err := a.book(ctx, conversationID, snap)
	after := dialogue.AfterBooking(err)
	conv.state = after.State

	if err == nil {
		resp := a.co.Stream(ctx, live.NewStaticStream(dialogue.Booked(res)))
		booked := res
		return a.finish(conv, conversationID, after.State, resp, "", &booked, replyErr), nil
	}

	// Another try must go through a fresh confirmation.
	conv.recapFP = ""
	resp := a.co.Stream(ctx, live.NewStaticStream(dialogue.BookingFailed()))
	return a.finish(conv, conversationID, after.State, resp, "", nil, err), nil
}

// book runs up to two attempts against the calendar capability.
func (a *Agent) book(ctx context.Context, conversationID string, snap booking.Snapshot) (booking.Result, error) {
	filled := snap.WithDefaults()
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		bctx, cancel := context.WithTimeout(ctx, a.bookingTimeout)
		res, err := a.booker.CreateEvent(bctx, filled)
		cancel()
		if err == nil {
			a.log.Info("meeting booked",
				"conversation", conversationID,
				"attempt", attempt,
				"event_link", res.EventLink)
			return res, nil
		}
		lastErr = err
		a.log.Warn("booking attempt failed",
			"conversation", conversationID,
			"attempt", attempt,
			"error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return booking.Result{}, core.NewBookingError(lastErr)
}

// finish spawns the goroutine that records the flushed reply text and
// releases the conversation for the next turn. It owns conv.mu.
func (a *Agent) finish(conv *conversation, conversationID string, state dialogue.State, resp *live.Response, recapFP string, booked *booking.Result, replyErr error) *Reply {
	reply := &Reply{
		State:    state,
		Response: resp,
		Booked:   booked,
		Err:      replyErr,
		recorded: make(chan struct{}),
	}

	go func() {
		defer close(reply.recorded)
		defer conv.mu.Unlock()

		outcome := resp.Wait()
		if recapFP != "" && outcome.Text != "" && outcome.Err == nil && !outcome.Cancelled {
			conv.recapFP = recapFP
		}
		if outcome.Text == "" {
			return
		}

		// The turn context may already be gone (barge-in); what was
		// flushed is still part of the conversation record.
		rctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		turn := transcript.Turn{Role: transcript.RoleAgent, Content: outcome.Text, Timestamp: time.Now().UTC()}
		if err := a.store.Append(rctx, conversationID, turn); err != nil {
			a.log.Error("agent turn not recorded",
				"conversation", conversationID, "error", err)
		}
	}()

	return reply
}

// Release drops the cached context for a conversation. Safe once its
// replies have completed; the next turn rebuilds the context from the
// transcript.
func (a *Agent) Release(conversationID string) {
	a.mu.Lock()
	delete(a.convs, conversationID)
	a.mu.Unlock()
}

func (a *Agent) conversation(id string) *conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.convs[id]
	if !ok {
		c = &conversation{state: dialogue.StateGreeting}
		a.convs[id] = c
	}
	return c
}

// ensureLoaded rebuilds the dialogue context from the transcript the
// first time a conversation is touched by this process.
func (a *Agent) ensureLoaded(ctx context.Context, conv *conversation, conversationID string) error {
	if conv.loaded {
		return nil
	}
	turns, err := a.store.Turns(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(turns) > 0 {
		snap, err := a.ext.Extract(ctx, turns, booking.Snapshot{})
		if err != nil {
			a.log.Warn("resume extraction failed, starting from an empty snapshot",
				"conversation", conversationID, "error", err)
		}
		conv.snap = snap
		conv.state = dialogue.Resume(turns, snap)
		a.log.Info("conversation resumed",
			"conversation", conversationID,
			"turns", len(turns),
			"state", string(conv.state))
	}
	conv.loaded = true
	return nil
}
