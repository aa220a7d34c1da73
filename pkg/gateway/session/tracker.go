package session

import (
	"context"
	"sync"
)

// Handle lets the gateway reach into a live session from the outside:
// Notify pushes an advisory error frame, Close tears the session down.
type Handle struct {
	Close  func()
	Notify func(code, message string) error
}

// Tracker indexes live sessions by conversation so shutdown can warn and
// then close every open socket, and Wait can block until they drain.
type Tracker struct {
	mu   sync.Mutex
	live map[string]*tracked
	wg   sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{live: make(map[string]*tracked)}
}

// Register records a session under its conversation ID. Registering a
// second session for the same conversation closes the first: one socket
// per conversation.
func (t *Tracker) Register(conversationID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &tracked{handle: h}

	t.mu.Lock()
	if t.live == nil {
		t.live = make(map[string]*tracked)
	}
	old := t.live[conversationID]
	t.live[conversationID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.handle.Close != nil {
			old.handle.Close()
		}
		t.unregister(conversationID, old)
	}

	return func() { t.unregister(conversationID, entry) }
}

func (t *Tracker) unregister(conversationID string, entry *tracked) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.live != nil && t.live[conversationID] == entry {
			delete(t.live, conversationID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// NotifyAll pushes an advisory frame to every live session. Used by the
// drain path to tell clients the gateway is going away.
func (t *Tracker) NotifyAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var notifies []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.live {
		if entry == nil || entry.handle.Notify == nil {
			continue
		}
		notifies = append(notifies, entry.handle.Notify)
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		_ = notify(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CloseAll() (closed int) {
	if t == nil {
		return 0
	}

	var closes []func()
	t.mu.Lock()
	for _, entry := range t.live {
		if entry == nil || entry.handle.Close == nil {
			continue
		}
		closes = append(closes, entry.handle.Close)
	}
	t.mu.Unlock()

	for _, close := range closes {
		close()
		closed++
	}
	return closed
}

// Wait blocks until every registered session has unregistered or ctx
// expires. Returns false on timeout.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
