package lifecycle

import "sync/atomic"

// Lifecycle holds the process drain flag shared by the readiness handler
// and the live-session tracker during graceful shutdown. A nil receiver
// reads as not draining.
type Lifecycle struct {
	draining atomic.Bool
}

// SetDraining flips the drain flag. Once set, readiness turns negative and
// new streams are refused while in-flight conversations finish.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
