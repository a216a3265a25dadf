package jobq

import (
	"sync/atomic"
	"time"
)

// DefaultAttachWindow is how recent a poll must be for the executor to
// count as attached.
const DefaultAttachWindow = 10 * time.Second

// Liveness remembers when the executor last polled. It only detects gross
// disconnection; a false IsAttached is advisory.
type Liveness struct {
	last   atomic.Int64 // unix nanoseconds, 0 = never
	window time.Duration
	now    func() time.Time
}

// NewLiveness creates a tracker that has never seen a poll.
func NewLiveness(opts ...Option) *Liveness {
	o := buildOptions(opts)
	return &Liveness{window: o.attachWindow, now: o.now}
}

// RecordPoll stamps the current time as the last poll.
func (l *Liveness) RecordPoll() {
	l.last.Store(l.now().UnixNano())
}

// IsAttached reports whether a poll happened within the window.
func (l *Liveness) IsAttached() bool {
	last, ok := l.LastPoll()
	return ok && l.now().Sub(last) < l.window
}

// LastPoll returns the time of the last poll, if any.
func (l *Liveness) LastPoll() (time.Time, bool) {
	n := l.last.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// Window returns the freshness window.
func (l *Liveness) Window() time.Duration { return l.window }
