package progress

import "time"

// Reporter throttles a job's status emissions: a message goes out only when
// its text differs from the previous one and at least interval has elapsed.
// Milestone messages can bypass the interval with Force.
type Reporter struct {
	ch       *Channel
	interval time.Duration
	lastText string
	lastAt   time.Time
	now      func() time.Time
}

// NewReporter wraps a Channel with the change/interval throttle.
func NewReporter(ch *Channel, interval time.Duration) *Reporter {
	return &Reporter{
		ch:       ch,
		interval: interval,
		now:      time.Now,
	}
}

// Report emits text subject to the throttle.
func (r *Reporter) Report(text string) {
	if r == nil || text == "" || text == r.lastText {
		return
	}
	now := r.now()
	if r.interval > 0 && !r.lastAt.IsZero() && now.Sub(r.lastAt) < r.interval {
		return
	}
	r.emit(text, now)
}

// Force emits text immediately as long as it differs from the last one.
// Used for stage transitions that must not be swallowed by the throttle.
func (r *Reporter) Force(text string) {
	if r == nil || text == "" || text == r.lastText {
		return
	}
	r.emit(text, r.now())
}

func (r *Reporter) emit(text string, now time.Time) {
	r.ch.Emit(text)
	r.lastText = text
	r.lastAt = now
}
