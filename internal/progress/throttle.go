package progress

import "time"

// Throttle admits at most one event per interval. The first event is always
// admitted. A Throttle belongs to a single task and is not safe for
// concurrent use.
type Throttle struct {
	interval time.Duration
	last     time.Time
}

// NewThrottle returns a Throttle with the given minimum spacing.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether an event at now may be emitted and, if so, records
// now as the last emission.
func (t *Throttle) Allow(now time.Time) bool {
	if !t.Ready(now) {
		return false
	}
	t.last = now
	return true
}

// Ready reports whether an event at now would be admitted, without
// recording it.
func (t *Throttle) Ready(now time.Time) bool {
	return t.last.IsZero() || now.Sub(t.last) >= t.interval
}

// Mark records now as the last emission.
func (t *Throttle) Mark(now time.Time) {
	t.last = now
}

// Last returns the time of the last admitted event.
func (t *Throttle) Last() time.Time {
	return t.last
}
