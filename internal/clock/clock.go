// Package clock provides an injectable time source so polling loops and
// rate limiters can be tested without sleeping.
//
// Production code takes a Clock and is handed Real(); tests hand it a
// FakeClock and drive time with Advance, or use Stepping so every wait
// completes immediately by moving the fake time forward.
package clock

import "time"

// Clock abstracts the time operations used by the relay.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
