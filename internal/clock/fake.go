package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only through Advance,
// or on every After call when created with Stepping.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu       sync.Mutex
	current  time.Time
	waiters  []*fakeWaiter
	stepping bool
	changed  *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Stepping returns a FakeClock whose After jumps the clock forward by d and
// fires at once, so a loop of waits runs to completion in zero real time
// while still observing the elapsed fake time.
func Stepping(initial time.Time) *FakeClock {
	c := Fake(initial)
	c.stepping = true
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires once the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	if c.stepping {
		c.current = c.current.Add(d)
		c.fireLocked()
		ch <- c.current
		return ch
	}

	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.current.Add(d), channel: ch})
	c.changed.Broadcast()
	return ch
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has passed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireLocked()
}

// Pending returns the number of unfired waiters.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// WaitForWaiters blocks until at least n waiters are registered.
func (c *FakeClock) WaitForWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}

func (c *FakeClock) fireLocked() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.current) {
			w.channel <- c.current
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}
