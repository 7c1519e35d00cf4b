package protocol

import (
	"context"
	"sync"
)

// Collector is a Sink that records every event. It can be told to fail after
// a number of successful sends, which simulates a client disconnecting
// mid-stream.
type Collector struct {
	mu     sync.Mutex
	events []Event

	// FailAfter, when positive, makes every send after the first FailAfter
	// return Err.
	FailAfter int

	// Err is returned once FailAfter sends have succeeded.
	Err error
}

// Send implements [Sink].
func (c *Collector) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailAfter > 0 && len(c.events) >= c.FailAfter {
		return c.Err
	}
	c.events = append(c.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the type of every recorded event in order.
func (c *Collector) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}
