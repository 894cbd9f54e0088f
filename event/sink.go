package event

import (
	"context"
	"sync"
)

// Sink receives events in delivery order.
type Sink interface {
	Accept(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Accept calls f(ev).
func (f SinkFunc) Accept(ev Event) { f(ev) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Accept(ev Event) {
	for _, s := range m {
		s.Accept(ev)
	}
}

// Multi returns a Sink that forwards each event to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// ChannelSink forwards events to a channel. Sends block until the consumer
// receives or ctx is done, so no event is silently dropped while the
// consumer is alive.
type ChannelSink struct {
	ctx context.Context
	ch  chan<- Event
}

// NewChannelSink creates a ChannelSink writing to ch.
func NewChannelSink(ctx context.Context, ch chan<- Event) *ChannelSink {
	return &ChannelSink{ctx: ctx, ch: ch}
}

// Accept sends ev to the channel.
func (s *ChannelSink) Accept(ev Event) {
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

// NewChannel creates a buffered event channel with standard capacity.
func NewChannel() chan Event {
	return make(chan Event, 100)
}

// Collector records every event it accepts. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Accept records ev.
func (c *Collector) Accept(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the recorded event types in order.
func (c *Collector) Types() []Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Type, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

// Reset forgets all recorded events.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
