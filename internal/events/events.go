// Package events carries operator-facing notifications out of the core.
//
// Core components report what they observe through a Sink; hosts decide
// where those notifications go (structured log, admin history, terminal
// display). Sinks must not block and must be safe for concurrent use.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Event is one severity-tagged notification.
type Event struct {
	At        time.Time     `json:"at"`
	Level     zerolog.Level `json:"level"`
	Component string        `json:"component"`
	Message   string        `json:"message"`
	Producer  string        `json:"producer,omitempty"`
	Round     uint64        `json:"round,omitempty"`
}

type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans one event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Log writes events to a zerolog logger.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Emit(e Event) {
	ev := l.Logger.WithLevel(e.Level).Str("component", e.Component)
	if e.Producer != "" {
		ev = ev.Str("producer", e.Producer)
	}
	if e.Round != 0 {
		ev = ev.Uint64("round", e.Round)
	}
	ev.Msg(e.Message)
}

// MinLevel forwards events at or above Level to Sink.
type MinLevel struct {
	Level zerolog.Level
	Sink  Sink
}

func (m MinLevel) Emit(e Event) {
	if m.Sink == nil || e.Level < m.Level {
		return
	}
	m.Sink.Emit(e)
}

// Ring keeps the most recent events in a bounded buffer.
type Ring struct {
	mu    sync.Mutex
	items []Event
	next  int
	full  bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 256
	}
	return &Ring{items: make([]Event, size)}
}

func (r *Ring) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = e
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit events, oldest first. limit <= 0 returns all.
func (r *Ring) Recent(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ordered []Event
	if r.full {
		ordered = make([]Event, 0, len(r.items))
		ordered = append(ordered, r.items[r.next:]...)
		ordered = append(ordered, r.items[:r.next]...)
	} else {
		ordered = make([]Event, r.next)
		copy(ordered, r.items[:r.next])
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Channel forwards events to a buffered channel and drops on full.
type Channel struct {
	ch      chan Event
	dropped atomic.Uint64
}

func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 128
	}
	return &Channel{ch: make(chan Event, buffer)}
}

func (c *Channel) Emit(e Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

func (c *Channel) C() <-chan Event {
	return c.ch
}

func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}
