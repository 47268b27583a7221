package events

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Emitter stamps events for one component before handing them to a Sink.
type Emitter struct {
	sink      Sink
	component string
	now       func() time.Time
}

func NewEmitter(sink Sink, component string) Emitter {
	if sink == nil {
		sink = Discard
	}
	return Emitter{sink: sink, component: component, now: time.Now}
}

func (e Emitter) emit(level zerolog.Level, producer string, round uint64, format string, args ...any) {
	if e.sink == nil {
		return
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	e.sink.Emit(Event{
		At:        now(),
		Level:     level,
		Component: e.component,
		Message:   fmt.Sprintf(format, args...),
		Producer:  producer,
		Round:     round,
	})
}

func (e Emitter) Debugf(format string, args ...any) {
	e.emit(zerolog.DebugLevel, "", 0, format, args...)
}

func (e Emitter) Infof(format string, args ...any) {
	e.emit(zerolog.InfoLevel, "", 0, format, args...)
}

func (e Emitter) Warnf(format string, args ...any) {
	e.emit(zerolog.WarnLevel, "", 0, format, args...)
}

func (e Emitter) Errorf(format string, args ...any) {
	e.emit(zerolog.ErrorLevel, "", 0, format, args...)
}

// Producer scopes follow-up events to one producer key.
func (e Emitter) Producer(key string) ProducerEmitter {
	return ProducerEmitter{Emitter: e, key: key}
}

// Round emits an event tagged with a round sequence.
func (e Emitter) Round(level zerolog.Level, round uint64, format string, args ...any) {
	e.emit(level, "", round, format, args...)
}

type ProducerEmitter struct {
	Emitter
	key string
}

func (p ProducerEmitter) Debugf(format string, args ...any) {
	p.emit(zerolog.DebugLevel, p.key, 0, format, args...)
}

func (p ProducerEmitter) Infof(format string, args ...any) {
	p.emit(zerolog.InfoLevel, p.key, 0, format, args...)
}

func (p ProducerEmitter) Warnf(format string, args ...any) {
	p.emit(zerolog.WarnLevel, p.key, 0, format, args...)
}

func (p ProducerEmitter) Errorf(format string, args ...any) {
	p.emit(zerolog.ErrorLevel, p.key, 0, format, args...)
}
