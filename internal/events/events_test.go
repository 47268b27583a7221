package events

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/quorumline/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestRingKeepsMostRecent(t *testing.T) {
	testlog.Start(t)
	r := NewRing(3)
	if got := r.Recent(0); len(got) != 0 {
		t.Fatalf("expected empty ring, got %d", len(got))
	}
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		r.Emit(Event{Message: msg})
	}
	got := r.Recent(0)
	if len(got) != 3 || got[0].Message != "c" || got[2].Message != "e" {
		t.Fatalf("unexpected ring contents: %+v", got)
	}
	last := r.Recent(2)
	if len(last) != 2 || last[0].Message != "d" || last[1].Message != "e" {
		t.Fatalf("unexpected limited contents: %+v", last)
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	testlog.Start(t)
	c := NewChannel(1)
	c.Emit(Event{Message: "kept"})
	c.Emit(Event{Message: "dropped"})
	if c.Dropped() != 1 {
		t.Fatalf("expected one drop, got %d", c.Dropped())
	}
	got := <-c.C()
	if got.Message != "kept" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestEmitterStampsComponentAndProducer(t *testing.T) {
	testlog.Start(t)
	var mu sync.Mutex
	var seen []Event
	sink := SinkFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
	})
	em := NewEmitter(sink, "producer")
	em.Producer("10.0.0.1:7001").Warnf("dial failed attempt=%d", 2)
	em.Round(zerolog.InfoLevel, 7, "round released")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected two events, got %d", len(seen))
	}
	if seen[0].Component != "producer" || seen[0].Producer != "10.0.0.1:7001" || seen[0].Level != zerolog.WarnLevel {
		t.Fatalf("unexpected producer event: %+v", seen[0])
	}
	if seen[0].Message != "dial failed attempt=2" || seen[0].At.IsZero() {
		t.Fatalf("unexpected message/time: %+v", seen[0])
	}
	if seen[1].Round != 7 {
		t.Fatalf("unexpected round event: %+v", seen[1])
	}
}

func TestMultiAndLogSink(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	ring := NewRing(4)
	sink := Multi{Log{Logger: zerolog.New(&buf)}, ring, nil}
	NewEmitter(sink, "broadcast").Producer("p").Infof("hello")
	if !strings.Contains(buf.String(), `"component":"broadcast"`) || !strings.Contains(buf.String(), `"producer":"p"`) {
		t.Fatalf("log sink missing fields: %s", buf.String())
	}
	if len(ring.Recent(0)) != 1 {
		t.Fatalf("ring sink did not receive event")
	}
}

func TestMinLevelDropsQuieterEvents(t *testing.T) {
	testlog.Start(t)
	ring := NewRing(4)
	emit := NewEmitter(MinLevel{Level: zerolog.InfoLevel, Sink: ring}, "aggregator")
	for i := 0; i < 10; i++ {
		emit.Debugf("stored frame=%d", i)
	}
	emit.Warnf("late producer")
	emit.Infof("released")
	got := ring.Recent(0)
	if len(got) != 2 || got[0].Level != zerolog.WarnLevel || got[1].Message != "released" {
		t.Fatalf("unexpected filtered events: %+v", got)
	}
	MinLevel{Level: zerolog.InfoLevel}.Emit(Event{Level: zerolog.ErrorLevel})
}

func TestNilSinkEmitterIsSafe(t *testing.T) {
	testlog.Start(t)
	NewEmitter(nil, "x").Infof("no-op")
	var zero Emitter
	zero.Infof("no-op")
}
