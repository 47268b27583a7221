package aggregator

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/quorumline/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoProducers       = errors.New("aggregator: no expected producers")
	ErrDuplicateProducer = errors.New("aggregator: duplicate producer key")
	ErrUnknownProducer   = errors.New("aggregator: unknown producer")
)

type round struct {
	seq     uint64
	id      uuid.UUID
	started time.Time
	records map[string][]string
	frames  int
}

// Aggregator collects one round of records at a time.
type Aggregator struct {
	mu sync.Mutex

	order    []string
	expected map[string]struct{}
	current  round

	emit events.Emitter
	now  func() time.Time
}

// New builds an aggregator expecting one report from each producer key.
// The order of producers fixes the reference producer for comparisons.
func New(producers []string, sink events.Sink) (*Aggregator, error) {
	if len(producers) == 0 {
		return nil, ErrNoProducers
	}
	a := &Aggregator{
		order:    make([]string, 0, len(producers)),
		expected: make(map[string]struct{}, len(producers)),
		emit:     events.NewEmitter(sink, "aggregator"),
		now:      time.Now,
	}
	for _, raw := range producers {
		key := strings.TrimSpace(raw)
		if key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrUnknownProducer)
		}
		if _, dup := a.expected[key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateProducer, key)
		}
		a.expected[key] = struct{}{}
		a.order = append(a.order, key)
	}
	a.current = a.newRound(1)
	return a, nil
}

func (a *Aggregator) newRound(seq uint64) round {
	return round{
		seq:     seq,
		id:      uuid.New(),
		started: a.now(),
		records: make(map[string][]string, len(a.order)),
	}
}

// Expected returns the configured producer keys in reference order.
func (a *Aggregator) Expected() []string {
	return slices.Clone(a.order)
}

// Submit appends rec to its producer's list for the current round.
func (a *Aggregator) Submit(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submitLocked(rec)
}

// MaybeEvaluate evaluates and resets the current round once every expected
// producer has reported. ok is false while the barrier is still closed.
func (a *Aggregator) MaybeEvaluate() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maybeEvaluateLocked()
}

// Offer submits rec and evaluates the round it completes, atomically.
func (a *Aggregator) Offer(rec Record) (Result, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.submitLocked(rec); err != nil {
		return Result{}, false, err
	}
	res, ok := a.maybeEvaluateLocked()
	return res, ok, nil
}

// Evaluate runs the consistency check over whatever the current round holds
// without releasing or resetting it.
func (a *Aggregator) Evaluate() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evaluateLocked()
}

// Snapshot returns the in-progress round state.
func (a *Aggregator) Snapshot() RoundSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := RoundSnapshot{
		Round:    a.current.seq,
		RoundID:  a.current.id.String(),
		Started:  a.current.started,
		Expected: slices.Clone(a.order),
		Reported: make([]string, 0, len(a.current.records)),
		Pending:  make([]string, 0, len(a.order)),
		Frames:   a.current.frames,
	}
	for _, key := range a.order {
		if _, ok := a.current.records[key]; ok {
			snap.Reported = append(snap.Reported, key)
		} else {
			snap.Pending = append(snap.Pending, key)
		}
	}
	return snap
}

func (a *Aggregator) submitLocked(rec Record) error {
	key := strings.TrimSpace(rec.Producer)
	if _, ok := a.expected[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProducer, rec.Producer)
	}
	payload := rec.Payload()
	a.current.records[key] = append(a.current.records[key], payload)
	a.current.frames++
	a.emit.Producer(key).Debugf(
		"aggregator.Submit stored round=%d payload=%q reported=%d/%d",
		a.current.seq,
		payload,
		len(a.current.records),
		len(a.order),
	)
	return nil
}

func (a *Aggregator) maybeEvaluateLocked() (Result, bool) {
	if len(a.current.records) < len(a.order) {
		return Result{}, false
	}
	for _, key := range a.order {
		a.emit.Producer(key).Debugf(
			"aggregator.MaybeEvaluate round=%d records=[%s]",
			a.current.seq,
			strings.Join(a.current.records[key], ", "),
		)
	}
	res := a.evaluateLocked()
	level := zerolog.InfoLevel
	if res.Kind != Agreed {
		level = zerolog.WarnLevel
	}
	a.emit.Round(level, res.Round, "aggregator.MaybeEvaluate released round=%d outcome=%s payload=%q frames=%d",
		res.Round, res.Kind, res.Rendered(), res.Frames)
	a.current = a.newRound(a.current.seq + 1)
	return res, true
}

func (a *Aggregator) evaluateLocked() Result {
	kind, payload := Check(a.order, a.current.records)
	return Result{
		Kind:     kind,
		Payload:  payload,
		Round:    a.current.seq,
		RoundID:  a.current.id,
		Reported: len(a.current.records),
		Expected: len(a.order),
		Frames:   a.current.frames,
		Started:  a.current.started,
		At:       a.now(),
	}
}

// Check compares every reporting producer's record list against the first
// reporting producer in order. Lists must match element-wise. The agreed
// payload is the reference producer's first record.
func Check(order []string, records map[string][]string) (Kind, string) {
	var reference []string
	refKey := ""
	for _, key := range order {
		if list, ok := records[key]; ok && len(list) > 0 {
			reference = list
			refKey = key
			break
		}
	}
	if reference == nil {
		return NoData, ""
	}
	for _, key := range order {
		if key == refKey {
			continue
		}
		list, ok := records[key]
		if !ok {
			continue
		}
		if !slices.Equal(list, reference) {
			return Disagreed, ""
		}
	}
	return Agreed, reference[0]
}
