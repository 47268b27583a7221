package aggregator

import (
	"time"

	"github.com/danmuck/quorumline/internal/protocol/frame"
	"github.com/google/uuid"
)

// Record is one decoded producer report.
type Record struct {
	Producer string
	Fields   [frame.FieldCount]string
}

// RecordFromFrame binds a decoded frame to its producer key.
func RecordFromFrame(producer string, fr frame.Frame) Record {
	return Record{Producer: producer, Fields: fr.Fields}
}

// Payload is the comparable "field1;field2" form of the record.
func (r Record) Payload() string {
	return frame.JoinFields(r.Fields[0], r.Fields[1])
}

// Kind classifies one consistency evaluation.
type Kind int

const (
	NoData Kind = iota
	Agreed
	Disagreed
)

func (k Kind) String() string {
	switch k {
	case Agreed:
		return "agreed"
	case Disagreed:
		return "disagreed"
	default:
		return "no_data"
	}
}

// Result is the outcome of evaluating one round.
type Result struct {
	Kind Kind
	// Payload is the agreed payload; empty unless Kind is Agreed.
	Payload  string
	Round    uint64
	RoundID  uuid.UUID
	Reported int
	Expected int
	Frames   int
	Started  time.Time
	At       time.Time
}

// Rendered returns the payload placed into the result frame.
func (r Result) Rendered() string {
	if r.Kind == Agreed {
		return r.Payload
	}
	return frame.NoRead
}

// Elapsed is the time the round stayed open.
func (r Result) Elapsed() time.Duration {
	if r.Started.IsZero() || r.At.Before(r.Started) {
		return 0
	}
	return r.At.Sub(r.Started)
}

// Line returns the result frame text without the line terminator.
func (r Result) Line() string {
	return frame.EncodeResult(r.Rendered())
}

// RoundSnapshot is a read-only view of the in-progress round.
type RoundSnapshot struct {
	Round    uint64    `json:"round"`
	RoundID  string    `json:"round_id"`
	Started  time.Time `json:"started"`
	Expected []string  `json:"expected"`
	Reported []string  `json:"reported"`
	Pending  []string  `json:"pending"`
	Frames   int       `json:"frames"`
}
