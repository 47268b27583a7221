package relay

import (
	"time"

	"github.com/danmuck/quorumline/internal/aggregator"
	"github.com/danmuck/quorumline/internal/broadcast"
	"github.com/danmuck/quorumline/internal/producer"
)

// RoundCounts tallies released rounds by outcome.
type RoundCounts struct {
	Released  uint64 `json:"released"`
	Agreed    uint64 `json:"agreed"`
	Disagreed uint64 `json:"disagreed"`
}

// LastResult describes the most recent broadcast.
type LastResult struct {
	Round     uint64    `json:"round"`
	RoundID   string    `json:"round_id"`
	Outcome   string    `json:"outcome"`
	Line      string    `json:"line"`
	Delivered int       `json:"delivered"`
	Pruned    int       `json:"pruned"`
	At        time.Time `json:"at"`
}

// Status is a point-in-time snapshot of the whole relay.
type Status struct {
	ListenAddr  string                     `json:"listen_addr"`
	KeyMode     producer.KeyMode           `json:"key_mode"`
	Subscribers []broadcast.SubscriberInfo `json:"subscribers"`
	Producers   []producer.Status          `json:"producers"`
	Round       aggregator.RoundSnapshot   `json:"round"`
	Rounds      RoundCounts                `json:"rounds"`
	LastResult  *LastResult                `json:"last_result,omitempty"`
}

func (s *Service) Status() Status {
	st := Status{
		KeyMode:     s.cfg.KeyMode,
		Subscribers: s.registry.Snapshot(),
		Producers:   make([]producer.Status, 0, len(s.conns)),
		Round:       s.agg.Snapshot(),
	}
	for _, conn := range s.conns {
		st.Producers = append(st.Producers, conn.Status())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.ListenAddr = s.listenAddr
	st.Rounds = s.counts
	if s.last != nil {
		last := *s.last
		st.LastResult = &last
	}
	return st
}
