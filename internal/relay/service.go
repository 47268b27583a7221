package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/danmuck/quorumline/internal/aggregator"
	"github.com/danmuck/quorumline/internal/broadcast"
	"github.com/danmuck/quorumline/internal/events"
	"github.com/danmuck/quorumline/internal/observability"
	"github.com/danmuck/quorumline/internal/producer"
	"github.com/danmuck/quorumline/internal/protocol/frame"
	"github.com/danmuck/quorumline/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrServiceConfig = errors.New("relay: invalid service config")

// ServiceConfig is the runtime shape of one relay process.
type ServiceConfig struct {
	ListenAddr string
	Producers  []producer.Endpoint
	KeyMode    producer.KeyMode
	Session    session.Config
	Limits     frame.Limits
	Broadcast  broadcast.Config
	// EventHistory bounds the recent event ring served by Events. Only info
	// and above are kept.
	EventHistory int
	// Sink receives every event in addition to the process log and history.
	Sink events.Sink
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:   ":9500",
		KeyMode:      producer.KeyByEndpoint,
		Session:      session.DefaultConfig(),
		Limits:       frame.DefaultLimits(),
		Broadcast:    broadcast.DefaultConfig(),
		EventHistory: 256,
	}
}

type component struct {
	name string
	run  func(ctx context.Context) error
}

// Service wires producers, the aggregator, and the broadcaster.
type Service struct {
	cfg      ServiceConfig
	agg      *aggregator.Aggregator
	registry *broadcast.Registry
	conns    []*producer.Connection
	history  *events.Ring
	emit     events.Emitter

	// releaseMu keeps broadcasts in round order.
	releaseMu sync.Mutex

	mu         sync.RWMutex
	listenAddr string
	counts     RoundCounts
	last       *LastResult
	components []component
	serving    bool
}

// NewServiceWithConfig validates cfg and builds every runtime part. Nothing
// touches the network until Start or Serve.
func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	defaults := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	mode, ok := producer.NormalizeKeyMode(string(cfg.KeyMode))
	if !ok {
		return nil, fmt.Errorf("%w: unknown producer key mode %q", ErrServiceConfig, cfg.KeyMode)
	}
	cfg.KeyMode = mode
	if len(cfg.Producers) == 0 {
		return nil, fmt.Errorf("%w: no producers configured", ErrServiceConfig)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Broadcast.WriteTimeout <= 0 {
		cfg.Broadcast.WriteTimeout = cfg.Session.WriteTimeout
	}
	if cfg.Limits.MaxLineBytes <= 0 {
		cfg.Limits = defaults.Limits
	}
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = defaults.EventHistory
	}

	history := events.NewRing(cfg.EventHistory)
	sink := events.Multi{
		events.Log{Logger: log.Logger},
		events.MinLevel{Level: zerolog.InfoLevel, Sink: history},
	}
	if cfg.Sink != nil {
		sink = append(sink, cfg.Sink)
	}

	keys := make([]string, 0, len(cfg.Producers))
	for _, ep := range cfg.Producers {
		if err := ep.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServiceConfig, err)
		}
		keys = append(keys, ep.Key(cfg.KeyMode))
	}
	agg, err := aggregator.New(keys, sink)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceConfig, err)
	}

	svc := &Service{
		cfg:      cfg,
		agg:      agg,
		registry: broadcast.NewRegistry(cfg.Broadcast, sink),
		history:  history,
		emit:     events.NewEmitter(sink, "relay"),
	}
	for i, ep := range cfg.Producers {
		pcfg := producer.DefaultConfig(ep)
		pcfg.Key = keys[i]
		pcfg.Session = cfg.Session
		pcfg.Limits = cfg.Limits
		conn, err := producer.New(pcfg, svc, sink)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServiceConfig, err)
		}
		svc.conns = append(svc.conns, conn)
	}
	return svc, nil
}

// Attach registers a component that runs alongside Serve. A component that
// returns ends the service; a non-nil error is returned from Serve.
func (s *Service) Attach(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, component{name: name, run: run})
}

// Run starts the service and blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Start(ctx)
}

// Start binds the subscriber listener and serves until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln, every producer connection, and every
// attached component until ctx ends. ln is closed on return.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("relay: service already serving")
	}
	s.serving = true
	s.listenAddr = ln.Addr().String()
	components := append([]component(nil), s.components...)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	s.emit.Infof("relay.Service.Serve listening addr=%q producers=%d key_mode=%s", ln.Addr().String(), len(s.conns), s.cfg.KeyMode)
	g.Go(func() error {
		defer cancel()
		return s.registry.Serve(gctx, ln)
	})
	for _, conn := range s.conns {
		conn := conn
		g.Go(func() error {
			if err := conn.Run(gctx); err != nil {
				s.emit.Producer(conn.Key()).Errorf("relay.Service producer stopped err=%v", err)
			}
			return nil
		})
	}
	for _, c := range components {
		c := c
		g.Go(func() error {
			defer cancel()
			if err := c.run(gctx); err != nil {
				return fmt.Errorf("relay: %s: %w", c.name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	s.emit.Infof("relay.Service.Serve stopped addr=%q", ln.Addr().String())
	return err
}

// Submit implements producer.Submitter. A record that completes a round
// releases it and broadcasts the result before returning.
func (s *Service) Submit(_ context.Context, rec aggregator.Record) error {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()
	res, released, err := s.agg.Offer(rec)
	if err != nil {
		return err
	}
	if released {
		s.release(res)
	}
	return nil
}

func (s *Service) release(res aggregator.Result) {
	line := res.Line()
	report := s.registry.Broadcast(line)
	observability.RecordRound(res.Kind.String(), res.Elapsed())

	s.mu.Lock()
	s.counts.Released++
	switch res.Kind {
	case aggregator.Agreed:
		s.counts.Agreed++
	case aggregator.Disagreed:
		s.counts.Disagreed++
	}
	s.last = &LastResult{
		Round:     res.Round,
		RoundID:   res.RoundID.String(),
		Outcome:   res.Kind.String(),
		Line:      line,
		Delivered: report.Delivered,
		Pruned:    report.Pruned,
		At:        res.At,
	}
	s.mu.Unlock()

	level := zerolog.InfoLevel
	if report.Pruned > 0 {
		level = zerolog.WarnLevel
	}
	s.emit.Round(level, res.Round, "relay.Service broadcast round=%d line=%q delivered=%d/%d pruned=%d",
		res.Round, line, report.Delivered, report.Attempted, report.Pruned)
}

// Events returns up to limit recent events, oldest first.
func (s *Service) Events(limit int) []events.Event {
	return s.history.Recent(limit)
}
