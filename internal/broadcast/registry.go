package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/quorumline/internal/events"
	"github.com/danmuck/quorumline/internal/observability"
	"github.com/danmuck/quorumline/internal/protocol/session"
)

var (
	ErrSubscriberWrite = errors.New("broadcast: subscriber write failed")
	ErrRegistryClosed  = errors.New("broadcast: registry closed")
	ErrRegistryFull    = errors.New("broadcast: subscriber limit reached")
)

type Config struct {
	// WriteTimeout bounds each subscriber write. Non-positive values use the
	// session default; a subscriber write is never unbounded.
	WriteTimeout time.Duration
	// MaxSubscribers caps the live set. Zero means unlimited.
	MaxSubscribers int
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout: session.DefaultConfig().WriteTimeout,
	}
}

// SubscriberInfo is a read-only view of one live subscriber.
type SubscriberInfo struct {
	ID        uint64    `json:"id"`
	Remote    string    `json:"remote"`
	Connected time.Time `json:"connected"`
	Delivered uint64    `json:"delivered"`
}

// Report summarizes one broadcast.
type Report struct {
	Attempted int
	Delivered int
	Pruned    int
}

type subscriber struct {
	id        uint64
	conn      net.Conn
	remote    string
	connected time.Time
	delivered atomic.Uint64
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func (s *subscriber) write(line []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := s.conn.Write(line); err != nil {
		return fmt.Errorf("%w: remote=%s: %v", ErrSubscriberWrite, s.remote, err)
	}
	s.delivered.Add(1)
	return nil
}

// Registry is the concurrent-safe live subscriber set.
type Registry struct {
	cfg  Config
	emit events.Emitter

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	closed bool

	nextID   atomic.Uint64
	watchers sync.WaitGroup
}

func NewRegistry(cfg Config, sink events.Sink) *Registry {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Registry{
		cfg:  cfg,
		emit: events.NewEmitter(sink, "broadcast"),
		subs: make(map[uint64]*subscriber),
	}
}

// Serve accepts subscribers on ln until ctx ends or ln closes. On return
// every tracked subscriber has been closed.
func (r *Registry) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	defer r.Close()

	retry := session.BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	failures := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			r.emit.Warnf("broadcast.Registry.Serve accept failed attempt=%d err=%v", failures, err)
			if err := session.SleepBackoff(ctx, retry, failures, nil); err != nil {
				return nil
			}
			continue
		}
		failures = 0
		if _, err := r.Add(conn); err != nil {
			r.emit.Warnf("broadcast.Registry.Serve rejected remote=%q err=%v", conn.RemoteAddr().String(), err)
			_ = conn.Close()
		}
	}
}

// Add tracks conn as a subscriber and starts its disconnect watcher.
func (r *Registry) Add(conn net.Conn) (uint64, error) {
	sub := &subscriber{
		id:        r.nextID.Add(1),
		conn:      conn,
		remote:    remoteAddr(conn),
		connected: time.Now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrRegistryClosed
	}
	if r.cfg.MaxSubscribers > 0 && len(r.subs) >= r.cfg.MaxSubscribers {
		r.mu.Unlock()
		return 0, ErrRegistryFull
	}
	r.subs[sub.id] = sub
	count := len(r.subs)
	r.watchers.Add(1)
	r.mu.Unlock()

	observability.SetSubscribers(count)
	r.emit.Infof("broadcast.Registry subscriber connected id=%d remote=%q active=%d", sub.id, sub.remote, count)
	go r.watch(sub)
	return sub.id, nil
}

// watch drains inbound bytes until the peer goes away.
func (r *Registry) watch(sub *subscriber) {
	defer r.watchers.Done()
	_, err := io.Copy(io.Discard, sub.conn)
	reason := "disconnected"
	if err != nil && !errors.Is(err, net.ErrClosed) {
		reason = err.Error()
	}
	r.remove(sub.id, reason)
}

// Remove closes and forgets one subscriber. It reports whether id was live.
func (r *Registry) Remove(id uint64) bool {
	return r.remove(id, "removed")
}

func (r *Registry) remove(id uint64, reason string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	count := len(r.subs)
	r.mu.Unlock()
	if !ok {
		return false
	}
	sub.close()
	observability.SetSubscribers(count)
	r.emit.Infof("broadcast.Registry subscriber pruned id=%d remote=%q reason=%q active=%d", id, sub.remote, reason, count)
	return true
}

// Broadcast writes line plus a newline to every live subscriber
// concurrently. A failed write prunes that subscriber only.
func (r *Registry) Broadcast(line string) Report {
	r.mu.RLock()
	targets := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	payload := []byte(line + "\n")
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, sub := range targets {
		wg.Add(1)
		go func(i int, sub *subscriber) {
			defer wg.Done()
			errs[i] = sub.write(payload, r.cfg.WriteTimeout)
		}(i, sub)
	}
	wg.Wait()

	report := Report{Attempted: len(targets)}
	for i, err := range errs {
		observability.RecordBroadcastWrite(err == nil)
		if err == nil {
			report.Delivered++
			continue
		}
		r.emit.Warnf("broadcast.Registry.Broadcast write failed id=%d err=%v", targets[i].id, err)
		if r.remove(targets[i].id, "write failed") {
			report.Pruned++
		}
	}
	r.emit.Debugf("broadcast.Registry.Broadcast line=%q attempted=%d delivered=%d pruned=%d",
		line, report.Attempted, report.Delivered, report.Pruned)
	return report
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Snapshot lists live subscribers ordered by id.
func (r *Registry) Snapshot() []SubscriberInfo {
	r.mu.RLock()
	out := make([]SubscriberInfo, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, SubscriberInfo{
			ID:        sub.id,
			Remote:    sub.remote,
			Connected: sub.connected,
			Delivered: sub.delivered.Load(),
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Close stops accepting registrations, closes every subscriber, and waits
// for their watchers to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = make(map[uint64]*subscriber)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	r.watchers.Wait()
	observability.SetSubscribers(0)
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
