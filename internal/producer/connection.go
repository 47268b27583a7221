package producer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/quorumline/internal/aggregator"
	"github.com/danmuck/quorumline/internal/events"
	"github.com/danmuck/quorumline/internal/observability"
	"github.com/danmuck/quorumline/internal/protocol/frame"
	"github.com/danmuck/quorumline/internal/protocol/session"
)

var (
	ErrConnection      = errors.New("producer: connection error")
	ErrInvalidEndpoint = errors.New("producer: invalid endpoint")
	ErrSubmitterNil    = errors.New("producer: submitter required")
)

// Submitter receives every decoded record. It is called from the
// connection's own goroutine and must be safe for concurrent use.
type Submitter interface {
	Submit(ctx context.Context, rec aggregator.Record) error
}

// SubmitFunc adapts a function into a Submitter.
type SubmitFunc func(ctx context.Context, rec aggregator.Record) error

func (f SubmitFunc) Submit(ctx context.Context, rec aggregator.Record) error {
	return f(ctx, rec)
}

// DialFunc opens the transport to a producer.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Config struct {
	Endpoint Endpoint
	// Key overrides the aggregation key; defaults to Endpoint.Key(KeyByEndpoint).
	Key     string
	Session session.Config
	Limits  frame.Limits
	// Reconnect redials after an established connection drops.
	Reconnect bool
	Dial      DialFunc
}

func DefaultConfig(ep Endpoint) Config {
	return Config{
		Endpoint:  ep,
		Session:   session.DefaultConfig(),
		Limits:    frame.DefaultLimits(),
		Reconnect: true,
	}
}

// State is the coarse lifecycle of a producer link.
type State string

const (
	StateIdle      State = "idle"
	StateDialing   State = "dialing"
	StateConnected State = "connected"
	StateBackoff   State = "backoff"
	StateStopped   State = "stopped"
	StateAbandoned State = "abandoned"
)

// Status is a point-in-time view of one producer link.
type Status struct {
	Key         string    `json:"key"`
	Addr        string    `json:"addr"`
	State       State     `json:"state"`
	Connects    uint64    `json:"connects"`
	Attempts    int       `json:"attempts"`
	Frames      uint64    `json:"frames"`
	Rejected    uint64    `json:"rejected"`
	LastError   string    `json:"last_error,omitempty"`
	LastFrameAt time.Time `json:"last_frame_at"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Connection owns one producer link for its whole lifetime.
type Connection struct {
	cfg    Config
	key    string
	submit Submitter
	emit   events.ProducerEmitter
	rng    *rand.Rand

	mu     sync.Mutex
	status Status
}

func New(cfg Config, submit Submitter, sink events.Sink) (*Connection, error) {
	if err := cfg.Endpoint.Validate(); err != nil {
		return nil, err
	}
	if submit == nil {
		return nil, ErrSubmitterNil
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Limits.MaxLineBytes <= 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.Dial == nil {
		dialer := &net.Dialer{Timeout: cfg.Session.ConnectTimeout}
		cfg.Dial = dialer.DialContext
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = cfg.Endpoint.Key(KeyByEndpoint)
	}
	return &Connection{
		cfg:    cfg,
		key:    key,
		submit: submit,
		emit:   events.NewEmitter(sink, "producer").Producer(key),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		status: Status{Key: key, Addr: cfg.Endpoint.Addr(), State: StateIdle},
	}, nil
}

func (c *Connection) Key() string {
	return c.key
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run dials the producer and consumes lines until ctx ends. Dial failures
// back off and retry while the session policy allows; exhausting it returns
// an error wrapping ErrConnection. Context cancellation returns nil.
func (c *Connection) Run(ctx context.Context) error {
	defer observability.SetProducerConnected(c.key, false)
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateStopped, nil)
			return nil
		}

		attempt++
		c.setAttempt(attempt)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateStopped, nil)
				return nil
			}
			observability.RecordDial(c.key, false)
			c.emit.Warnf("producer.Connection dial failed addr=%q attempt=%d err=%v", c.cfg.Endpoint.Addr(), attempt, err)
			if !c.cfg.Session.ShouldRetry(attempt) {
				c.setState(StateAbandoned, err)
				c.emit.Errorf("producer.Connection abandoned addr=%q attempts=%d", c.cfg.Endpoint.Addr(), attempt)
				return fmt.Errorf("%w: %s: %v", ErrConnection, c.cfg.Endpoint.Addr(), err)
			}
			c.setState(StateBackoff, err)
			if err := session.SleepBackoff(ctx, c.cfg.Session.Backoff, attempt, c.rng); err != nil {
				c.setState(StateStopped, nil)
				return nil
			}
			continue
		}

		attempt = 0
		observability.RecordDial(c.key, true)
		c.markConnected()
		c.emit.Infof("producer.Connection connected addr=%q", c.cfg.Endpoint.Addr())

		err = c.ReadLoop(ctx, conn)
		observability.SetProducerConnected(c.key, false)
		if ctx.Err() != nil {
			c.setState(StateStopped, nil)
			return nil
		}
		if err != nil {
			c.emit.Warnf("producer.Connection read ended addr=%q err=%v", c.cfg.Endpoint.Addr(), err)
		} else {
			c.emit.Warnf("producer.Connection closed by peer addr=%q", c.cfg.Endpoint.Addr())
		}
		if !c.cfg.Reconnect {
			c.setState(StateStopped, err)
			if err == nil {
				err = io.EOF
			}
			return fmt.Errorf("%w: %s dropped: %v", ErrConnection, c.cfg.Endpoint.Addr(), err)
		}
		c.setState(StateBackoff, err)
		if err := session.SleepBackoff(ctx, c.cfg.Session.Backoff, 1, c.rng); err != nil {
			c.setState(StateStopped, nil)
			return nil
		}
	}
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	c.setState(StateDialing, nil)
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.ConnectTimeout)
	defer cancel()
	return c.cfg.Dial(dialCtx, "tcp", c.cfg.Endpoint.Addr())
}

// ReadLoop consumes newline-delimited frames from conn until it closes,
// errors, or ctx ends. It closes conn before returning. A clean EOF returns
// nil. Lines longer than Limits.MaxLineBytes are discarded and reading
// continues.
func (c *Connection) ReadLoop(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	r := bufio.NewReaderSize(conn, 4096)
	for {
		if c.cfg.Session.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Session.ReadTimeout))
		}
		line, tooLong, err := c.readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) || (errors.Is(err, net.ErrClosed) && ctx.Err() != nil) {
				return nil
			}
			return err
		}
		if tooLong {
			c.skipOversized()
			continue
		}
		c.handleLine(ctx, line)
	}
}

// readLine returns the next line without its terminator. A line that exceeds
// the limit is drained through its newline and reported with tooLong set. An
// unterminated final line is returned before io.EOF.
func (c *Connection) readLine(r *bufio.Reader) (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > c.cfg.Limits.MaxLineBytes {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && (tooLong || len(buf) > 0) {
				return strings.TrimRight(string(buf), "\r\n"), tooLong, nil
			}
			return "", false, err
		}
		return strings.TrimRight(string(buf), "\r\n"), tooLong, nil
	}
}

func (c *Connection) skipOversized() {
	err := fmt.Errorf("%w: line exceeds %d bytes", frame.ErrFrameFormat, c.cfg.Limits.MaxLineBytes)
	observability.RecordFrame(c.key, "too_long")
	c.markRejected(err)
	c.emit.Warnf("producer.Connection skipped oversized line err=%v", err)
}

func (c *Connection) handleLine(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	c.emit.Debugf("producer.Connection received line=%q", line)

	fr, err := frame.Parse(line)
	if err != nil {
		result := "format_error"
		if errors.Is(err, frame.ErrFieldCount) {
			result = "field_count_error"
		}
		observability.RecordFrame(c.key, result)
		c.markRejected(err)
		c.emit.Warnf("producer.Connection skipped line=%q err=%v", line, err)
		return
	}

	if err := c.submit.Submit(ctx, aggregator.RecordFromFrame(c.key, fr)); err != nil {
		observability.RecordFrame(c.key, "rejected")
		c.markRejected(err)
		c.emit.Warnf("producer.Connection submit rejected payload=%q err=%v", fr.Payload, err)
		return
	}
	observability.RecordFrame(c.key, "accepted")
	c.markFrame()
}

func (c *Connection) setState(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.State = state
	if err != nil {
		c.status.LastError = err.Error()
	}
}

func (c *Connection) setAttempt(attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Attempts = attempt
}

func (c *Connection) markConnected() {
	observability.SetProducerConnected(c.key, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.State = StateConnected
	c.status.Connects++
	c.status.Attempts = 0
	c.status.ConnectedAt = time.Now()
}

func (c *Connection) markFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Frames++
	c.status.LastFrameAt = time.Now()
}

func (c *Connection) markRejected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Rejected++
	c.status.LastError = err.Error()
}
