package producer

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// KeyMode selects how a producer's aggregation key is derived.
type KeyMode string

const (
	// KeyByEndpoint keys producers by host:port.
	KeyByEndpoint KeyMode = "endpoint"
	// KeyByHost keys producers by host only; two ports on one host share a slot.
	KeyByHost KeyMode = "host"
)

// Endpoint identifies one upstream producer.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(strings.TrimSpace(e.Host), strconv.Itoa(e.Port))
}

// Key returns the aggregation key under mode.
func (e Endpoint) Key(mode KeyMode) string {
	if mode == KeyByHost {
		return strings.TrimSpace(e.Host)
	}
	return e.Addr()
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

func (e Endpoint) String() string {
	return e.Addr()
}

// NormalizeKeyMode maps empty or unknown input to KeyByEndpoint.
func NormalizeKeyMode(raw string) (KeyMode, bool) {
	switch KeyMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KeyByEndpoint:
		return KeyByEndpoint, true
	case KeyByHost:
		return KeyByHost, true
	default:
		return KeyByEndpoint, false
	}
}
