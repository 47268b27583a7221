// Package config loads the relay configuration document.
//
// The format follows the file extension: .toml (default), .yaml/.yml, or the
// legacy conf.json shape {"InputServers":[{"Host","Port"}],"OutputServer":{"Port"}}.
// Keys absent from a document keep their defaults.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/quorumline/internal/producer"
	"github.com/danmuck/quorumline/internal/relay"
	"github.com/danmuck/quorumline/internal/server"
	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("config: invalid configuration")

// Config is the full process configuration.
type Config struct {
	Service relay.ServiceConfig
	Admin   server.Config
}

func Default() Config {
	return Config{
		Service: relay.DefaultServiceConfig(),
		Admin:   server.DefaultConfig(),
	}
}

// document key mapping shared by the TOML and YAML decoders.
type fileConfig struct {
	ListenAddr       string         `toml:"listen_addr" yaml:"listen_addr"`
	ListenPort       int            `toml:"listen_port" yaml:"listen_port"`
	AdminAddr        string         `toml:"admin_addr" yaml:"admin_addr"`
	AdminCORSOrigins []string       `toml:"admin_cors_origins" yaml:"admin_cors_origins"`
	ProducerKey      string         `toml:"producer_key" yaml:"producer_key"`
	EventHistory     int            `toml:"event_history" yaml:"event_history"`
	MaxSubscribers   int            `toml:"max_subscribers" yaml:"max_subscribers"`
	MaxLineBytes     int            `toml:"max_line_bytes" yaml:"max_line_bytes"`
	Session          sessionFile    `toml:"session" yaml:"session"`
	Producers        []producerFile `toml:"producers" yaml:"producers"`
}

type sessionFile struct {
	ConnectTimeout string      `toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    string      `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   string      `toml:"write_timeout" yaml:"write_timeout"`
	Backoff        backoffFile `toml:"backoff" yaml:"backoff"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier" yaml:"multiplier"`
	MaxDelay     string  `toml:"max_delay" yaml:"max_delay"`
	Jitter       bool    `toml:"jitter" yaml:"jitter"`
	MaxAttempts  int     `toml:"max_attempts" yaml:"max_attempts"`
}

type producerFile struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// legacyFile is the conf.json shape used by earlier deployments.
type legacyFile struct {
	InputServers []struct {
		Host string `json:"Host"`
		Port int    `json:"Port"`
	} `json:"InputServers"`
	OutputServer *struct {
		Port int `json:"Port"`
	} `json:"OutputServer"`
}

// definedFunc reports whether a dotted key path is present in the document.
type definedFunc func(path ...string) bool

// Load reads, decodes, and validates the document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = decodeYAML(data)
	case ".json":
		cfg, err = decodeLegacyJSON(data)
	default:
		cfg, err = decodeTOML(data)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decodeTOML(data []byte) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse toml: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return overlay(raw, meta.IsDefined)
}

func decodeYAML(data []byte) (Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	var raw fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return overlay(raw, yamlDefined(&root))
}

func yamlDefined(root *yaml.Node) definedFunc {
	return func(path ...string) bool {
		node := root
		if node.Kind == yaml.DocumentNode {
			if len(node.Content) == 0 {
				return false
			}
			node = node.Content[0]
		}
		for _, key := range path {
			if node.Kind != yaml.MappingNode {
				return false
			}
			var next *yaml.Node
			for i := 0; i+1 < len(node.Content); i += 2 {
				if node.Content[i].Value == key {
					next = node.Content[i+1]
					break
				}
			}
			if next == nil {
				return false
			}
			node = next
		}
		return true
	}
}

func decodeLegacyJSON(data []byte) (Config, error) {
	var raw legacyFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	if raw.OutputServer == nil {
		return Config{}, errors.New("OutputServer is required")
	}
	if raw.OutputServer.Port <= 0 || raw.OutputServer.Port > 65535 {
		return Config{}, fmt.Errorf("OutputServer.Port %d out of range", raw.OutputServer.Port)
	}

	cfg := Default()
	cfg.Service.ListenAddr = ":" + strconv.Itoa(raw.OutputServer.Port)
	for _, in := range raw.InputServers {
		cfg.Service.Producers = append(cfg.Service.Producers, producer.Endpoint{
			Host: strings.TrimSpace(in.Host),
			Port: in.Port,
		})
	}
	return cfg, nil
}

// overlay applies every defined document key onto the defaults.
func overlay(raw fileConfig, defined definedFunc) (Config, error) {
	cfg := Default()
	svc := &cfg.Service

	if defined("listen_addr") && defined("listen_port") {
		return Config{}, errors.New("listen_addr and listen_port are mutually exclusive")
	}
	if defined("listen_addr") {
		svc.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if defined("listen_port") {
		if raw.ListenPort <= 0 || raw.ListenPort > 65535 {
			return Config{}, fmt.Errorf("listen_port %d out of range", raw.ListenPort)
		}
		svc.ListenAddr = ":" + strconv.Itoa(raw.ListenPort)
	}
	if defined("admin_addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.AdminAddr)
	}
	if defined("admin_cors_origins") {
		cfg.Admin.CORSOrigins = raw.AdminCORSOrigins
	}
	if defined("producer_key") {
		mode, ok := producer.NormalizeKeyMode(raw.ProducerKey)
		if !ok {
			return Config{}, fmt.Errorf("producer_key %q must be endpoint or host", raw.ProducerKey)
		}
		svc.KeyMode = mode
	}
	if defined("event_history") {
		svc.EventHistory = raw.EventHistory
	}
	if defined("max_subscribers") {
		svc.Broadcast.MaxSubscribers = raw.MaxSubscribers
	}
	if defined("max_line_bytes") {
		svc.Limits.MaxLineBytes = raw.MaxLineBytes
	}

	durations := []struct {
		path []string
		raw  string
		dst  *time.Duration
	}{
		{[]string{"session", "connect_timeout"}, raw.Session.ConnectTimeout, &svc.Session.ConnectTimeout},
		{[]string{"session", "read_timeout"}, raw.Session.ReadTimeout, &svc.Session.ReadTimeout},
		{[]string{"session", "write_timeout"}, raw.Session.WriteTimeout, &svc.Session.WriteTimeout},
		{[]string{"session", "backoff", "initial_delay"}, raw.Session.Backoff.InitialDelay, &svc.Session.Backoff.InitialDelay},
		{[]string{"session", "backoff", "max_delay"}, raw.Session.Backoff.MaxDelay, &svc.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !defined(d.path...) {
			continue
		}
		v, err := parseDuration(strings.Join(d.path, "."), d.raw)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}
	if defined("session", "backoff", "multiplier") {
		svc.Session.Backoff.Multiplier = raw.Session.Backoff.Multiplier
	}
	if defined("session", "backoff", "jitter") {
		svc.Session.Backoff.Jitter = raw.Session.Backoff.Jitter
	}
	if defined("session", "backoff", "max_attempts") {
		svc.Session.MaxConnectAttempts = raw.Session.Backoff.MaxAttempts
	}
	if svc.Session.WriteTimeout > 0 {
		svc.Broadcast.WriteTimeout = svc.Session.WriteTimeout
	}

	for _, p := range raw.Producers {
		svc.Producers = append(svc.Producers, producer.Endpoint{
			Host: strings.TrimSpace(p.Host),
			Port: p.Port,
		})
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, raw)
	}
	return d, nil
}

// Validate checks a decoded configuration. Every failure wraps ErrConfig.
func Validate(cfg Config) error {
	svc := cfg.Service
	if strings.TrimSpace(svc.ListenAddr) == "" {
		return fmt.Errorf("%w: listen address required", ErrConfig)
	}
	if _, ok := producer.NormalizeKeyMode(string(svc.KeyMode)); !ok {
		return fmt.Errorf("%w: unknown producer key mode %q", ErrConfig, svc.KeyMode)
	}
	if len(svc.Producers) == 0 {
		return fmt.Errorf("%w: at least one producer required", ErrConfig)
	}
	seen := make(map[string]int, len(svc.Producers))
	for i, ep := range svc.Producers {
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("%w: producers[%d]: %v", ErrConfig, i, err)
		}
		key := ep.Key(svc.KeyMode)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: producers[%d] duplicates producers[%d] key %q (producer_key=%s)",
				ErrConfig, i, prev, key, svc.KeyMode)
		}
		seen[key] = i
	}
	if svc.Session.Backoff.Multiplier != 0 && svc.Session.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: session.backoff.multiplier %.2f below 1", ErrConfig, svc.Session.Backoff.Multiplier)
	}
	if svc.Session.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: session.backoff.max_attempts must not be negative", ErrConfig)
	}
	if svc.EventHistory < 0 || svc.Broadcast.MaxSubscribers < 0 || svc.Limits.MaxLineBytes < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrConfig)
	}
	return nil
}
