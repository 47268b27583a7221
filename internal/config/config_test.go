package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/quorumline/internal/producer"
	"github.com/danmuck/quorumline/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTOMLDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "quorumd.toml", `
listen_addr = "127.0.0.1:9600"
admin_addr = "127.0.0.1:9610"
admin_cors_origins = ["http://dash.local"]

[session]
read_timeout = "30s"

[session.backoff]
initial_delay = "100ms"
max_attempts = 4

[[producers]]
host = "10.0.0.1"
port = 7001

[[producers]]
host = "10.0.0.1"
port = 7002
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	svc := cfg.Service
	if svc.ListenAddr != "127.0.0.1:9600" {
		t.Fatalf("unexpected listen addr: %q", svc.ListenAddr)
	}
	if cfg.Admin.Addr != "127.0.0.1:9610" || len(cfg.Admin.CORSOrigins) != 1 {
		t.Fatalf("unexpected admin config: %+v", cfg.Admin)
	}
	if svc.KeyMode != producer.KeyByEndpoint {
		t.Fatalf("unexpected default key mode: %q", svc.KeyMode)
	}
	if svc.Session.ReadTimeout != 30*time.Second {
		t.Fatalf("unexpected read timeout: %s", svc.Session.ReadTimeout)
	}
	if svc.Session.ConnectTimeout != 5*time.Second {
		t.Fatalf("expected default connect timeout, got %s", svc.Session.ConnectTimeout)
	}
	if svc.Session.Backoff.InitialDelay != 100*time.Millisecond || svc.Session.Backoff.MaxDelay != 5*time.Second {
		t.Fatalf("unexpected backoff: %+v", svc.Session.Backoff)
	}
	if svc.Session.MaxConnectAttempts != 4 {
		t.Fatalf("unexpected max attempts: %d", svc.Session.MaxConnectAttempts)
	}
	if len(svc.Producers) != 2 || svc.Producers[1].Addr() != "10.0.0.1:7002" {
		t.Fatalf("unexpected producers: %+v", svc.Producers)
	}
}

func TestLoadTOMLListenPort(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "quorumd.toml", `
listen_port = 9700
[[producers]]
host = "a"
port = 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.ListenAddr != ":9700" {
		t.Fatalf("unexpected listen addr: %q", cfg.Service.ListenAddr)
	}
}

func TestLoadTOMLLimitsAndZeroWriteTimeout(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "quorumd.toml", `
listen_addr = ":9500"
event_history = 64
max_subscribers = 8
max_line_bytes = 4096

[session]
write_timeout = "0s"

[session.backoff]
max_attempts = 0

[[producers]]
host = "10.0.0.1"
port = 7001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	svc := cfg.Service
	if svc.EventHistory != 64 || svc.Broadcast.MaxSubscribers != 8 || svc.Limits.MaxLineBytes != 4096 {
		t.Fatalf("unexpected limits: history=%d subscribers=%d line=%d",
			svc.EventHistory, svc.Broadcast.MaxSubscribers, svc.Limits.MaxLineBytes)
	}
	if svc.Broadcast.WriteTimeout <= 0 {
		t.Fatalf("subscriber writes must stay bounded, got %s", svc.Broadcast.WriteTimeout)
	}
}

func TestLoadYAMLLimits(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "quorumd.yaml", `
event_history: 32
max_subscribers: 2
max_line_bytes: 1024
producers:
  - host: 10.0.0.1
    port: 7001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	svc := cfg.Service
	if svc.EventHistory != 32 || svc.Broadcast.MaxSubscribers != 2 || svc.Limits.MaxLineBytes != 1024 {
		t.Fatalf("unexpected limits: history=%d subscribers=%d line=%d",
			svc.EventHistory, svc.Broadcast.MaxSubscribers, svc.Limits.MaxLineBytes)
	}
}

func TestLoadYAML(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "quorumd.yaml", `
listen_addr: ":9800"
producer_key: host
session:
  write_timeout: 750ms
  backoff:
    jitter: false
producers:
  - host: alpha
    port: 7001
  - host: beta
    port: 7001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	svc := cfg.Service
	if svc.ListenAddr != ":9800" || svc.KeyMode != producer.KeyByHost {
		t.Fatalf("unexpected service config: %+v", svc)
	}
	if svc.Session.WriteTimeout != 750*time.Millisecond || svc.Broadcast.WriteTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected write timeouts: session=%s broadcast=%s", svc.Session.WriteTimeout, svc.Broadcast.WriteTimeout)
	}
	if svc.Session.Backoff.Jitter {
		t.Fatalf("expected jitter disabled")
	}
	if svc.Session.Backoff.Multiplier != 2.0 {
		t.Fatalf("expected default multiplier, got %v", svc.Session.Backoff.Multiplier)
	}
}

func TestLoadLegacyJSON(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "conf.json", `{
  "InputServers": [
    {"Host": "192.168.1.10", "Port": 5000},
    {"Host": "192.168.1.11", "Port": 5000}
  ],
  "OutputServer": {"Port": 6000}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.ListenAddr != ":6000" {
		t.Fatalf("unexpected listen addr: %q", cfg.Service.ListenAddr)
	}
	if len(cfg.Service.Producers) != 2 || cfg.Service.Producers[0].Addr() != "192.168.1.10:5000" {
		t.Fatalf("unexpected producers: %+v", cfg.Service.Producers)
	}
	if cfg.Admin.Addr != "" {
		t.Fatalf("legacy config should leave admin disabled, got %q", cfg.Admin.Addr)
	}
}

func TestLoadLegacyJSONIgnoresExtraKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "conf.json", `{
  "Comment": "line 3 scanners",
  "InputServers": [{"Host": "192.168.1.10", "Port": 5000, "Name": "left"}],
  "OutputServer": {"Port": 6000, "Host": "0.0.0.0"}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.ListenAddr != ":6000" || len(cfg.Service.Producers) != 1 {
		t.Fatalf("unexpected service config: %+v", cfg.Service)
	}
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		file    string
		content string
	}{
		{name: "no producers", file: "a.toml", content: `listen_addr = ":1"`},
		{name: "missing host", file: "a.toml", content: "[[producers]]\nport = 1\n"},
		{name: "bad port", file: "a.toml", content: "[[producers]]\nhost = \"a\"\nport = 70000\n"},
		{name: "duplicate endpoint", file: "a.toml", content: "[[producers]]\nhost = \"a\"\nport = 1\n[[producers]]\nhost = \"a\"\nport = 1\n"},
		{name: "duplicate host under host keying", file: "a.toml", content: "producer_key = \"host\"\n[[producers]]\nhost = \"a\"\nport = 1\n[[producers]]\nhost = \"a\"\nport = 2\n"},
		{name: "unknown key mode", file: "a.toml", content: "producer_key = \"ip\"\n[[producers]]\nhost = \"a\"\nport = 1\n"},
		{name: "unknown key", file: "a.toml", content: "listen = \":1\"\n[[producers]]\nhost = \"a\"\nport = 1\n"},
		{name: "bad duration", file: "a.toml", content: "[session]\nconnect_timeout = \"soon\"\n[[producers]]\nhost = \"a\"\nport = 1\n"},
		{name: "negative duration", file: "a.toml", content: "[session]\nwrite_timeout = \"-1s\"\n[[producers]]\nhost = \"a\"\nport = 1\n"},
		{name: "low multiplier", file: "a.toml", content: "[session.backoff]\nmultiplier = 0.5\n[[producers]]\nhost = \"a\"\nport = 1\n"},
		{name: "listen conflict", file: "a.toml", content: "listen_addr = \":1\"\nlisten_port = 2\n[[producers]]\nhost = \"a\"\nport = 1\n"},
		{name: "malformed toml", file: "a.toml", content: "listen_addr = \n"},
		{name: "yaml unknown field", file: "a.yaml", content: "listen: x\nproducers:\n  - host: a\n    port: 1\n"},
		{name: "legacy missing output", file: "conf.json", content: `{"InputServers":[{"Host":"a","Port":1}]}`},
		{name: "legacy bad output port", file: "conf.json", content: `{"InputServers":[{"Host":"a","Port":1}],"OutputServer":{"Port":0}}`},
		{name: "legacy no inputs", file: "conf.json", content: `{"InputServers":[],"OutputServer":{"Port":6000}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.file, tc.content)
			if _, err := Load(path); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, ErrConfig) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrConfig wrapping ErrNotExist, got %v", err)
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"toml", "yaml"} {
		path := filepath.Join(t.TempDir(), "quorumd."+kind)
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); !errors.Is(err, ErrConfig) {
			t.Fatalf("expected refusal to overwrite, got %v", err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if len(cfg.Service.Producers) != 2 || cfg.Admin.Addr == "" {
			t.Fatalf("unexpected %s template config: %+v", kind, cfg)
		}
		if cfg.Service.EventHistory != 256 || cfg.Service.Limits.MaxLineBytes != 65536 {
			t.Fatalf("unexpected %s template limits: %+v", kind, cfg.Service)
		}
	}
	if _, err := Template("ini"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown kind, got %v", err)
	}
}
