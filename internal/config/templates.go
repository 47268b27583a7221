package config

import (
	"fmt"
	"os"
)

// Template returns a commented starter document for kind "toml" or "yaml".
func Template(kind string) (string, error) {
	switch kind {
	case "", "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: unknown template kind %q", ErrConfig, kind)
	}
}

// WriteTemplate writes the starter document for kind to path.
func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: config already exists: %s", ErrConfig, path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `# subscriber listener
listen_addr = ":9500"
# admin HTTP (health, status, events, metrics); empty disables it
admin_addr = "127.0.0.1:9510"
admin_cors_origins = ["http://localhost:3000"]
# endpoint keys producers by host:port, host collapses producers sharing a host
producer_key = "endpoint"
# recent events kept for /events
event_history = 256
# 0 = unlimited
max_subscribers = 0
# longest accepted producer line, terminator included
max_line_bytes = 65536

[session]
connect_timeout = "5s"
read_timeout = "0s"
write_timeout = "2s"

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
max_attempts = 0

[[producers]]
host = "127.0.0.1"
port = 7001

[[producers]]
host = "127.0.0.1"
port = 7002
`

const yamlTemplate = `listen_addr: ":9500"
admin_addr: "127.0.0.1:9510"
admin_cors_origins:
  - "http://localhost:3000"
producer_key: endpoint
event_history: 256
max_subscribers: 0
max_line_bytes: 65536
session:
  connect_timeout: 5s
  read_timeout: 0s
  write_timeout: 2s
  backoff:
    initial_delay: 250ms
    multiplier: 2.0
    max_delay: 5s
    jitter: true
    max_attempts: 0
producers:
  - host: 127.0.0.1
    port: 7001
  - host: 127.0.0.1
    port: 7002
`
