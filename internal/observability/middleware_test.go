package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/quorumline/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newLoggedRouter(buf *bytes.Buffer, state func() RelayState) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(buf).Level(zerolog.DebugLevel), state))
	r.GET("/status", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})
	return r
}

func TestRequestLoggerCarriesRelayState(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := newLoggedRouter(&buf, func() RelayState {
		return RelayState{ListenAddr: "127.0.0.1:9500", Round: 12, Subscribers: 3}
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected generated request id header")
	}
	out := buf.String()
	for _, want := range []string{`"relay_addr":"127.0.0.1:9500"`, `"round":12`, `"subscribers":3`, `"path":"/status"`, `"status":503`, `"request_id":"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line missing %s: %s", want, out)
		}
	}
}

func TestRequestLoggerKeepsCallerRequestID(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := newLoggedRouter(&buf, nil)

	req := httptest.NewRequest(http.MethodGet, "/missing/abc", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("unexpected request id: %q", rr.Header().Get(RequestIDHeader))
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"path":"unmatched"`) {
		t.Fatalf("unexpected log line: %s", out)
	}
	if strings.Contains(out, "relay_addr") {
		t.Fatalf("relay fields logged without a state func: %s", out)
	}
}
