package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorumline",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quorumline",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	producerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorumline",
			Subsystem: "producer",
			Name:      "frames_total",
			Help:      "Lines received from producers by decode result.",
		},
		[]string{"producer", "result"},
	)
	producerDials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorumline",
			Subsystem: "producer",
			Name:      "dials_total",
			Help:      "Producer dial attempts by result.",
		},
		[]string{"producer", "result"},
	)
	producerConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quorumline",
			Subsystem: "producer",
			Name:      "connected",
			Help:      "1 while the producer connection is established.",
		},
		[]string{"producer"},
	)
	rounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorumline",
			Subsystem: "round",
			Name:      "evaluations_total",
			Help:      "Released rounds by consistency outcome.",
		},
		[]string{"outcome"},
	)
	roundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quorumline",
			Subsystem: "round",
			Name:      "duration_seconds",
			Help:      "Time from round start to barrier release.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	broadcastWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorumline",
			Subsystem: "broadcast",
			Name:      "writes_total",
			Help:      "Per-subscriber result writes by result.",
		},
		[]string{"result"},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quorumline",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Live subscriber connections.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			producerFrames,
			producerDials,
			producerConnected,
			rounds,
			roundDuration,
			broadcastWrites,
			subscribers,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(producer, result string) {
	RegisterMetrics()
	producerFrames.WithLabelValues(producer, result).Inc()
}

func RecordDial(producer string, success bool) {
	RegisterMetrics()
	result := "error"
	if success {
		result = "ok"
	}
	producerDials.WithLabelValues(producer, result).Inc()
}

func SetProducerConnected(producer string, connected bool) {
	RegisterMetrics()
	v := 0.0
	if connected {
		v = 1
	}
	producerConnected.WithLabelValues(producer).Set(v)
}

func RecordRound(outcome string, elapsed time.Duration) {
	RegisterMetrics()
	rounds.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		roundDuration.Observe(elapsed.Seconds())
	}
}

func RecordBroadcastWrite(success bool) {
	RegisterMetrics()
	result := "error"
	if success {
		result = "ok"
	}
	broadcastWrites.WithLabelValues(result).Inc()
}

func SetSubscribers(n int) {
	RegisterMetrics()
	subscribers.Set(float64(n))
}
