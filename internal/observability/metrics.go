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
			Namespace: "telemlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "telemlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	syncDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "sync",
			Name:      "dropped_total",
			Help:      "Stuffed messages dropped by the synchronizer.",
		},
		[]string{"path", "reason"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Decoded messages by validation result.",
		},
		[]string{"path", "result"},
	)
	framesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "aggregator",
			Name:      "frames_total",
			Help:      "Assembled frames closed by a sequence marker.",
		},
		[]string{"path"},
	)
	frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "telemlink",
			Subsystem: "aggregator",
			Name:      "frame_bytes",
			Help:      "Assembled frame size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		},
		[]string{"path"},
	)
	downsample = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "downsampler",
			Name:      "decisions_total",
			Help:      "Downsampler forward/suppress decisions.",
		},
		[]string{"path", "decision"},
	)
	relayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames submitted to the relay registry by outcome.",
		},
		[]string{"source", "result"},
	)
	relayConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "relay",
			Name:      "connects_total",
			Help:      "Relay connection attempts.",
		},
		[]string{"source", "success"},
	)
	relayConnectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "telemlink",
			Subsystem: "relay",
			Name:      "connect_duration_seconds",
			Help:      "Relay connection establishment time.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"success"},
	)
	relayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "telemlink",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Relay connections currently established.",
		},
	)
	transportWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "telemlink",
			Subsystem: "transport",
			Name:      "writes_total",
			Help:      "Transport writes by outcome.",
		},
		[]string{"transport", "result"},
	)
	transportPaused = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "telemlink",
			Subsystem: "transport",
			Name:      "backpressure",
			Help:      "1 while a transport's write gate is closed.",
		},
		[]string{"transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			syncDrops, messages,
			framesClosed, frameBytes, downsample,
			relayFrames, relayConnects, relayConnectDuration, relayConnections,
			transportWrites, transportPaused,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSyncDrop(path, reason string) {
	RegisterMetrics()
	syncDrops.WithLabelValues(path, reason).Inc()
}

// RecordMessage counts one decoded message; result is ok, short or crc.
func RecordMessage(path, result string) {
	RegisterMetrics()
	messages.WithLabelValues(path, result).Inc()
}

func RecordFrameClosed(path string, size int) {
	RegisterMetrics()
	framesClosed.WithLabelValues(path).Inc()
	frameBytes.WithLabelValues(path).Observe(float64(size))
}

func RecordDownsample(path string, forwarded bool) {
	RegisterMetrics()
	decision := "suppressed"
	if forwarded {
		decision = "forwarded"
	}
	downsample.WithLabelValues(path, decision).Inc()
}

// RecordRelayFrame counts one registry submission outcome.
func RecordRelayFrame(source, result string) {
	RegisterMetrics()
	relayFrames.WithLabelValues(source, result).Inc()
}

func RecordRelayConnect(source string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	relayConnects.WithLabelValues(source, successLabel).Inc()
	relayConnectDuration.WithLabelValues(successLabel).Observe(duration.Seconds())
	if success {
		relayConnections.Inc()
	}
}

func RecordRelayDisconnect() {
	RegisterMetrics()
	relayConnections.Dec()
}

// RecordTransportWrite counts one write; result is ok, gated or error.
func RecordTransportWrite(transport, result string) {
	RegisterMetrics()
	transportWrites.WithLabelValues(transport, result).Inc()
}

func RecordBackpressure(transport string, paused bool) {
	RegisterMetrics()
	v := 0.0
	if paused {
		v = 1
	}
	transportPaused.WithLabelValues(transport).Set(v)
}
