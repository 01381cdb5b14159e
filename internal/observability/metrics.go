package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/nxwire/internal/protocol/schema"
	"github.com/danmuck/nxwire/internal/protocol/session"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nxwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxwire",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames read or written, by direction and command.",
		},
		[]string{"session", "direction", "code"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxwire",
			Subsystem: "session",
			Name:      "frame_errors_total",
			Help:      "Inbound frames that failed to decode, by kind.",
		},
		[]string{"session", "kind"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxwire",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Correlated requests by outcome.",
		},
		[]string{"session", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nxwire",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Time from request submission to outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"session", "outcome"},
	)
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxwire",
			Subsystem: "session",
			Name:      "transfers_total",
			Help:      "Chunked transfers by outcome.",
		},
		[]string{"session", "outcome"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nxwire",
			Subsystem: "session",
			Name:      "notifications_total",
			Help:      "Inbound messages that matched no pending request.",
		},
		[]string{"session", "code"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nxwire",
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently open sessions.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesTotal, frameErrors,
			requestsTotal, requestDuration,
			transfersTotal, notificationsTotal,
			sessionsActive,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// SessionOpened and SessionClosed track the active session gauge.
func SessionOpened() { RegisterMetrics(); sessionsActive.Inc() }
func SessionClosed() { RegisterMetrics(); sessionsActive.Dec() }

// SessionMetrics records connection events for one named session.
type SessionMetrics struct {
	Session string
}

var _ session.Observer = SessionMetrics{}

func NewSessionMetrics(name string) SessionMetrics {
	RegisterMetrics()
	return SessionMetrics{Session: name}
}

func (m SessionMetrics) FrameIn(code uint16) {
	framesTotal.WithLabelValues(m.Session, "in", schema.CodeName(code)).Inc()
}

func (m SessionMetrics) FrameOut(code uint16) {
	framesTotal.WithLabelValues(m.Session, "out", schema.CodeName(code)).Inc()
}

func (m SessionMetrics) FrameError(kind string) {
	frameErrors.WithLabelValues(m.Session, kind).Inc()
}

func (m SessionMetrics) RequestDone(outcome string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(m.Session, outcome).Inc()
	requestDuration.WithLabelValues(m.Session, outcome).Observe(elapsed.Seconds())
}

func (m SessionMetrics) TransferDone(outcome string) {
	transfersTotal.WithLabelValues(m.Session, outcome).Inc()
}

func (m SessionMetrics) Notification(code uint16) {
	notificationsTotal.WithLabelValues(m.Session, schema.CodeName(code)).Inc()
}
