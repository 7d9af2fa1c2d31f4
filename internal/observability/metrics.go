package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_sdk_active_connections",
		Help: "Number of open service connections",
	})

	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_sdk_connect_attempts_total",
		Help: "Total number of connection attempts",
	}, []string{"status"})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_sdk_connect_latency_seconds",
		Help:    "Time to open a service connection in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_sdk_reconnects_total",
		Help: "Total number of automatic reconnects after a connection loss",
	})

	// Turn metrics
	activeTurns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_sdk_active_turns",
		Help: "Number of turns in flight",
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_sdk_turns_total",
		Help: "Total number of completed turns",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_sdk_turn_duration_seconds",
		Help:    "Duration of turns from start to completion in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	firstResultLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_sdk_first_result_latency_seconds",
		Help:    "Time from turn start to the first service result in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Wire metrics
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_sdk_messages_total",
		Help: "Total protocol messages by direction and path",
	}, []string{"direction", "path"})

	framingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_sdk_framing_errors_total",
		Help: "Total inbound frames dropped as malformed",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_sdk_errors_total",
		Help: "Total number of errors",
	}, []string{"code", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_sdk_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_sdk_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_sdk_audio_bytes_total",
		Help: "Total audio bytes streamed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// TurnMetrics tracks metrics for a single turn
type TurnMetrics struct {
	requestID   string
	startTime   time.Time
	firstResult time.Time
	mu          sync.Mutex
	ended       bool
}

// NewTurnMetrics starts tracking a turn
func NewTurnMetrics(requestID string) *TurnMetrics {
	activeTurns.Inc()
	return &TurnMetrics{
		requestID: requestID,
		startTime: time.Now(),
	}
}

// RecordFirstResult records the first service result for the turn. Later
// calls are ignored.
func (m *TurnMetrics) RecordFirstResult() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.firstResult.IsZero() || m.ended {
		return
	}
	m.firstResult = time.Now()
	firstResultLatency.Observe(m.firstResult.Sub(m.startTime).Seconds())
}

// RecordTurnEnd records completion with outcome "success", "canceled" or an
// error code. Only the first call counts.
func (m *TurnMetrics) RecordTurnEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeTurns.Dec()
	turnDuration.Observe(time.Since(m.startTime).Seconds())
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordConnect records a connection attempt
func RecordConnect(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	connectAttempts.WithLabelValues(status).Inc()
	if success {
		connectLatency.Observe(latency.Seconds())
		activeConnections.Inc()
	}
}

// RecordDisconnect records a previously opened connection closing
func RecordDisconnect() {
	activeConnections.Dec()
}

// RecordReconnect records an automatic reconnect
func RecordReconnect() {
	reconnects.Inc()
}

// RecordMessage records a protocol message. direction is "in" or "out".
func RecordMessage(direction, path string) {
	messagesTotal.WithLabelValues(direction, path).Inc()
}

// RecordFramingError records a dropped malformed frame
func RecordFramingError() {
	framingErrors.Inc()
}

// RecordError records an error
func RecordError(code, component string) {
	errorsTotal.WithLabelValues(code, component).Inc()
}

// RecordAudioBytes records audio bytes streamed
func RecordAudioBytes(direction string, bytes int) {
	audioBytes.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
