// Package metrics holds the Prometheus collectors for the access engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lanegate"

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	decisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Count of access decisions by lane and outcome.",
		},
		[]string{"lane_id", "outcome"},
	)
	decisionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "decision_duration_seconds",
			Help:      "Time spent deciding a tag read, including membership lookup and barrier hold.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 2.5, 5},
		},
		[]string{"outcome"},
	)
	suppressedLogCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "log_suppressed_total",
			Help:      "Count of decisions not persisted because the lane episode reached its record cap.",
		},
		[]string{"lane_id"},
	)

	barrierCycleCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "barrier",
			Name:      "cycles_total",
			Help:      "Count of barrier open cycles by source and result.",
		},
		[]string{"source", "result"},
	)

	logQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "log_writer",
			Name:      "queue_depth",
			Help:      "Audit events waiting to be written.",
		},
	)
	logWriteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log_writer",
			Name:      "events_total",
			Help:      "Count of audit events by kind and result (written, failed, dropped).",
		},
		[]string{"kind", "result"},
	)

	readerConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "connected",
			Help:      "1 when the reader holds a hardware connection.",
		},
		[]string{"reader_id"},
	)
	tagReadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "tag_reads_total",
			Help:      "Count of unique tag reads forwarded to the controller.",
		},
		[]string{"reader_id"},
	)
	bufferClearCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "buffer_clears_total",
			Help:      "Count of hardware buffer clears by reason (overflow, malformed, requested).",
		},
		[]string{"reader_id", "reason"},
	)
	connectFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "connect_failures_total",
			Help:      "Count of failed reader connection attempts.",
		},
		[]string{"reader_id"},
	)
)

var registerMetrics sync.Once

// Register all metrics, plus the Go and process collectors.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			decisionCounter,
			decisionLatency,
			suppressedLogCounter,
			barrierCycleCounter,
			logQueueDepth,
			logWriteCounter,
			readerConnected,
			tagReadCounter,
			bufferClearCounter,
			connectFailureCounter,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordDecision counts one decision and observes how long it took.
func RecordDecision(laneID int, outcome string, d time.Duration) {
	decisionCounter.WithLabelValues(strconv.Itoa(laneID), outcome).Inc()
	decisionLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordSuppressedLog counts a decision skipped by the episode record cap.
func RecordSuppressedLog(laneID int) {
	suppressedLogCounter.WithLabelValues(strconv.Itoa(laneID)).Inc()
}

// RecordBarrierCycle counts one barrier cycle.  result is "ok" or "error".
func RecordBarrierCycle(source, result string) {
	barrierCycleCounter.WithLabelValues(source, result).Inc()
}

func SetLogQueueDepth(n int) {
	logQueueDepth.Set(float64(n))
}

// RecordLogEvent counts one audit event outcome in the log writer.
func RecordLogEvent(kind, result string) {
	logWriteCounter.WithLabelValues(kind, result).Inc()
}

func SetReaderConnected(readerID int, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	readerConnected.WithLabelValues(strconv.Itoa(readerID)).Set(v)
}

func RecordTagRead(readerID int) {
	tagReadCounter.WithLabelValues(strconv.Itoa(readerID)).Inc()
}

func RecordBufferClear(readerID int, reason string) {
	bufferClearCounter.WithLabelValues(strconv.Itoa(readerID), reason).Inc()
}

func RecordConnectFailure(readerID int) {
	connectFailureCounter.WithLabelValues(strconv.Itoa(readerID)).Inc()
}
