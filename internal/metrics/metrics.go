// Package metrics provides Prometheus metrics for the PPP-over-UDP transport.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pppoat_udp"
)

// Retry reasons.
const (
	RetryInterrupted = "eintr"
	RetryWouldBlock  = "eagain"
)

// Drop reasons.
const (
	DropForeignSender = "foreign_sender"
)

// Metrics contains all Prometheus metrics for a transport process.
type Metrics struct {
	// Traffic metrics
	DatagramsSent     prometheus.Counter
	DatagramsReceived prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	DatagramsDropped  *prometheus.CounterVec

	// Send path
	SendRetries   *prometheus.CounterVec
	DatagramSizes prometheus.Histogram

	// Lifecycle
	TransportRunning prometheus.Gauge
	LoopExits        *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics registered with the default
// registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default
// registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "Total datagrams sent to the remote endpoint",
		}),
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams accepted from the remote endpoint",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent over UDP",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes written to the link",
		}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Total datagrams dropped by reason",
		}, []string{"reason"}),
		SendRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_retries_total",
			Help:      "Total send attempts retried by reason",
		}, []string{"reason"}),
		DatagramSizes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datagram_size_bytes",
			Help:      "Histogram of sent datagram payload sizes",
			Buckets:   []float64{64, 128, 256, 512, 1024, 1500, 2048, 4096, 8192, 16384, 65507},
		}),
		TransportRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_running",
			Help:      "Number of forwarding loops currently running",
		}),
		LoopExits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_exits_total",
			Help:      "Total forwarding loop exits by reason",
		}, []string{"reason"}),
	}
}

// RecordSent records a datagram handed to the socket.
func (m *Metrics) RecordSent(bytes int) {
	m.DatagramsSent.Inc()
	m.BytesSent.Add(float64(bytes))
	m.DatagramSizes.Observe(float64(bytes))
}

// RecordReceived records a datagram delivered to the link.
func (m *Metrics) RecordReceived(bytes int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordDrop records a discarded datagram.
func (m *Metrics) RecordDrop(reason string) {
	m.DatagramsDropped.WithLabelValues(reason).Inc()
}

// RecordRetry records a send retry.
func (m *Metrics) RecordRetry(reason string) {
	m.SendRetries.WithLabelValues(reason).Inc()
}

// RecordLoopStart marks a forwarding loop as running.
func (m *Metrics) RecordLoopStart() {
	m.TransportRunning.Inc()
}

// RecordLoopExit marks a forwarding loop as finished.
func (m *Metrics) RecordLoopExit(reason string) {
	m.TransportRunning.Dec()
	m.LoopExits.WithLabelValues(reason).Inc()
}
