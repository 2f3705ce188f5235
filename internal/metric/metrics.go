// internal/metric/metrics.go
package metric

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"acquisition-service/internal/model"
)

const namespace = "acquisition"

var connectionStates = []model.ConnectionState{
	model.ConnectionStateDisconnected,
	model.ConnectionStateConnecting,
	model.ConnectionStateConnected,
	model.ConnectionStateError,
}

// Metrics contains the acquisition pipeline metrics
type Metrics struct {
	// Transport
	BytesReceived   prometheus.Counter
	ConnectAttempts *prometheus.CounterVec
	ConnectionState *prometheus.GaugeVec

	// Decoder
	RecordsDecoded   prometheus.Counter
	DecodeErrors     prometheus.Counter
	FramingOverflows prometheus.Counter

	// Store
	PointsIngested prometheus.Counter
	PointsEvicted  prometheus.Counter
	Channels       prometheus.Gauge
}

// NewMetrics creates the acquisition metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Total number of bytes read from the transport",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Connect commands by result",
		}, []string{"result"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		RecordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "records_total",
			Help:      "Total number of accepted sample records",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Total number of rejected records",
		}),
		FramingOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "framing_overflows_total",
			Help:      "Total number of discarded pending tails",
		}),
		PointsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "points_ingested_total",
			Help:      "Total number of points appended to channel series",
		}),
		PointsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "points_evicted_total",
			Help:      "Total number of points evicted from full channel series",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "channels",
			Help:      "Number of known channels",
		}),
	}

	collectorsToRegister := []prometheus.Collector{
		m.BytesReceived,
		m.ConnectAttempts,
		m.ConnectionState,
		m.RecordsDecoded,
		m.DecodeErrors,
		m.FramingOverflows,
		m.PointsIngested,
		m.PointsEvicted,
		m.Channels,
	}
	for _, c := range collectorsToRegister {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register acquisition metric: %w", err)
		}
	}

	m.SetConnectionState(model.ConnectionStateDisconnected)
	return m, nil
}

// SetConnectionState marks state as the current one
func (m *Metrics) SetConnectionState(state model.ConnectionState) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(value)
	}
}

// NewRegistry creates a registry with Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
