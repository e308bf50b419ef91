package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "weather_station"

// Metrics holds the station's collectors, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	DispatchTotal      *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	SensorReadFailures *prometheus.CounterVec
	PollCyclesTotal    prometheus.Counter
	PollCycleDuration  prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Delivery attempts per sink and outcome status",
		}, []string{"sink", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent delivering one measurement to a sink",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		SensorReadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_read_failures_total",
			Help:      "Failed sensor reads",
		}, []string{"sensor"}),
		PollCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles",
		}),
		PollCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of one read and dispatch cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.SensorReadFailures,
		m.PollCyclesTotal,
		m.PollCycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveDispatch records one sink outcome.
func (m *Metrics) ObserveDispatch(sink, status string, elapsed time.Duration) {
	m.DispatchTotal.WithLabelValues(sink, status).Inc()
	if status != "skipped" {
		m.DispatchDuration.WithLabelValues(sink).Observe(elapsed.Seconds())
	}
}

// ObserveSensorFailure counts a failed read of the named sensor.
func (m *Metrics) ObserveSensorFailure(sensor string) {
	m.SensorReadFailures.WithLabelValues(sensor).Inc()
}

// ObserveCycle records one finished poll cycle.
func (m *Metrics) ObserveCycle(elapsed time.Duration) {
	m.PollCyclesTotal.Inc()
	m.PollCycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
