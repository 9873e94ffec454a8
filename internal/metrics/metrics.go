// Package metrics exposes device loop counters on a dedicated Prometheus
// registry, served by the status API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Publish results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	reg *prometheus.Registry

	sensorFailures *prometheus.CounterVec
	activityFired  *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	skips          *prometheus.CounterVec
	clockReady     prometheus.Gauge
	tickSeconds    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sensorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_sensor_read_failures_total",
			Help: "Sensor reads that failed or timed out, by sensor kind.",
		}, []string{"kind"}),
		activityFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_activity_fired_total",
			Help: "Cadence timer fires, by activity.",
		}, []string{"activity"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_publish_total",
			Help: "Publish attempts, by sink and result.",
		}, []string{"sink", "result"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_sink_skipped_total",
			Help: "Due sink activities skipped by the clock gate, by reason.",
		}, []string{"sink", "reason"}),
		clockReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airq_clock_ready",
			Help: "1 when wall time is valid and the link is up.",
		}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "airq_tick_seconds",
			Help:    "Duration of one device loop iteration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
	m.reg.MustRegister(
		m.sensorFailures, m.activityFired, m.publishes, m.skips, m.clockReady, m.tickSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SensorFailed(kind string) { m.sensorFailures.WithLabelValues(kind).Inc() }

func (m *Metrics) ActivityFired(activity string) { m.activityFired.WithLabelValues(activity).Inc() }

func (m *Metrics) Published(sink string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.publishes.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) Skipped(sink, reason string) { m.skips.WithLabelValues(sink, reason).Inc() }

func (m *Metrics) ClockReady(ready bool) {
	if ready {
		m.clockReady.Set(1)
		return
	}
	m.clockReady.Set(0)
}

func (m *Metrics) ObserveTick(d time.Duration) { m.tickSeconds.Observe(d.Seconds()) }
