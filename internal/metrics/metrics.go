package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the shop's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	admissions    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	wsClients     prometheus.Gauge
	wsDropped     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftshop",
			Name:      "admissions_total",
			Help:      "Order admission attempts by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftshop",
			Name:      "notifications_total",
			Help:      "Outbound order notifications by outcome.",
		}, []string{"outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nftshop",
			Name:      "realtime_clients",
			Help:      "Connected realtime clients.",
		}),
		wsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftshop",
			Name:      "realtime_dropped_frames_total",
			Help:      "Frames dropped because a client's send buffer was full.",
		}),
	}
	reg.MustRegister(
		m.admissions,
		m.notifications,
		m.wsClients,
		m.wsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Admission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.wsDropped.Inc()
}
