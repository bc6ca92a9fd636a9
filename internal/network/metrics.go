package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NetworkMetrics счётчики канала живого трафика и канала зрителей.
// nil-получатель допустим.
type NetworkMetrics struct {
	feedFrames      *prometheus.CounterVec
	feedErrors      prometheus.Counter
	feedDropped     prometheus.Counter
	spectators      prometheus.Gauge
	spectatorBytes  prometheus.Counter
	spectatorDrops  prometheus.Counter
	feedConnections prometheus.Gauge
}

// NewNetworkMetrics регистрирует метрики в reg (nil - дефолтный регистр)
func NewNetworkMetrics(reg prometheus.Registerer) *NetworkMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &NetworkMetrics{
		feedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "feed",
			Name:      "frames_total",
			Help:      "Кадры живого трафика по режиму.",
		}, []string{"mode"}),
		feedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Кадры, которые не удалось применить или записать.",
		}),
		feedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "feed",
			Name:      "dropped_total",
			Help:      "Кадры, отброшенные из-за переполнения очереди тика.",
		}),
		feedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replay",
			Subsystem: "feed",
			Name:      "connections",
			Help:      "Подключённые источники живого трафика.",
		}),
		spectators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replay",
			Subsystem: "spectator",
			Name:      "connections",
			Help:      "Подключённые зрители.",
		}),
		spectatorBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "spectator",
			Name:      "bytes_sent_total",
			Help:      "Байты, отправленные зрителям.",
		}),
		spectatorDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "spectator",
			Name:      "dropped_total",
			Help:      "Сообщения, не поместившиеся в буфер отправки зрителя.",
		}),
	}
	reg.MustRegister(m.feedFrames, m.feedErrors, m.feedDropped, m.feedConnections,
		m.spectators, m.spectatorBytes, m.spectatorDrops)
	return m
}

func (m *NetworkMetrics) frame(mode string) {
	if m != nil {
		m.feedFrames.WithLabelValues(mode).Inc()
	}
}

func (m *NetworkMetrics) feedError() {
	if m != nil {
		m.feedErrors.Inc()
	}
}

func (m *NetworkMetrics) feedDrop() {
	if m != nil {
		m.feedDropped.Inc()
	}
}

func (m *NetworkMetrics) feedConn(delta float64) {
	if m != nil {
		m.feedConnections.Add(delta)
	}
}

func (m *NetworkMetrics) spectatorConn(delta float64) {
	if m != nil {
		m.spectators.Add(delta)
	}
}

func (m *NetworkMetrics) sent(n int) {
	if m != nil {
		m.spectatorBytes.Add(float64(n))
	}
}

func (m *NetworkMetrics) spectatorDrop() {
	if m != nil {
		m.spectatorDrops.Inc()
	}
}
