package replay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики записи и воспроизведения.
// Все методы допускают nil-получатель, тогда метрики не собираются.
type Metrics struct {
	recorded      *prometheus.CounterVec
	recordedBytes prometheus.Counter
	rejected      prometheus.Counter
	evicted       prometheus.Counter
	snapshots     prometheus.Counter
	bufferBytes   prometheus.Gauge
	bufferPackets prometheus.Gauge

	sent    *prometheus.CounterVec
	paged   *prometheus.CounterVec
	skips   *prometheus.CounterVec
	loops   prometheus.Counter
	playing prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil - дефолтный регистр)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "record",
			Name:      "packets_total",
			Help:      "Записанные пакеты по режиму.",
		}, []string{"mode"}),
		recordedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "record",
			Name:      "bytes_total",
			Help:      "Записанные байты вместе с заголовками пакетов.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "record",
			Name:      "rejected_total",
			Help:      "Пакеты, отклонённые из-за превышения длины.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "record",
			Name:      "evicted_packets_total",
			Help:      "Пакеты, вытесненные из буфера.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "record",
			Name:      "snapshots_total",
			Help:      "Снимки состояния.",
		}),
		bufferBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replay",
			Subsystem: "record",
			Name:      "buffer_bytes",
			Help:      "Текущий размер буфера записи.",
		}),
		bufferPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replay",
			Subsystem: "record",
			Name:      "buffer_packets",
			Help:      "Текущее число пакетов в буфере записи.",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "packets_total",
			Help:      "Воспроизведённые записи по режиму.",
		}, []string{"mode"}),
		paged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "paged_packets_total",
			Help:      "Записи, подгруженные с диска при листании окна.",
		}, []string{"direction"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "skips_total",
			Help:      "Перемотки по результату.",
		}, []string{"result"}),
		loops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "loops_total",
			Help:      "Перезапуски воспроизведения по кругу.",
		}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replay",
			Subsystem: "playback",
			Name:      "playing",
			Help:      "1 если идёт воспроизведение.",
		}),
	}

	reg.MustRegister(
		m.recorded, m.recordedBytes, m.rejected, m.evicted, m.snapshots,
		m.bufferBytes, m.bufferPackets,
		m.sent, m.paged, m.skips, m.loops, m.playing,
	)
	return m
}

func (m *Metrics) packetRecorded(p *Packet) {
	if m == nil {
		return
	}
	m.recorded.WithLabelValues(p.Mode.String()).Inc()
	m.recordedBytes.Add(float64(p.WireSize()))
}

func (m *Metrics) packetRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Metrics) packetsEvicted(n int) {
	if m != nil && n > 0 {
		m.evicted.Add(float64(n))
	}
}

func (m *Metrics) snapshotSaved() {
	if m != nil {
		m.snapshots.Inc()
	}
}

func (m *Metrics) bufferSize(w *Window) {
	if m == nil {
		return
	}
	m.bufferBytes.Set(float64(w.ByteCount()))
	m.bufferPackets.Set(float64(w.PacketCount()))
}

func (m *Metrics) packetSent(p *Packet) {
	if m != nil {
		m.sent.WithLabelValues(p.Mode.String()).Inc()
	}
}

func (m *Metrics) pagedIn(direction string) {
	if m != nil {
		m.paged.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) skipped(result SkipResult) {
	if m != nil {
		m.skips.WithLabelValues(result.String()).Inc()
	}
}

func (m *Metrics) looped() {
	if m != nil {
		m.loops.Inc()
	}
}

func (m *Metrics) setPlaying(on bool) {
	if m == nil {
		return
	}
	if on {
		m.playing.Set(1)
	} else {
		m.playing.Set(0)
	}
}
