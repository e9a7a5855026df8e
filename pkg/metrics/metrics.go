// Package metrics exposes the data plane's health counters to Prometheus:
// queue drops, pool pressure, transport churn, and pipeline stalls. The
// sources are lock-free counters sampled by a ticker, not instrumented
// hot paths; the audio loop never touches a metric directly.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitony/voicegear/pkg/audiopipe"
	"github.com/hitony/voicegear/pkg/conversation"
	"github.com/hitony/voicegear/pkg/mempool"
)

// Metrics holds every exported series, registered on a private registry so
// multiple instances (tests) never collide.
type Metrics struct {
	reg *prometheus.Registry

	// Queue metrics
	QueueDrops *prometheus.GaugeVec
	QueueDepth *prometheus.GaugeVec

	// Pool metrics
	PoolInUse     *prometheus.GaugeVec
	PoolExhausted *prometheus.GaugeVec

	// Pipeline metrics
	PlaybackUnderruns prometheus.Gauge
	RingDrops         prometheus.Gauge
	ShortRecordings   prometheus.Gauge
	EchoDisables      prometheus.Gauge

	// Session metrics
	State         prometheus.Gauge
	Reconnects    prometheus.Gauge
	BinaryDropped prometheus.Gauge
}

// New creates and registers all series.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)

	return &Metrics{
		reg: reg,

		QueueDrops: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicegear_queue_dropped",
			Help: "Messages dropped on push per bounded queue",
		}, []string{"queue"}),
		QueueDepth: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicegear_queue_depth",
			Help: "Current occupancy per bounded queue",
		}, []string{"queue"}),

		PoolInUse: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicegear_pool_blocks_in_use",
			Help: "Allocated blocks per pool size class",
		}, []string{"block_size"}),
		PoolExhausted: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicegear_pool_exhausted",
			Help: "Failed allocations per pool size class",
		}, []string{"block_size"}),

		PlaybackUnderruns: auto.NewGauge(prometheus.GaugeOpts{
			Name: "voicegear_playback_underruns",
			Help: "Playback polls that found no queued packet",
		}),
		RingDrops: auto.NewGauge(prometheus.GaugeOpts{
			Name: "voicegear_capture_ring_dropped_samples",
			Help: "Capture samples lost to full sample rings",
		}),
		ShortRecordings: auto.NewGauge(prometheus.GaugeOpts{
			Name: "voicegear_short_recordings",
			Help: "Recordings discarded as false triggers",
		}),
		EchoDisables: auto.NewGauge(prometheus.GaugeOpts{
			Name: "voicegear_echo_cancel_disables",
			Help: "Times the echo canceller was disabled for eating the signal",
		}),

		State: auto.NewGauge(prometheus.GaugeOpts{
			Name: "voicegear_conversation_state",
			Help: "Conversation state (0 idle, 1 recording, 2 speaking, 3 music, 4 error)",
		}),
		Reconnects: auto.NewGauge(prometheus.GaugeOpts{
			Name: "voicegear_transport_connects",
			Help: "Successful transport connections",
		}),
		BinaryDropped: auto.NewGauge(prometheus.GaugeOpts{
			Name: "voicegear_binary_rejected",
			Help: "Binary payloads rejected outside a playback state",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObservePool publishes one arena stats snapshot.
func (m *Metrics) ObservePool(stats []mempool.ClassStats) {
	for _, st := range stats {
		size := strconv.Itoa(st.BlockSize)
		m.PoolInUse.WithLabelValues(size).Set(float64(st.InUse))
		m.PoolExhausted.WithLabelValues(size).Set(float64(st.Exhausted))
	}
}

// ObservePipeline publishes one pipeline stats snapshot.
func (m *Metrics) ObservePipeline(s audiopipe.Stats) {
	m.PlaybackUnderruns.Set(float64(s.Underruns))
	m.RingDrops.Set(float64(s.RingDrops))
	m.ShortRecordings.Set(float64(s.ShortRecordings))
	m.EchoDisables.Set(float64(s.EchoDisables))
}

// ObserveSession publishes one conversation snapshot.
func (m *Metrics) ObserveSession(s *conversation.Session) {
	if s == nil {
		return
	}
	m.State.Set(float64(s.State))
	m.Reconnects.Set(float64(s.Reconnects))
	m.BinaryDropped.Set(float64(s.BinDropped))
}

// ObserveQueue publishes one queue's depth and drop count.
func (m *Metrics) ObserveQueue(name string, depth int, dropped uint64) {
	m.QueueDepth.WithLabelValues(name).Set(float64(depth))
	m.QueueDrops.WithLabelValues(name).Set(float64(dropped))
}
