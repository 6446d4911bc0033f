// Package metrics exposes camlink counters on a dedicated Prometheus
// registry. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camlink"

// Collector holds every camlink metric.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	handovers       prometheus.Counter
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	framesDecoded   prometheus.Counter
	decoderResyncs  prometheus.Counter
	previewFrames   *prometheus.CounterVec
	queueDropped    prometheus.Counter
	congestion      prometheus.Gauge
	previewQuality  prometheus.Gauge
	poolMisses      prometheus.Counter
	cameraConnected prometheus.Gauge
	mediaSaved      *prometheus.CounterVec
	archiveUploads  *prometheus.CounterVec
}

// New registers all metrics plus the Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected TCP sessions.",
		}),
		handovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_handovers_total",
			Help:      "Times the controller role moved to another session.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched commands by name and result.",
		}, []string{"command", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Handler latency by command.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"command"}),
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Valid frames extracted from client streams.",
		}),
		decoderResyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoder_resyncs_total",
			Help:      "Decoder resynchronisations after corrupt input.",
		}),
		previewFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_frames_total",
			Help:      "Preview frames by outcome.",
		}, []string{"result"}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_queue_dropped_total",
			Help:      "Outbound frames dropped because a session queue was full.",
		}),
		congestion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "congestion_level",
			Help:      "Current congestion level of the preview stream (0..1).",
		}),
		previewQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preview_quality",
			Help:      "JPEG quality of the last preview frame.",
		}),
		poolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_pool_misses_total",
			Help:      "Frame buffer acquisitions that found the pool empty.",
		}),
		cameraConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_connected",
			Help:      "1 when the camera link is up.",
		}),
		mediaSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_saved_total",
			Help:      "Images and videos written to storage.",
		}, []string{"kind"}),
		archiveUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      "Archive uploads by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.handovers,
		c.commands,
		c.commandDuration,
		c.framesDecoded,
		c.decoderResyncs,
		c.previewFrames,
		c.queueDropped,
		c.congestion,
		c.previewQuality,
		c.poolMisses,
		c.cameraConnected,
		c.mediaSaved,
		c.archiveUploads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the dedicated registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SessionOpened() {
	if c != nil {
		c.sessionsActive.Inc()
	}
}

func (c *Collector) SessionClosed() {
	if c != nil {
		c.sessionsActive.Dec()
	}
}

func (c *Collector) Handover() {
	if c != nil {
		c.handovers.Inc()
	}
}

// Command records one dispatch. result is "ok", "failed" or "rejected".
func (c *Collector) Command(name, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(name, result).Inc()
	c.commandDuration.WithLabelValues(name).Observe(d.Seconds())
}

// Decoded adds decoder progress since the last call.
func (c *Collector) Decoded(frames, resyncs int) {
	if c == nil {
		return
	}
	c.framesDecoded.Add(float64(frames))
	c.decoderResyncs.Add(float64(resyncs))
}

func (c *Collector) PreviewSent(quality int) {
	if c == nil {
		return
	}
	c.previewFrames.WithLabelValues("sent").Inc()
	c.previewQuality.Set(float64(quality))
}

func (c *Collector) PreviewSkipped() {
	if c != nil {
		c.previewFrames.WithLabelValues("skipped").Inc()
	}
}

func (c *Collector) QueueDropped() {
	if c != nil {
		c.queueDropped.Inc()
	}
}

func (c *Collector) SetCongestion(level float64) {
	if c != nil {
		c.congestion.Set(level)
	}
}

// PoolMisses adds n buffer pool misses.
func (c *Collector) PoolMisses(n uint64) {
	if c != nil && n > 0 {
		c.poolMisses.Add(float64(n))
	}
}

func (c *Collector) SetCameraConnected(up bool) {
	if c == nil {
		return
	}
	if up {
		c.cameraConnected.Set(1)
	} else {
		c.cameraConnected.Set(0)
	}
}

func (c *Collector) MediaSaved(kind string) {
	if c != nil {
		c.mediaSaved.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) ArchiveUpload(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.archiveUploads.WithLabelValues("ok").Inc()
	} else {
		c.archiveUploads.WithLabelValues("failed").Inc()
	}
}
