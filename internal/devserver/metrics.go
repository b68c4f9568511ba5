package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dev server's Prometheus collectors.
type Metrics struct {
	Connections    prometheus.Gauge
	Sessions       prometheus.Gauge
	SessionsTotal  prometheus.Counter
	AudioBytes     prometheus.Counter
	AudioFrames    prometheus.Counter
	EventsSent     *prometheus.CounterVec
	Uploads        *prometheus.CounterVec
	UploadBytes    prometheus.Counter
	ConnectRejects *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicenote_dev_connections",
			Help: "Currently open Socket.IO connections",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicenote_dev_sessions_active",
			Help: "Currently active voice sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "voicenote_dev_sessions_total",
			Help: "Voice sessions started",
		}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "voicenote_dev_audio_bytes_total",
			Help: "PCM16 bytes received from clients",
		}),
		AudioFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "voicenote_dev_audio_frames_total",
			Help: "Audio events received from clients",
		}),
		EventsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenote_dev_events_sent_total",
			Help: "Events emitted to clients",
		}, []string{"event"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenote_dev_uploads_total",
			Help: "Upload requests by outcome",
		}, []string{"status"}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "voicenote_dev_upload_bytes_total",
			Help: "Bytes accepted by the upload endpoint",
		}),
		ConnectRejects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenote_dev_connect_rejects_total",
			Help: "Namespace connects refused",
		}, []string{"reason"}),
	}
}
