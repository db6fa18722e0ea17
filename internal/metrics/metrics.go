// Package metrics exposes Prometheus instrumentation for queue drops,
// tier occupancy, sampler jitter, and pcap buffer state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors jittertrapd registers.
type Registry struct {
	QueueDropped    *prometheus.CounterVec
	QueueDelivered  *prometheus.CounterVec
	TierConsumers   *prometheus.GaugeVec
	SessionsActive  prometheus.Gauge
	SamplerWhoosh   prometheus.Histogram
	PcapBufferBytes prometheus.Gauge
	PcapDropped     prometheus.Counter
}

// NewRegistry creates and registers every collector.
func NewRegistry() *Registry {
	return &Registry{
		QueueDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jittertrap_queue_dropped_total",
			Help: "Total messages dropped by the drop-slow-consumer policy, by tier.",
		}, []string{"tier"}),
		QueueDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jittertrap_queue_delivered_total",
			Help: "Total messages delivered to consumers, by tier.",
		}, []string{"tier"}),
		TierConsumers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jittertrap_tier_consumers",
			Help: "Current number of subscribed consumers, by tier.",
		}, []string{"tier"}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jittertrap_sessions_active",
			Help: "Number of currently connected WebSocket sessions.",
		}),
		SamplerWhoosh: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "jittertrap_sampler_whoosh_error_ns",
			Help:    "Sampler deadline-miss error, in nanoseconds.",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 10),
		}),
		PcapBufferBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jittertrap_pcap_buffer_bytes",
			Help: "Current memory used by the rolling pcap buffer.",
		}),
		PcapDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "jittertrap_pcap_dropped_total",
			Help: "Total packets evicted from the rolling pcap buffer.",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
