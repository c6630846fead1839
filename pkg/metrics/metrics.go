// Package metrics registers the ambient Prometheus counters/gauges this
// server exposes and serves them alongside a liveness probe. No stream
// status page lives here (§4 "Supplemented Features" keeps the HTTP/XML
// status page itself out of scope); this is observability only.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns one Prometheus registry and the gauges/counters every
// Stream instance reports into, keyed by stream ID.
type Registry struct {
	reg *prometheus.Registry

	PacketsSent   *prometheus.CounterVec
	OctetsSent    *prometheus.CounterVec
	CCErrors      *prometheus.GaugeVec
	ActiveClients *prometheus.GaugeVec
	RingDepth     *prometheus.GaugeVec
}

// NewRegistry builds a fresh, independent Prometheus registry (never the
// global default, so multiple streams/tests never collide on metric
// registration).
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.PacketsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "satipd",
		Name:      "rtp_packets_sent_total",
		Help:      "Total RTP datagrams sent, per stream.",
	}, []string{"stream_id"})

	r.OctetsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "satipd",
		Name:      "rtp_octets_sent_total",
		Help:      "Total RTP datagram octets sent (12-byte header included), per stream.",
	}, []string{"stream_id"})

	r.CCErrors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "satipd",
		Name:      "mpegts_cc_errors_total",
		Help:      "Cumulative MPEG-TS continuity counter errors, per stream.",
	}, []string{"stream_id"})

	r.ActiveClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "satipd",
		Name:      "stream_active_clients",
		Help:      "Number of attached client slots, per stream.",
	}, []string{"stream_id"})

	r.RingDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "satipd",
		Name:      "producer_ring_depth",
		Help:      "Number of datagrams queued in per-client send queues but not yet sent, per stream.",
	}, []string{"stream_id"})

	r.reg.MustRegister(r.PacketsSent, r.OctetsSent, r.CCErrors, r.ActiveClients, r.RingDepth)
	return r
}

// ObserveStream records one sampling pass over a stream's snapshot fields
// (packets/octets are deltas the caller accumulates; errors/clients/depth
// are point-in-time gauges).
func (r *Registry) ObserveStream(streamID int, sentPacketsDelta, sentOctetsDelta int, ccErrors uint64, activeClients, ringDepth int) {
	label := strconv.Itoa(streamID)
	if sentPacketsDelta > 0 {
		r.PacketsSent.WithLabelValues(label).Add(float64(sentPacketsDelta))
	}
	if sentOctetsDelta > 0 {
		r.OctetsSent.WithLabelValues(label).Add(float64(sentOctetsDelta))
	}
	r.CCErrors.WithLabelValues(label).Set(float64(ccErrors))
	r.ActiveClients.WithLabelValues(label).Set(float64(activeClients))
	r.RingDepth.WithLabelValues(label).Set(float64(ringDepth))
}
