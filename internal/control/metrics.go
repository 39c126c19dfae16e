package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quasar-relay/quasar/internal/hub"
	"github.com/quasar-relay/quasar/internal/slots"
)

// oscCounters is the slice of oscingest.Listener that metrics cares about.
// Declared as an interface rather than importing oscingest directly so the
// control package's dependency graph stays one-directional (control reads
// from hub/slots/voice; oscingest has no reason to know about control).
type oscCounters interface {
	MessagesCount() int64
	MalformedCount() int64
}

// metricsCollector mirrors Stats, the OSC listener's counters, and the Slot
// Scheduler's allocation count as Prometheus collectors, sampled on scrape
// rather than pushed, since every underlying value is already an atomic
// counter or cheap snapshot.
type metricsCollector struct {
	h          *hub.Hub
	sched      *slots.Scheduler
	osc        oscCounters
	pulsarUpFn func() bool

	framesRelayed    *prometheus.Desc
	oscMessages      *prometheus.Desc
	clientsConnected *prometheus.Desc
	bridgesSpawned   *prometheus.Desc
	malformedOSC     *prometheus.Desc
	slotsAllocated   *prometheus.Desc
	pulsarUp         *prometheus.Desc
}

func newMetricsCollector(h *hub.Hub, sched *slots.Scheduler, osc oscCounters, pulsarUp func() bool) *metricsCollector {
	return &metricsCollector{
		h:                h,
		sched:            sched,
		osc:              osc,
		pulsarUpFn:       pulsarUp,
		framesRelayed:    prometheus.NewDesc("quasar_frames_relayed_total", "Total ASCII frames relayed to browsers.", nil, nil),
		oscMessages:      prometheus.NewDesc("quasar_osc_messages_total", "Total OSC messages decoded.", nil, nil),
		clientsConnected: prometheus.NewDesc("quasar_clients_connected", "Currently connected WebSocket peers.", nil, nil),
		bridgesSpawned:   prometheus.NewDesc("quasar_bridges_spawned_total", "Total bridge-spawn requests fulfilled.", nil, nil),
		malformedOSC:     prometheus.NewDesc("quasar_osc_malformed_total", "Total OSC datagrams dropped as malformed.", nil, nil),
		slotsAllocated:   prometheus.NewDesc("quasar_slots_allocated", "Currently allocated PULSAR slots.", nil, nil),
		pulsarUp:         prometheus.NewDesc("quasar_pulsar_up", "1 if the PULSAR channel is currently connected.", nil, nil),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesRelayed
	ch <- c.oscMessages
	ch <- c.clientsConnected
	ch <- c.bridgesSpawned
	ch <- c.malformedOSC
	ch <- c.slotsAllocated
	ch <- c.pulsarUp
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.h.Stats()
	ch <- prometheus.MustNewConstMetric(c.framesRelayed, prometheus.CounterValue, float64(stats.FramesRelayed.Load()))
	ch <- prometheus.MustNewConstMetric(c.clientsConnected, prometheus.GaugeValue, float64(stats.ClientsConnected.Load()))
	ch <- prometheus.MustNewConstMetric(c.bridgesSpawned, prometheus.CounterValue, float64(stats.BridgesSpawned.Load()))
	ch <- prometheus.MustNewConstMetric(c.slotsAllocated, prometheus.GaugeValue, float64(c.sched.AllocatedCount()))

	if c.osc != nil {
		ch <- prometheus.MustNewConstMetric(c.oscMessages, prometheus.CounterValue, float64(c.osc.MessagesCount()))
		ch <- prometheus.MustNewConstMetric(c.malformedOSC, prometheus.CounterValue, float64(c.osc.MalformedCount()))
	}

	up := 0.0
	if c.pulsarUpFn != nil && c.pulsarUpFn() {
		up = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.pulsarUp, prometheus.GaugeValue, up)
}

// RegisterMetrics wires a /metrics endpoint backed by h's, sched's, and
// osc's live counters. pulsarUp reports whether the PULSAR channel is
// currently believed to be connected.
func RegisterMetrics(mux *http.ServeMux, h *hub.Hub, sched *slots.Scheduler, osc oscCounters, pulsarUp func() bool) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newMetricsCollector(h, sched, osc, pulsarUp))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
