// Package metrics holds the Prometheus collectors shared by the store,
// gateway, stream client and poller. Every method is safe on a nil
// *Collectors so components can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

const namespace = "ecp_client"

// Collectors groups all client-side metrics.
type Collectors struct {
	GatewayRequests     *prometheus.CounterVec
	GatewayFallbacks    prometheus.Counter
	StoreWrites         *prometheus.CounterVec
	StoreMigrations     *prometheus.CounterVec
	StreamState         *prometheus.GaugeVec
	StreamReconnects    prometheus.Counter
	StreamSnapshots     prometheus.Counter
	StreamFramesDropped prometheus.Counter
	PollRefreshes       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway operations by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),
		GatewayFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "aggregate_fallbacks_total",
			Help:      "Aggregate metric requests answered from a degraded local estimate.",
		}),
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Versioned store mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		StoreMigrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "migrations_total",
			Help:      "Schema migrations performed on load, by outcome.",
		}, []string{"outcome"}),
		StreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "state",
			Help:      "1 for the current stream client state, 0 otherwise.",
		}, []string{"state"}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after abnormal closes.",
		}),
		StreamSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "snapshots_total",
			Help:      "Metric snapshots delivered to subscribers.",
		}),
		StreamFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped because they could not be parsed.",
		}),
		PollRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "refreshes_total",
			Help:      "Poller refreshes by consumer, trigger and outcome.",
		}, []string{"consumer", "trigger", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			c.GatewayRequests,
			c.GatewayFallbacks,
			c.StoreWrites,
			c.StoreMigrations,
			c.StreamState,
			c.StreamReconnects,
			c.StreamSnapshots,
			c.StreamFramesDropped,
			c.PollRefreshes,
		)
	}
	return c
}

// Outcome maps an error to a low-cardinality label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := tenant.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

func (c *Collectors) GatewayRequest(backend, op string, err error) {
	if c == nil {
		return
	}
	c.GatewayRequests.WithLabelValues(backend, op, Outcome(err)).Inc()
}

func (c *Collectors) GatewayFallback() {
	if c == nil {
		return
	}
	c.GatewayFallbacks.Inc()
}

func (c *Collectors) StoreWrite(op string, err error) {
	if c == nil {
		return
	}
	c.StoreWrites.WithLabelValues(op, Outcome(err)).Inc()
}

func (c *Collectors) StoreMigration(err error) {
	if c == nil {
		return
	}
	c.StoreMigrations.WithLabelValues(Outcome(err)).Inc()
}

// StreamStateChanged flips the state gauge from prev to next.
func (c *Collectors) StreamStateChanged(prev, next string) {
	if c == nil {
		return
	}
	if prev != "" {
		c.StreamState.WithLabelValues(prev).Set(0)
	}
	c.StreamState.WithLabelValues(next).Set(1)
}

func (c *Collectors) StreamReconnect() {
	if c == nil {
		return
	}
	c.StreamReconnects.Inc()
}

func (c *Collectors) StreamSnapshot() {
	if c == nil {
		return
	}
	c.StreamSnapshots.Inc()
}

func (c *Collectors) StreamFrameDropped() {
	if c == nil {
		return
	}
	c.StreamFramesDropped.Inc()
}

func (c *Collectors) PollRefresh(consumer, trigger string, err error) {
	if c == nil {
		return
	}
	c.PollRefreshes.WithLabelValues(consumer, trigger, Outcome(err)).Inc()
}
