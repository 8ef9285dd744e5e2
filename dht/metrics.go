package dht

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for one Node. Every field
// is safe to read from multiple goroutines, per the client_golang
// contract. A nil *Metrics is never handed to callers: NewNode falls
// back to NewMetrics(nil), which registers against a private registry
// so two Nodes in the same process never collide on metric names.
type Metrics struct {
	HeadProbeHealthy   prometheus.Counter
	HeadProbeEvicted   prometheus.Counter
	LookupTimeouts     prometheus.Counter
	StoresIssued       prometheus.Counter
	ReplicationActions prometheus.Counter
	ExpirationActions  prometheus.Counter
}

// NewMetrics builds a Metrics registered against reg. If reg is nil, a
// fresh prometheus.Registry is used, so multiple Nodes in one process
// can each get their own Metrics without a duplicate-registration panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		HeadProbeHealthy: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Subsystem: "routing",
			Name:      "head_probe_healthy_total",
			Help:      "Head-probe pings that responded within freshness, retaining the bucket head.",
		}),
		HeadProbeEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Subsystem: "routing",
			Name:      "head_probe_evicted_total",
			Help:      "Head-probe pings that failed, evicting the bucket head for a new contact.",
		}),
		LookupTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Subsystem: "lookup",
			Name:      "rpc_timeouts_total",
			Help:      "Iterative-lookup RPCs that errored or timed out.",
		}),
		StoresIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Subsystem: "storage",
			Name:      "stores_issued_total",
			Help:      "Outbound STORE RPCs issued by IterativeStore that completed without error.",
		}),
		ReplicationActions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Subsystem: "maintenance",
			Name:      "replication_actions_total",
			Help:      "Items re-stored by the replicate maintenance pass.",
		}),
		ExpirationActions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kad",
			Subsystem: "maintenance",
			Name:      "expiration_actions_total",
			Help:      "Items deleted by the expire maintenance pass.",
		}),
	}
}
