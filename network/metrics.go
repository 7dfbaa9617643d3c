package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transport-level Prometheus metrics.
type Metrics struct {
	// Outbound
	Dispatches       *prometheus.CounterVec
	DispatchFailures *prometheus.CounterVec
	RPCIssued        prometheus.Counter
	RPCCompleted     *prometheus.CounterVec

	// Inbound
	InboundFrames    *prometheus.CounterVec
	InboundDropped   prometheus.Counter
	RPCOrphanReplies prometheus.Counter
}

// RPC completion outcomes for the rpc_completed_total metric.
const (
	OutcomeResponse  = "response"
	OutcomeTimeout   = "timeout"
	OutcomeDecode    = "decode_error"
	OutcomeWrongKind = "wrong_kind"
	OutcomeCancelled = "cancelled"
)

// NewMetrics creates transport metrics registered with reg under the
// given namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total hand-offs accepted by the transport, by channel",
		}, []string{"channel"}),
		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Total hand-offs rejected by the transport, by channel",
		}, []string{"channel"}),
		RPCIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_issued_total",
			Help:      "Total RPC requests issued",
		}),
		RPCCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_completed_total",
			Help:      "Total RPC terminal outcomes, by outcome",
		}, []string{"outcome"}),
		InboundFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_frames_total",
			Help:      "Total frames received, by channel",
		}, []string{"channel"}),
		InboundDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_dropped_total",
			Help:      "Total inbound frames dropped (unknown channel, full queue, decode failure)",
		}),
		RPCOrphanReplies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_orphan_replies_total",
			Help:      "Total RPC replies with no matching pending request",
		}),
	}
}
