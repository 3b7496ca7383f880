// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gochat"

// Metrics groups every collector the gateway updates.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	Connects          prometheus.Counter
	AuthFailures      prometheus.Counter
	MessagesRouted    *prometheus.CounterVec
	ActionErrors      *prometheus.CounterVec
	GroupsCreated     prometheus.Counter
	GroupsDeleted     prometheus.Counter
	SignalsDropped    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Authenticated connections currently open.",
		}),
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connects_total",
			Help: "Successful authenticated connects.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total",
			Help: "Connects rejected by the identity verifier.",
		}),
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_routed_total",
			Help: "Persisted messages by target kind and delivery status.",
		}, []string{"target", "status"}),
		ActionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "action_errors_total",
			Help: "Inbound actions answered with an error signal.",
		}, []string{"event", "type"}),
		GroupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "groups_created_total",
			Help: "Groups created.",
		}),
		GroupsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "groups_deleted_total",
			Help: "Groups soft-deleted by their owner or by becoming empty.",
		}),
		SignalsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_dropped_total",
			Help: "Outbound signals dropped because the connection was gone or its buffer was full.",
		}),
	}
	reg.MustRegister(
		m.ConnectionsActive, m.Connects, m.AuthFailures, m.MessagesRouted,
		m.ActionErrors, m.GroupsCreated, m.GroupsDeleted, m.SignalsDropped,
	)
	return m
}

// NewUnregistered returns collectors that are not exported anywhere.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
