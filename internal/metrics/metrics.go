// Package metrics provides Prometheus metrics for the authentication service.
// All metrics use the "ticketauth" namespace and are registered with the default
// registry via promauto, so they are scraped on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ticketauth"

var (
	// AuthEventsTotal counts recorded audit events by kind.
	AuthEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Total number of recorded authentication events by kind.",
		},
		[]string{"kind"},
	)

	// RateLimitedTotal counts rejected requests by caller role.
	// role: anonymous | consumer | engineer | admin
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter by caller role.",
		},
		[]string{"role"},
	)

	// SuspiciousLoginsTotal counts failed logins from addresses absent from recent successes.
	SuspiciousLoginsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_logins_total",
			Help:      "Total number of failed logins flagged as suspicious.",
		},
	)

	// NotificationsTotal counts outbound notifications by result.
	// result: sent | failed | dropped
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of outbound notifications by result.",
		},
		[]string{"result"},
	)

	// AuditPurgedTotal counts audit events removed by retention sweeps.
	AuditPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_purged_total",
			Help:      "Total number of audit events removed by retention sweeps.",
		},
	)
)
