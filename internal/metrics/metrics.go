// Package metrics exposes the fleet controller's Prometheus instruments. It
// is deliberately flat (package-level promauto vars registered once at
// import time) rather than a constructor-per-collector registry: this
// module has one fleet per process, not dittofs's pluggable-adapter
// cardinality, so there is nothing to parameterize a registry over.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks FleetManager's current occupancy.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessionfleet_sessions_active",
		Help: "Number of sessions currently held by this fleet controller.",
	})

	// SessionsCreatedTotal counts every successful FleetManager.Create call.
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionfleet_sessions_created_total",
		Help: "Total number of sessions created, including reconnects and bootstrap adoptions.",
	})

	// DisconnectsTotal counts disconnects by classification kind (§7's
	// Transient/Remediable/Terminal/Validation/Capacity taxonomy).
	DisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionfleet_disconnects_total",
		Help: "Total number of upstream disconnects by classification kind.",
	}, []string{"kind"})

	// HandoverClaimsTotal counts successful web-to-worker handover claims (§4.7).
	HandoverClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionfleet_handover_claims_total",
		Help: "Total number of sessions a worker-tier detection loop successfully claimed.",
	})
)
