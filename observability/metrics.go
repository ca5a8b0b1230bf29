package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Admission decisions by result. Watch for: out_of_stock spikes at sale
	// start, duplicate_order rate (retry storms).
	AdmissionsTotal *prometheus.CounterVec

	// Orders written to the relational store. Should converge to the number
	// of accepted admissions.
	OrdersPersistedTotal prometheus.Counter

	// Records re-delivered through the pending list. Watch for: sustained
	// growth = persistence layer unhealthy.
	PendingReplaysTotal prometheus.Counter

	// Records acknowledged without persistence after bounded retries.
	// Any nonzero value deserves investigation.
	PoisonRecordsTotal prometheus.Counter

	// Persist attempts abandoned because the per-user lock was held.
	// These records are retried via the pending list, not dropped.
	LockAbandonedTotal prometheus.Counter

	// Asynchronous envelope rebuilds by outcome (ok, failed, pool_full,
	// lock_error).
	CacheRebuildsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsaleAdmissionsTotal",
			Help: "Total number of flash-sale admission decisions",
		},
		[]string{"result"},
	)
	OrdersPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashsaleOrdersPersistedTotal",
			Help: "Total number of orders written to the relational store",
		},
	)
	PendingReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashsalePendingReplaysTotal",
			Help: "Total number of records recovered through the pending list",
		},
	)
	PoisonRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashsalePoisonRecordsTotal",
			Help: "Total number of records skipped after bounded delivery attempts",
		},
	)
	LockAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashsaleLockAbandonedTotal",
			Help: "Total number of persist attempts abandoned on lock contention",
		},
	)
	CacheRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsaleCacheRebuildsTotal",
			Help: "Total number of asynchronous cache rebuilds by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		AdmissionsTotal,
		OrdersPersistedTotal,
		PendingReplaysTotal,
		PoisonRecordsTotal,
		LockAbandonedTotal,
		CacheRebuildsTotal,
	)
}

// Handler returns an HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
