// Package metrics exposes Prometheus instrumentation for the shim engine.
// It is registered once via Init and is read-only from every other
// package's perspective: they only ever call Inc/Observe/Set.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TranslationTotal counts translator invocations by cache outcome.
	TranslationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgshim_translation_total",
			Help: "Total number of SQL translation pipeline invocations",
		},
		[]string{"outcome"}, // hit, miss, error
	)

	// TranslationLatency tracks translation pipeline latency on cache misses.
	TranslationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgshim_translation_latency_seconds",
			Help:    "Latency of the SQL translation pipeline on cache misses",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StatementStepTotal counts step() calls by statement role and outcome.
	StatementStepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgshim_statement_step_total",
			Help: "Total number of statement step() calls",
		},
		[]string{"role", "outcome"}, // role: read/write/skip/passthrough; outcome: row/done/error
	)

	// RemoteQueryLatency tracks round-trip latency for remote PostgreSQL queries.
	RemoteQueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgshim_remote_query_latency_seconds",
			Help:    "Latency of queries executed against the remote PostgreSQL session",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	// ResultCacheHits/Misses track the per-thread result cache.
	ResultCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgshim_result_cache_hits_total",
			Help: "Total result cache hits across all threads",
		},
	)
	ResultCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgshim_result_cache_misses_total",
			Help: "Total result cache misses across all threads",
		},
	)

	// PoolSlotState tracks the current count of slots in each pool state.
	PoolSlotState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgshim_pool_slot_state",
			Help: "Number of connection pool slots currently in each state",
		},
		[]string{"state"},
	)

	// PoolAcquireTotal counts successful pool acquisitions by whether the
	// thread-local hint was reused or a slot was found by scanning.
	PoolAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgshim_pool_acquire_total",
			Help: "Total connection pool acquisitions by path",
		},
		[]string{"path"}, // hint, scan
	)

	// WorkerDelegationTotal counts prepare calls delegated to the worker.
	WorkerDelegationTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgshim_worker_delegation_total",
			Help: "Total prepare calls delegated to the worker thread",
		},
	)

	once sync.Once
)

// Init registers all metrics with the default Prometheus registry. Safe
// to call more than once; registration only happens on the first call.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			TranslationTotal,
			TranslationLatency,
			StatementStepTotal,
			RemoteQueryLatency,
			ResultCacheHits,
			ResultCacheMisses,
			PoolSlotState,
			PoolAcquireTotal,
			WorkerDelegationTotal,
		)
	})
}

// Handler returns the Prometheus scrape handler, exposed by the
// diagnostic cmd/pgshimctl tool (the engine itself has no HTTP surface).
func Handler() http.Handler {
	return promhttp.Handler()
}
