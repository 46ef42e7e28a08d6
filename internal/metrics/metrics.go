// Package metrics exposes the interpreter's self-observability surface.
//
// Grounded on the teacher's go.mod, which carries github.com/prometheus/
// client_golang and github.com/felixge/fgprof as direct dependencies for
// exactly this purpose (Prometheus counters/histograms plus an on-demand
// wall-clock profile endpoint) even though the retrieved overlay slice of
// erigon doesn't itself exercise them; this package is where memtrace picks
// that stack back up (SPEC_FULL.md §10/§11).
package metrics

import (
	"net/http"
	"net/http/pprof"

	"github.com/felixge/fgprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the interpreter updates while resolving a
// capture. It is created once per process and passed down to the
// components that need to record against it.
type Registry struct {
	reg *prometheus.Registry

	EventsProcessed   *prometheus.CounterVec
	ResolveDuration   prometheus.Histogram
	ResolveCacheHits  prometheus.Counter
	ResolveCacheMiss  prometheus.Counter
	ModulesLoaded     prometheus.Gauge
	LiveAllocBytes    prometheus.Gauge
	LiveAllocCount    prometheus.Gauge
}

// New builds a Registry with all metrics registered and ready to record.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		EventsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "memtrace",
			Subsystem: "interpreter",
			Name:      "events_processed_total",
			Help:      "Ledger events processed, by kind (alloc, free, trace, ...).",
		}, []string{"kind"}),
		ResolveDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "memtrace",
			Subsystem: "interpreter",
			Name:      "resolve_duration_seconds",
			Help:      "Time to resolve one instruction pointer to a Location.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		ResolveCacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "memtrace",
			Subsystem: "interpreter",
			Name:      "resolve_cache_hits_total",
			Help:      "Instruction-pointer resolutions served from the LRU cache.",
		}),
		ResolveCacheMiss: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "memtrace",
			Subsystem: "interpreter",
			Name:      "resolve_cache_misses_total",
			Help:      "Instruction-pointer resolutions that required parsing debug info.",
		}),
		ModulesLoaded: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "memtrace",
			Subsystem: "interpreter",
			Name:      "modules_loaded",
			Help:      "Code images recorded in the ledger when the resolver was built.",
		}),
		LiveAllocBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "memtrace",
			Subsystem: "accum",
			Name:      "live_alloc_bytes",
			Help:      "Bytes currently attributed to outstanding allocations.",
		}),
		LiveAllocCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "memtrace",
			Subsystem: "accum",
			Name:      "live_alloc_count",
			Help:      "Count of outstanding allocations.",
		}),
	}
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return r
}

// Handler serves Prometheus text exposition for this registry, plus
// fgprof's wall-clock profile (complementary to pprof's CPU-only sampling
// and useful here because resolution spends real time blocked on file I/O,
// which a CPU profile alone would hide) and the standard net/http/pprof
// handlers mounted on mux.
func (r *Registry) Handler(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	mux.Handle("/debug/fgprof", fgprof.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
