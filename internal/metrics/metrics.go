package metrics

import (
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

var (
	// Registry is the dedicated Prometheus registry for clustering runs
	Registry = prometheus.NewRegistry()
	// Runs counts partition runs by algorithm and outcome
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpsplit_runs_total", Help: "Partition runs by algorithm and outcome."},
		[]string{"algorithm", "outcome"},
	)
	// RunDuration records run durations in seconds
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "vrpsplit_run_duration_seconds", Help: "Partition run duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"algorithm"},
	)
	// KmeansIterations tracks iterations per k-means restart
	KmeansIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "vrpsplit_kmeans_iterations", Help: "Iterations per k-means restart.", Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 300}},
	)
	// EvictedTargets counts clusters eliminated because they became empty
	EvictedTargets = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "vrpsplit_evicted_targets_total", Help: "Targets whose cluster was eliminated."},
	)
	// Merges counts linkage merges by method
	Merges = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpsplit_linkage_merges_total", Help: "Linkage merges by method."},
		[]string{"method"},
	)
	// HullFallbacks counts concave hulls replaced by the convex hull
	HullFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "vrpsplit_hull_fallbacks_total", Help: "Concave hulls that fell back to convex."},
	)
	// UnzipReorders counts expanded zip groups by ordering method
	UnzipReorders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpsplit_unzip_reorders_total", Help: "Unzipped groups by ordering method."},
		[]string{"method"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Runs)
		Registry.MustRegister(RunDuration)
		Registry.MustRegister(KmeansIterations)
		Registry.MustRegister(EvictedTargets)
		Registry.MustRegister(Merges)
		Registry.MustRegister(HullFallbacks)
		Registry.MustRegister(UnzipReorders)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// WriteText writes every family gathered from Registry in the text
// exposition format.
func WriteText(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
