package split

import (
	"fmt"
	"time"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/linkage"
	"vrpsplit/internal/metrics"
)

// Hierarchical builds the full average-linkage tree of the items and cuts it
// into about parts groups of equal metric load. distance, when not nil, is
// read at item matrix indices.
func Hierarchical(items []kmeans.Item, parts int, metric string, distance [][]float64) ([][]int, error) {
	started := time.Now()
	loads := make([][]float64, len(items))
	for i, it := range items {
		loads[i] = []float64{it.Quantities[metric]}
	}
	dist := linkage.DistanceFunc(func(i, j int) float64 {
		a, b := &items[i], &items[j]
		if distance != nil && a.MatrixIndex >= 0 && b.MatrixIndex >= 0 {
			return at(distance, a.MatrixIndex, b.MatrixIndex)
		}
		return geo.FlyingDistance(a.Location, b.Location)
	})
	res, err := linkage.Run(len(items), dist, loads, linkage.FixedCount(linkage.Average, 1))
	if err != nil {
		metrics.Runs.WithLabelValues("hierarchical", "error").Inc()
		return nil, fmt.Errorf("hierarchical: %w", err)
	}
	metrics.Merges.WithLabelValues(linkage.Average.String()).Add(float64(res.Dendrogram.Merges()))

	groups, err := res.Dendrogram.SplitByMetric(0, parts)
	if err != nil {
		metrics.Runs.WithLabelValues("hierarchical", "error").Inc()
		return nil, fmt.Errorf("hierarchical: %w", err)
	}
	metrics.Runs.WithLabelValues("hierarchical", "ok").Inc()
	metrics.RunDuration.WithLabelValues("hierarchical").Observe(time.Since(started).Seconds())
	return groups, nil
}
