package split

import (
	"vrpsplit/internal/geo"
	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/metrics"
)

// Hulls outlines each group of items. Items without coordinates are
// skipped.
func Hulls(items []kmeans.Item, groups [][]int) [][]geo.Point {
	out := make([][]geo.Point, len(groups))
	for g, members := range groups {
		var pts []geo.Point
		for _, i := range members {
			if loc := items[i].Location; loc != nil {
				pts = append(pts, *loc)
			}
		}
		ring, concave := geo.Hull(pts)
		if !concave {
			metrics.HullFallbacks.Inc()
		}
		out[g] = ring
	}
	return out
}
