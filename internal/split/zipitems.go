package split

import (
	"fmt"
	"math"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/linkage"
	"vrpsplit/internal/metrics"
)

// MaxZipDistance in meters bounds the spread of items merged by Zip.
const MaxZipDistance = 50.0

// Zip merges items closer than MaxZipDistance under complete linkage.
// Items are never merged when either is marked do-not-group, when no target
// can serve both, or when their combined load exceeds the smallest target
// capacity. distance, when not nil, is read at item matrix indices, else
// the flying distance is used.
func (d *Dataset) Zip(targets []kmeans.Target, distance [][]float64) (*Dataset, error) {
	n := len(d.Items)
	if n < 2 {
		return d, nil
	}
	compat := kmeans.SkillsCompatibility{}
	serves := make([][]bool, n)
	for i := range d.Items {
		serves[i] = make([]bool, len(targets))
		for t := range targets {
			serves[i][t] = compat.Compatible(&d.Items[i], &targets[t])
		}
	}
	minCap := map[string]float64{}
	for _, t := range targets {
		for unit, c := range t.Capacities {
			if cur, ok := minCap[unit]; !ok || c < cur {
				minCap[unit] = c
			}
		}
	}

	dist := linkage.DistanceFunc(func(i, j int) float64 {
		a, b := &d.Items[i], &d.Items[j]
		if d.noGroup[i] || d.noGroup[j] || !shareTarget(serves[i], serves[j]) {
			return math.Inf(1)
		}
		for unit, limit := range minCap {
			if a.Quantities[unit]+b.Quantities[unit] > limit {
				return math.Inf(1)
			}
		}
		if distance != nil && a.MatrixIndex >= 0 && b.MatrixIndex >= 0 {
			return math.Min(at(distance, a.MatrixIndex, b.MatrixIndex), at(distance, b.MatrixIndex, a.MatrixIndex))
		}
		return geo.FlyingDistance(a.Location, b.Location)
	})
	res, err := linkage.Run(n, dist, nil, linkage.MaxDistance(linkage.Complete, MaxZipDistance))
	if err != nil {
		return nil, fmt.Errorf("zip items: %w", err)
	}
	metrics.Merges.WithLabelValues(linkage.Complete.String()).Add(float64(res.Dendrogram.Merges()))

	// pairwise checks can still admit a group that is infeasible as a
	// whole, so members are folded one at a time and split off when the
	// merged item would lose its last vehicle, day or capacity headroom
	fits := func(head, src *kmeans.Item) (kmeans.Item, bool) {
		merged := cloneItem(*head)
		mergeItem(&merged, src)
		if emptied(head.VehicleIDs, src.VehicleIDs, merged.VehicleIDs) || emptied(head.DaySkills, src.DaySkills, merged.DaySkills) {
			return merged, false
		}
		for unit, limit := range minCap {
			if merged.Quantities[unit] > limit {
				return merged, false
			}
		}
		for t := range targets {
			if compat.Compatible(&merged, &targets[t]) {
				return merged, true
			}
		}
		return merged, false
	}

	out := &Dataset{}
	for _, group := range res.Clusters {
		first := len(out.Items)
		for _, idx := range group {
			placed := false
			for b := first; b < len(out.Items); b++ {
				if merged, ok := fits(&out.Items[b], &d.Items[idx]); ok {
					out.Items[b] = merged
					out.Members[b] = append(out.Members[b], d.Members[idx]...)
					placed = true
					break
				}
			}
			if !placed {
				out.Items = append(out.Items, cloneItem(d.Items[idx]))
				out.Members = append(out.Members, append([]int(nil), d.Members[idx]...))
				out.noGroup = append(out.noGroup, d.noGroup[idx])
			}
		}
	}
	return out, nil
}

// mergeItem adds the load of src to dst. Sticky vehicles and days are
// intersected when both sides constrain them, skills are united.
func mergeItem(dst, src *kmeans.Item) {
	for unit, q := range src.Quantities {
		dst.Quantities[unit] += q
	}
	dst.VehicleIDs = intersect(dst.VehicleIDs, src.VehicleIDs)
	dst.DaySkills = intersect(dst.DaySkills, src.DaySkills)
	for _, s := range src.Skills {
		if !contains(dst.Skills, s) {
			dst.Skills = append(dst.Skills, s)
		}
	}
}

func intersect(a, b []string) []string {
	if len(a) == 0 {
		return append([]string(nil), b...)
	}
	if len(b) == 0 {
		return a
	}
	var out []string
	for _, x := range a {
		if contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}

// emptied reports whether two constrained sets intersected to nothing.
func emptied(a, b, merged []string) bool {
	return len(a) > 0 && len(b) > 0 && len(merged) == 0
}

func contains(xs []string, x string) bool {
	for _, y := range xs {
		if y == x {
			return true
		}
	}
	return false
}

func shareTarget(a, b []bool) bool {
	for t := range a {
		if a[t] && b[t] {
			return true
		}
	}
	return false
}

func cloneItem(it kmeans.Item) kmeans.Item {
	out := it
	out.Quantities = make(map[string]float64, len(it.Quantities))
	for k, v := range it.Quantities {
		out.Quantities[k] = v
	}
	out.VehicleIDs = append([]string(nil), it.VehicleIDs...)
	out.Skills = append([]string(nil), it.Skills...)
	out.DaySkills = append([]string(nil), it.DaySkills...)
	out.DepotDurations = append([]float64(nil), it.DepotDurations...)
	return out
}

func at(table [][]float64, i, j int) float64 {
	if i >= len(table) || j >= len(table[i]) {
		return math.Inf(1)
	}
	return table[i][j]
}
