package kmeans

import "gonum.org/v1/gonum/floats"

// updateLimits derives per-target limits from the work time left once
// depot trips are paid, when clustering on duration. Each limit stays
// within [MinLimitScale, MaxLimitScale] of the plain work-time share.
func (r *ClusteringRun) updateLimits() {
	if r.rate == 0 || r.cutSymbol != DurationUnit || !r.workLimits {
		return
	}
	work := make([]float64, len(r.centroids))
	naive := make([]float64, len(r.centroids))
	for c, cen := range r.centroids {
		t := &r.targets[cen.Target]
		work[c] = t.TotalWorkTime - r.tune.DepotTripFactor*cen.DepotDuration*t.TotalWorkDays
		naive[c] = t.TotalWorkTime
	}
	sumWork, sumNaive := floats.Sum(work), floats.Sum(naive)
	if sumWork <= 0 || sumNaive <= 0 {
		return
	}
	for c := range r.centroids {
		base := r.totalCut * naive[c] / sumNaive
		limit := r.totalCut * work[c] / sumWork
		limit = max(r.tune.MinLimitScale*base, min(limit, r.tune.MaxLimitScale*base))
		r.centroids[c].Limit = limit * r.opts.CutRatio
	}
}
