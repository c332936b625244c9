package kmeans

// assignAll assigns every item and applies the empty-cluster policy until
// no cluster is empty. Recovery attempts are bounded; past the bound empty
// clusters are eliminated whatever the policy.
func (r *ClusteringRun) assignAll() error {
	for {
		r.assign()
		empty := r.emptyClusters()
		if len(empty) == 0 {
			return nil
		}
		r.emptyTries++
		if r.emptyTries > r.tune.EmptyAttemptsPerItem*len(r.items) {
			r.eliminate(empty)
			continue
		}
		switch r.opts.OnEmpty {
		case Terminate:
			return &EmptyClusterError{Target: r.targets[r.centroids[empty[0]].Target].ID, Iteration: r.iterations}
		case Eliminate:
			r.eliminate(empty)
		case Random:
			r.reseed(empty, false)
		case Indices:
			r.reseed(empty, true)
		}
	}
}

func (r *ClusteringRun) emptyClusters() []int {
	var out []int
	for c, members := range r.clusters {
		if len(members) == 0 {
			out = append(out, c)
		}
	}
	return out
}

func (r *ClusteringRun) eliminate(empty []int) {
	drop := make(map[int]bool, len(empty))
	for _, c := range empty {
		drop[c] = true
		r.evicted = append(r.evicted, r.centroids[c].Target)
	}
	kept := r.centroids[:0]
	for c, cen := range r.centroids {
		if !drop[c] {
			kept = append(kept, cen)
		}
	}
	r.centroids = kept
}

// reseed moves each empty centroid onto a new item. Spare indices are tried
// first when requested; a cluster without any candidate is eliminated.
func (r *ClusteringRun) reseed(empty []int, spare bool) {
	used := map[locationKey]bool{}
	for c := range r.centroids {
		if members := r.clusters[c]; len(members) > 0 {
			used[r.keyOf(members[0])] = true
		}
	}
	donor := map[int]bool{}
	for _, members := range r.clusters {
		if len(members) > 1 {
			for _, idx := range members {
				donor[idx] = true
			}
		}
	}

	var lost []int
	for _, c := range empty {
		t := r.centroids[c].Target
		idx := -1
		if spare {
			idx = r.popSpare(t, used)
		}
		if idx < 0 {
			idx = r.pickSeed(t, used, func(i int) bool { return donor[i] })
		}
		if idx < 0 {
			lost = append(lost, c)
			continue
		}
		used[r.keyOf(idx)] = true
		limit := r.centroids[c].Limit
		r.centroids[c] = r.newCentroid(t, idx)
		r.centroids[c].Limit = limit
		r.moveToFront(idx)
	}
	if len(lost) > 0 {
		r.eliminate(lost)
	}
}

func (r *ClusteringRun) popSpare(t int, used map[locationKey]bool) int {
	for len(r.spare) > 0 {
		idx := r.spare[0]
		r.spare = r.spare[1:]
		if idx < 0 || idx >= len(r.items) || used[r.keyOf(idx)] {
			continue
		}
		if r.compat.Compatible(&r.items[idx], &r.targets[t]) {
			return idx
		}
	}
	return -1
}
