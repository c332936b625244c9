package linkage

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidInput is returned for inconsistent run arguments.
var ErrInvalidInput = errors.New("linkage: invalid input")

// Method selects how the distance of a merged cluster to the others is derived.
type Method int

const (
	// Average weights both sides by their item count.
	Average Method = iota
	// Complete keeps the larger of the two distances.
	Complete
)

func (m Method) String() string {
	switch m {
	case Average:
		return "average"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Distance gives the dissimilarity of items i and j. +Inf means the pair
// must never end up in the same cluster.
type Distance interface {
	Distance(i, j int) float64
}

// DistanceFunc adapts a plain function to Distance.
type DistanceFunc func(i, j int) float64

func (f DistanceFunc) Distance(i, j int) float64 { return f(i, j) }

// Options configure when merging stops. A run stops as soon as Clusters
// groups remain (when Clusters > 0) or when the closest pair is further than
// MaxDistance apart.
type Options struct {
	Method      Method
	Clusters    int
	MaxDistance float64
}

// FixedCount merges until k clusters remain.
func FixedCount(method Method, k int) Options {
	return Options{Method: method, Clusters: k, MaxDistance: math.Inf(1)}
}

// MaxDistance merges while the closest pair is at most limit apart.
func MaxDistance(method Method, limit float64) Options {
	return Options{Method: method, MaxDistance: limit}
}

// Result of a linkage run.
type Result struct {
	Dendrogram *Dendrogram
	// Clusters lists item indices of every remaining cluster, ascending,
	// clusters ordered by their smallest item.
	Clusters [][]int
}

// Run agglomerates n items. metrics, when given, holds one vector per item
// that is summed up the dendrogram.
func Run(n int, dist Distance, metrics [][]float64, opts Options) (*Result, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative item count %d", ErrInvalidInput, n)
	}
	if len(metrics) != 0 && len(metrics) != n {
		return nil, fmt.Errorf("%w: %d metric vectors for %d items", ErrInvalidInput, len(metrics), n)
	}
	if dist == nil {
		return nil, fmt.Errorf("%w: nil distance", ErrInvalidInput)
	}
	dend := newDendrogram(n, metrics)
	if n == 0 {
		return &Result{Dendrogram: dend}, nil
	}

	r := &run{
		d:      mat.NewSymDense(n, nil),
		method: opts.Method,
		active: make([]bool, n),
		rep:    make([]int, n),
		size:   make([]int, n),
		nn:     make([]int, n),
		nnDist: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		r.active[i] = true
		r.rep[i] = i
		r.size[i] = 1
		for j := i + 1; j < n; j++ {
			r.d.SetSym(i, j, dist.Distance(i, j))
		}
	}
	for i := 0; i < n; i++ {
		r.refresh(i)
	}

	remaining := n
	for remaining > 1 && (opts.Clusters <= 0 || remaining > opts.Clusters) {
		i := r.closest()
		j, d := r.nn[i], r.nnDist[i]
		if j == None || math.IsInf(d, 1) || d > opts.MaxDistance {
			break
		}
		if j < i {
			i, j = j, i
		}
		r.absorb(i, j)
		r.rep[i] = dend.merge(r.rep[i], r.rep[j], d)
		remaining--
		r.refreshAfterMerge(i, j)
	}

	res := &Result{Dendrogram: dend}
	for i := 0; i < n; i++ {
		if !r.active[i] {
			continue
		}
		items := dend.LeavesOf(r.rep[i])
		sort.Ints(items)
		res.Clusters = append(res.Clusters, items)
	}
	sort.Slice(res.Clusters, func(a, b int) bool { return res.Clusters[a][0] < res.Clusters[b][0] })
	return res, nil
}

// run holds the mutable state of one agglomeration. Row i of d is the
// cluster currently represented by slot i.
type run struct {
	d      *mat.SymDense
	method Method
	active []bool
	rep    []int
	size   []int
	nn     []int
	nnDist []float64
}

func (r *run) closest() int {
	best := None
	for i, ok := range r.active {
		if !ok || r.nn[i] == None {
			continue
		}
		if best == None || r.nnDist[i] < r.nnDist[best] {
			best = i
		}
	}
	return best
}

func (r *run) refresh(i int) {
	r.nn[i], r.nnDist[i] = None, math.Inf(1)
	for j, ok := range r.active {
		if !ok || j == i {
			continue
		}
		if v := r.d.At(i, j); r.nn[i] == None || v < r.nnDist[i] {
			r.nn[i], r.nnDist[i] = j, v
		}
	}
}

// absorb folds slot j into slot i.
func (r *run) absorb(i, j int) {
	si, sj := float64(r.size[i]), float64(r.size[j])
	for m, ok := range r.active {
		if !ok || m == i || m == j {
			continue
		}
		di, dj := r.d.At(i, m), r.d.At(j, m)
		var v float64
		switch r.method {
		case Complete:
			v = math.Max(di, dj)
		default:
			v = (si*di + sj*dj) / (si + sj)
		}
		r.d.SetSym(i, m, v)
	}
	r.active[j] = false
	r.size[i] += r.size[j]
}

func (r *run) refreshAfterMerge(i, j int) {
	r.nn[j] = None
	for m, ok := range r.active {
		if !ok {
			continue
		}
		switch {
		case m == i || r.nn[m] == i || r.nn[m] == j:
			r.refresh(m)
		case r.d.At(m, i) < r.nnDist[m]:
			r.nn[m], r.nnDist[m] = i, r.d.At(m, i)
		}
	}
}
