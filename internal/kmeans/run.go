package kmeans

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/monitoring"
)

// ClusteringRun owns all mutable state of one balanced k-means run. It is
// not safe for concurrent use; independent runs may execute in parallel.
type ClusteringRun struct {
	items      []Item
	targets    []Target
	opts       Options
	tune       Tuning
	dist       Distance
	compat     Compatibility
	rng        *rand.Rand
	matrixMode bool
	workLimits bool

	order     []int
	centroids []Centroid
	previous  []Centroid
	clusters  [][]int
	loads     []map[string]float64

	cutSymbol   string
	totalCut    float64
	assignedCut float64
	percent     float64
	balancing   bool
	rate        float64

	iterations int
	movement   float64
	window     []float64
	emptyTries int
	spare      []int
	evicted    []int
}

// Build validates the input and runs balanced k-means to completion.
func Build(items []Item, targets []Target, opts Options) (*Result, error) {
	r, err := NewRun(items, targets, opts)
	if err != nil {
		return nil, err
	}
	return r.Run()
}

// NewRun validates the input and prepares a run. Items and targets are
// read, never modified.
func NewRun(items []Item, targets []Target, opts Options) (*ClusteringRun, error) {
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("%w: max iterations must be positive, got %d", ErrConfiguration, opts.MaxIterations)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to cluster", ErrConfiguration)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrConfiguration)
	}
	k := opts.Clusters
	if k <= 0 {
		k = len(targets)
	}
	if k > len(targets) {
		return nil, fmt.Errorf("%w: %d clusters requested for %d targets", ErrConfiguration, k, len(targets))
	}
	switch opts.OnEmpty {
	case "":
		opts.OnEmpty = Eliminate
	case Terminate, Eliminate, Random, Indices:
	default:
		return nil, fmt.Errorf("%w: unknown empty-cluster policy %q", ErrConfiguration, opts.OnEmpty)
	}
	if opts.CutRatio <= 0 {
		opts.CutRatio = 1
	}

	r := &ClusteringRun{
		items:      items,
		targets:    targets,
		opts:       opts,
		tune:       DefaultTuning(),
		dist:       opts.Distance,
		compat:     opts.Compatibility,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		matrixMode: opts.Matrix != nil,
		cutSymbol:  opts.CutSymbol,
		spare:      append([]int(nil), opts.SpareIndices...),
	}
	if opts.Tuning != nil {
		r.tune = *opts.Tuning
	}
	if err := r.validateModes(k); err != nil {
		return nil, err
	}
	if r.dist == nil {
		if r.matrixMode {
			r.dist = MatrixDistance{M: opts.Matrix}
		} else {
			r.dist = FlyingDistance{}
		}
	}
	if r.compat == nil {
		r.compat = SkillsCompatibility{}
	}

	if distinct := r.distinctLocations(); k > distinct {
		monitoring.Logf("kmeans: reducing cluster count from %d to %d distinct locations", k, distinct)
		k = distinct
	}
	r.targets = targets[:k]
	r.workLimits = true
	for _, t := range r.targets {
		if t.TotalWorkTime <= 0 {
			r.workLimits = false
		}
	}
	if err := r.validateSeeds(k); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ClusteringRun) validateModes(k int) error {
	if r.matrixMode {
		rows, cols := r.opts.Matrix.Dims()
		for _, t := range r.targets[:k] {
			if t.MatrixIndex < 0 || t.MatrixIndex >= rows || t.MatrixIndex >= cols {
				return fmt.Errorf("%w: target %q has no usable depot matrix index", ErrConfiguration, t.ID)
			}
		}
		for _, it := range r.items {
			if it.MatrixIndex < 0 || it.MatrixIndex >= rows || it.MatrixIndex >= cols {
				return fmt.Errorf("%w: item %q has no usable matrix index", ErrConfiguration, it.ID)
			}
		}
	} else {
		for _, t := range r.targets[:k] {
			if t.Depot == nil {
				return fmt.Errorf("%w: target %q has no depot location", ErrConfiguration, t.ID)
			}
		}
		for _, it := range r.items {
			if it.Location == nil {
				return fmt.Errorf("%w: item %q has no location", ErrConfiguration, it.ID)
			}
		}
	}
	if r.cutSymbol != "" {
		for _, it := range r.items {
			if _, ok := it.Quantities[r.cutSymbol]; !ok {
				return fmt.Errorf("%w: item %q has no %q quantity", ErrConfiguration, it.ID, r.cutSymbol)
			}
		}
	}
	return nil
}

func (r *ClusteringRun) validateSeeds(k int) error {
	seeds := r.opts.CentroidIndices
	if len(seeds) == 0 {
		return nil
	}
	for _, idx := range seeds {
		if idx < 0 || idx >= len(r.items) {
			return fmt.Errorf("%w: centroid index %d out of range", ErrConfiguration, idx)
		}
	}
	if len(seeds) > k {
		// the cluster count was reduced: keep one seed per location
		seen := map[locationKey]bool{}
		var kept []int
		for _, idx := range seeds {
			if key := r.keyOf(idx); !seen[key] {
				seen[key] = true
				kept = append(kept, idx)
			}
		}
		seeds = kept
	}
	if len(seeds) != k {
		return fmt.Errorf("%w: %d centroid indices for %d clusters", ErrConfiguration, len(seeds), k)
	}
	used := map[int]bool{}
	for i, idx := range seeds {
		if used[idx] {
			return fmt.Errorf("%w: duplicate centroid index %d", ErrConfiguration, idx)
		}
		used[idx] = true
		if !r.compat.Compatible(&r.items[idx], &r.targets[i]) {
			return fmt.Errorf("%w: centroid index %d is not compatible with target %q", ErrConfiguration, idx, r.targets[i].ID)
		}
	}
	r.opts.CentroidIndices = seeds
	return nil
}

// Run iterates until convergence, the iteration bound, or a checkpoint
// error.
func (r *ClusteringRun) Run() (*Result, error) {
	r.prepareOrder()
	if err := r.initCentroids(); err != nil {
		return nil, err
	}
	progress := monitoring.Throttled(2 * time.Second)

	r.rate = 0
	for !r.converged() {
		if r.cutSymbol != "" {
			r.rate = 1 - r.tune.BalanceDecay*float64(r.iterations)/float64(r.opts.MaxIterations)
		}
		if err := r.iterate(); err != nil {
			return nil, err
		}
		progress("kmeans: iteration %d, centroids moved %.0fm", r.iterations, r.movement)
	}
	if rate := r.opts.LastIterationBalanceRate; rate != nil {
		r.rate = *rate
		if err := r.iterate(); err != nil {
			return nil, err
		}
	}
	monitoring.Logf("kmeans: converged after %d iterations with %d clusters", r.iterations, len(r.centroids))
	return r.result(), nil
}

func (r *ClusteringRun) iterate() error {
	r.updateLimits()
	if err := r.assignAll(); err != nil {
		return err
	}
	r.recompute()
	if cp := r.opts.Checkpoint; cp != nil {
		if err := cp(r.snapshot()); err != nil {
			return fmt.Errorf("kmeans: stopped after iteration %d: %w", r.iterations, err)
		}
	}
	return nil
}

// prepareOrder sorts items by decreasing cut load and shuffles the middle
// of the list, so heavy items are placed first without a fixed order.
func (r *ClusteringRun) prepareOrder() {
	n := len(r.items)
	r.order = make([]int, n)
	for i := range r.order {
		r.order[i] = i
	}
	if r.cutSymbol == "" {
		return
	}
	for _, it := range r.items {
		r.totalCut += it.Quantities[r.cutSymbol]
	}
	if r.totalCut == 0 {
		r.cutSymbol = ""
		return
	}
	sort.SliceStable(r.order, func(a, b int) bool {
		return r.items[r.order[a]].Quantities[r.cutSymbol] > r.items[r.order[b]].Quantities[r.cutSymbol]
	})
	from := int(float64(n) * r.tune.ShuffleFrom)
	to := min(int(float64(n)*r.tune.ShuffleTo)+1, n)
	if from < to {
		mid := r.order[from:to]
		r.rng.Shuffle(len(mid), func(a, b int) { mid[a], mid[b] = mid[b], mid[a] })
	}
}

func (r *ClusteringRun) initCentroids() error {
	r.centroids = r.centroids[:0]
	if seeds := r.opts.CentroidIndices; len(seeds) > 0 {
		for t, idx := range seeds {
			r.centroids = append(r.centroids, r.newCentroid(t, idx))
		}
		return nil
	}
	used := map[locationKey]bool{}
	for t := range r.targets {
		idx := r.pickSeed(t, used, nil)
		if idx < 0 {
			return fmt.Errorf("%w: no item left to seed target %q", ErrConfiguration, r.targets[t].ID)
		}
		used[r.keyOf(idx)] = true
		r.centroids = append(r.centroids, r.newCentroid(t, idx))
		r.moveToFront(idx)
	}
	return nil
}

// pickSeed draws a seed for target t among items at unused locations,
// preferring items that need skills the target has, then any compatible
// item, then anything. allow, when set, filters candidates further.
func (r *ClusteringRun) pickSeed(t int, used map[locationKey]bool, allow func(int) bool) int {
	var specific, compatible, rest []int
	for i := range r.items {
		if used[r.keyOf(i)] || (allow != nil && !allow(i)) {
			continue
		}
		rest = append(rest, i)
		if r.compat.Compatible(&r.items[i], &r.targets[t]) {
			compatible = append(compatible, i)
			if len(r.items[i].Skills) > 0 {
				specific = append(specific, i)
			}
		}
	}
	for _, pool := range [][]int{specific, compatible, rest} {
		if len(pool) > 0 {
			return pool[r.rng.Intn(len(pool))]
		}
	}
	return -1
}

func (r *ClusteringRun) newCentroid(t, idx int) Centroid {
	it := &r.items[idx]
	c := Centroid{
		Target:        t,
		MatrixIndex:   it.MatrixIndex,
		DepotDuration: depotDuration(it, t),
		Limit:         r.baseLimit(t),
	}
	if it.Location != nil {
		c.Location = *it.Location
	}
	return c
}

func (r *ClusteringRun) baseLimit(t int) float64 {
	limit := r.targets[t].Limit
	if limit <= 0 {
		limit = r.totalCut / float64(len(r.targets))
	}
	return limit * r.opts.CutRatio
}

func (r *ClusteringRun) assign() {
	k := len(r.centroids)
	r.clusters = make([][]int, k)
	r.loads = make([]map[string]float64, k)
	for i := range r.loads {
		r.loads[i] = map[string]float64{}
	}
	r.assignedCut, r.percent, r.balancing = 0, 0, false

	for _, idx := range r.order {
		it := &r.items[idx]
		best, bestCost := 0, math.Inf(1)
		for c := range r.centroids {
			if v := r.cost(it, c); v < bestCost {
				best, bestCost = c, v
			}
		}
		r.clusters[best] = append(r.clusters[best], idx)
		for unit, q := range it.Quantities {
			r.loads[best][unit] += q
		}
		if r.cutSymbol == "" {
			continue
		}
		r.assignedCut += it.Quantities[r.cutSymbol]
		r.percent = r.assignedCut / r.totalCut
		if !r.balancing {
			r.balancing = true
			for _, l := range r.loads {
				if l[r.cutSymbol] <= 0 {
					r.balancing = false
					break
				}
			}
		}
	}
}

// cost is the penalized, balance-adjusted distance of it to centroid c.
func (r *ClusteringRun) cost(it *Item, c int) float64 {
	cen := &r.centroids[c]
	t := &r.targets[cen.Target]
	d := r.dist.Distance(it, cen)
	if !r.compat.Compatible(it, t) {
		d += r.tune.IncompatibilityPenalty
	}
	if r.opts.StrictLimits && r.exceeds(c, it) {
		d += r.tune.CapacityPenalty
	}
	if r.cutSymbol == "" {
		return d
	}
	balance := 1.0
	if r.balancing {
		if expected := cen.Limit * r.percent; expected > 0 {
			ratio := r.loads[c][r.cutSymbol] / expected
			if r.percent < r.tune.PowerThreshold {
				balance = math.Pow(ratio, (2+r.rate)*r.percent)
			} else {
				balance = ratio
			}
		}
	}
	return (1-r.rate)*d + r.rate*d*balance
}

func (r *ClusteringRun) exceeds(c int, it *Item) bool {
	caps := r.targets[r.centroids[c].Target].Capacities
	for unit, q := range it.Quantities {
		if limit, ok := caps[unit]; ok && r.loads[c][unit]+q > limit {
			return true
		}
	}
	return false
}

func (r *ClusteringRun) recompute() {
	r.previous = append(r.previous[:0], r.centroids...)
	r.iterations++
	r.movement = 0
	for c := range r.centroids {
		members := r.clusters[c]
		if len(members) == 0 {
			continue
		}
		cen := &r.centroids[c]
		closest := r.relocate(cen, members)
		if r.cutSymbol != "" {
			r.moveToFront(closest)
		}
		cen.MatrixIndex = r.items[closest].MatrixIndex
		durations := make([]float64, len(members))
		for i, idx := range members {
			durations[i] = depotDuration(&r.items[idx], cen.Target)
		}
		cen.DepotDuration = stat.Mean(durations, nil)
		r.movement += r.displacement(r.previous[c], *cen)
	}
}

// relocate moves the centroid to the mean of its members and returns the
// member closest to it. Without coordinates the matrix medoid is used.
func (r *ClusteringRun) relocate(cen *Centroid, members []int) int {
	lats := make([]float64, 0, len(members))
	lons := make([]float64, 0, len(members))
	for _, idx := range members {
		loc := r.items[idx].Location
		if loc == nil {
			return r.medoid(members)
		}
		lats = append(lats, loc.Lat)
		lons = append(lons, loc.Lon)
	}
	cen.Location = geo.Point{Lat: stat.Mean(lats, nil), Lon: stat.Mean(lons, nil)}
	closest, best := members[0], math.Inf(1)
	for _, idx := range members {
		if d := geo.FlyingDistance(r.items[idx].Location, &cen.Location); d < best {
			closest, best = idx, d
		}
	}
	return closest
}

func (r *ClusteringRun) medoid(members []int) int {
	best, bestSum := members[0], math.Inf(1)
	for _, a := range members {
		sum := 0.0
		for _, b := range members {
			sum += r.opts.Matrix.At(r.items[a].MatrixIndex, r.items[b].MatrixIndex)
		}
		if sum < bestSum {
			best, bestSum = a, sum
		}
	}
	return best
}

func (r *ClusteringRun) displacement(old, cur Centroid) float64 {
	if r.matrixMode {
		return r.opts.Matrix.At(old.MatrixIndex, cur.MatrixIndex) + geo.PlanarDistance(old.Location, cur.Location)
	}
	return geo.PlanarDistance(old.Location, cur.Location)
}

func (r *ClusteringRun) moveToFront(idx int) {
	for pos, v := range r.order {
		if v == idx {
			copy(r.order[1:pos+1], r.order[:pos])
			r.order[0] = idx
			return
		}
	}
}

// converged checks the stop criteria: no movement, negligible movement, a
// repeating movement pattern, or the iteration bound.
func (r *ClusteringRun) converged() bool {
	if r.iterations == 0 {
		r.window = make([]float64, 1)
		return false
	}
	if r.iterations >= r.opts.MaxIterations {
		return true
	}
	if r.unchanged() || r.movement < r.tune.MinMovement {
		return true
	}
	n := int(math.Sqrt(float64(r.iterations)))
	r.window = append(r.window, r.movement)
	for size := 1; size <= n && 2*size <= len(r.window); size++ {
		cur := floats.Sum(r.window[len(r.window)-size:])
		prev := floats.Sum(r.window[len(r.window)-2*size : len(r.window)-size])
		if math.Abs(cur-prev) < r.tune.LoopTolerance {
			return true
		}
	}
	if len(r.window) > 2*n+1 {
		r.window = r.window[1:]
	}
	return false
}

func (r *ClusteringRun) unchanged() bool {
	if len(r.previous) != len(r.centroids) {
		return false
	}
	for i := range r.centroids {
		if r.previous[i].Location != r.centroids[i].Location || r.previous[i].MatrixIndex != r.centroids[i].MatrixIndex {
			return false
		}
	}
	return true
}

func (r *ClusteringRun) snapshot() Iteration {
	it := Iteration{Number: r.iterations, Movement: r.movement}
	for c, cen := range r.centroids {
		it.Limits = append(it.Limits, cen.Limit)
		if r.cutSymbol != "" && c < len(r.loads) {
			it.Loads = append(it.Loads, r.loads[c][r.cutSymbol])
		}
	}
	return it
}

func (r *ClusteringRun) result() *Result {
	res := &Result{Iterations: r.iterations, Evicted: append([]int(nil), r.evicted...)}
	for c, cen := range r.centroids {
		metrics := make(map[string]float64, len(r.loads[c]))
		for unit, v := range r.loads[c] {
			metrics[unit] = v
		}
		res.Clusters = append(res.Clusters, Cluster{
			Target:   cen.Target,
			TargetID: r.targets[cen.Target].ID,
			Items:    append([]int(nil), r.clusters[c]...),
			Metrics:  metrics,
			Centroid: cen,
		})
	}
	return res
}

type locationKey struct {
	cell  uint64
	index int
}

func (r *ClusteringRun) keyOf(i int) locationKey {
	it := &r.items[i]
	if it.Location != nil {
		return locationKey{cell: geo.LocationKey(*it.Location), index: NoIndex}
	}
	return locationKey{index: it.MatrixIndex}
}

func (r *ClusteringRun) distinctLocations() int {
	seen := map[locationKey]bool{}
	for i := range r.items {
		seen[r.keyOf(i)] = true
	}
	return len(seen)
}

func depotDuration(it *Item, t int) float64 {
	if t < len(it.DepotDurations) {
		return it.DepotDurations[t]
	}
	return 0
}
