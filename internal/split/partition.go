package split

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/metrics"
	"vrpsplit/internal/monitoring"
)

const (
	// SingletonScore is the score of a cluster holding a single item.
	SingletonScore = 1 << 32
	balanceWeight  = 0.6
)

// Options configure a balanced partition.
type Options struct {
	// Clusters defaults to the number of targets.
	Clusters      int
	CutSymbol     string
	Restarts      int
	MaxIterations int
	Workers       int
	Seed          int64
	StrictLimits  bool
	OnEmpty       kmeans.OnEmpty
	// Matrix switches k-means to matrix distances.
	Matrix mat.Matrix
	// LastIterationBalanceRate, when set, adds a final pass at this rate.
	LastIterationBalanceRate *float64
}

// Outcome is the best restart of a partition.
type Outcome struct {
	Clusters   []kmeans.Cluster
	Score      float64
	Restart    int
	Iterations int
	Evicted    []int
	Restarts   int
}

// CentroidLimits returns each target's share of total: proportional to its
// work time when every target has one, an even split over k otherwise.
func CentroidLimits(total float64, targets []kmeans.Target, k int) []float64 {
	limits := make([]float64, len(targets))
	work := 0.0
	for _, t := range targets {
		if t.TotalWorkTime <= 0 {
			work = 0
			break
		}
		work += t.TotalWorkTime
	}
	for i, t := range targets {
		if work > 0 {
			limits[i] = total * t.TotalWorkTime / work
		} else if k > 0 {
			limits[i] = total / float64(k)
		}
	}
	return limits
}

// Partition runs balanced k-means several times on a bounded worker pool
// and keeps the best run: the one with most clusters, then lowest score.
// Restart r scales every limit by 0.9 + 0.1·(R−r)/R. Cancelling ctx stops
// runs between iterations.
func Partition(ctx context.Context, items []kmeans.Item, targets []kmeans.Target, opts Options) (*Outcome, error) {
	if opts.Restarts <= 0 {
		opts.Restarts = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	k := opts.Clusters
	if k <= 0 {
		k = len(targets)
	}
	started := time.Now()

	total := 0.0
	if opts.CutSymbol != "" {
		for _, it := range items {
			total += it.Quantities[opts.CutSymbol]
		}
	}
	limits := CentroidLimits(total, targets, k)
	base := make([]kmeans.Target, len(targets))
	copy(base, targets)
	for i := range base {
		if base[i].Limit <= 0 {
			base[i].Limit = limits[i]
		}
	}

	results := make([]*kmeans.Result, opts.Restarts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for r := 0; r < opts.Restarts; r++ {
		g.Go(func() error {
			ratio := 0.9 + 0.1*float64(opts.Restarts-r)/float64(opts.Restarts)
			res, err := kmeans.Build(items, base, kmeans.Options{
				Clusters:                 k,
				CutSymbol:                opts.CutSymbol,
				CutRatio:                 ratio,
				StrictLimits:             opts.StrictLimits,
				MaxIterations:            opts.MaxIterations,
				OnEmpty:                  opts.OnEmpty,
				LastIterationBalanceRate: opts.LastIterationBalanceRate,
				Seed:                     opts.Seed + int64(r),
				Matrix:                   opts.Matrix,
				Checkpoint:               func(kmeans.Iteration) error { return gctx.Err() },
			})
			if err != nil {
				return fmt.Errorf("partition: restart %d: %w", r, err)
			}
			metrics.KmeansIterations.Observe(float64(res.Iterations))
			results[r] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		metrics.Runs.WithLabelValues("kmeans", outcome).Inc()
		return nil, err
	}

	var best *Outcome
	for r, res := range results {
		score := Score(res, items, base, k, opts.CutSymbol, opts.Matrix)
		monitoring.Logf("partition: restart %d score %.1f with %d clusters after %d iterations", r, score, len(res.Clusters), res.Iterations)
		if best == nil || len(res.Clusters) > len(best.Clusters) || (len(res.Clusters) >= len(best.Clusters) && score < best.Score) {
			best = &Outcome{Clusters: res.Clusters, Score: score, Restart: r, Iterations: res.Iterations, Evicted: res.Evicted}
		}
	}
	best.Restarts = opts.Restarts
	metrics.EvictedTargets.Add(float64(len(best.Evicted)))
	metrics.Runs.WithLabelValues("kmeans", "ok").Inc()
	metrics.RunDuration.WithLabelValues("kmeans").Observe(time.Since(started).Seconds())
	return best, nil
}

// Score rates a run, lower is better. Each cluster costs the distance of
// its members to the centroid, inflated by how far its load is from its
// limit; singletons cost SingletonScore and missing clusters their limit.
// With a matrix, distances are read from the centroid's row as the run
// measured them.
func Score(res *kmeans.Result, items []kmeans.Item, targets []kmeans.Target, k int, cut string, m mat.Matrix) float64 {
	c := balanceWeight
	if cut == WorkDayUnit {
		c = 1
	}
	score := 0.0
	for _, cl := range res.Clusters {
		if len(cl.Items) == 1 {
			score += SingletonScore
			continue
		}
		d := 0.0
		for _, i := range cl.Items {
			if m != nil {
				d += m.At(cl.Centroid.MatrixIndex, items[i].MatrixIndex)
			} else {
				d += geo.FlyingDistance(items[i].Location, &cl.Centroid.Location)
			}
		}
		limit := cl.Centroid.Limit
		if cut == "" || limit == 0 {
			score += d
			continue
		}
		score += (1-c)*d + c*math.Abs(cl.Metrics[cut]-limit)/limit*d
	}
	for _, t := range res.Evicted {
		score += targets[t].Limit
	}
	// clusters dropped before the run started, when locations were scarce
	for t := len(res.Clusters) + len(res.Evicted); t < k && t < len(targets); t++ {
		score += targets[t].Limit
	}
	return score
}
