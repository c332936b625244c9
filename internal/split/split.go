package split

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/model"
	"vrpsplit/internal/monitoring"
	"vrpsplit/internal/report"
)

// Methods understood by Split.
const (
	MethodKmeans       = "kmeans"
	MethodHierarchical = "hierarchical"
)

// Request configures Split.
type Request struct {
	Method string
	// ZipItems merges services closer than MaxZipDistance first.
	ZipItems  bool
	Partition Options
}

// Split partitions the services of p and describes the result. With the
// hierarchical method Partition.Clusters (or the vehicle count) sets the
// number of groups and Partition.CutSymbol the balanced quantity.
func Split(ctx context.Context, p *model.Problem, req Request) (*report.Report, error) {
	if len(p.Vehicles) == 0 && req.Partition.Clusters <= 0 {
		return nil, fmt.Errorf("split: no vehicles and no cluster count")
	}
	d, err := BuildDataset(p)
	if err != nil {
		return nil, err
	}
	targets := BuildTargets(p)
	distance := distanceTable(p)
	if req.ZipItems {
		before := len(d.Items)
		if d, err = d.Zip(targets, distance); err != nil {
			return nil, err
		}
		monitoring.Logf("split: zipped %d services into %d items", before, len(d.Items))
	}

	out := &report.Report{Method: req.Method}
	var groups [][]int
	switch req.Method {
	case MethodKmeans, "":
		out.Method = MethodKmeans
		opts := req.Partition
		if opts.Matrix == nil {
			opts.Matrix = timeMatrix(p, d, targets)
		}
		res, err := Partition(ctx, d.Items, targets, opts)
		if err != nil {
			return nil, err
		}
		out.Score, out.Restart, out.Restarts, out.Iterations = res.Score, res.Restart, res.Restarts, res.Iterations
		for _, t := range res.Evicted {
			out.Evicted = append(out.Evicted, targets[t].ID)
		}
		for _, c := range res.Clusters {
			groups = append(groups, c.Items)
			cl := report.Cluster{Target: c.TargetID, Metrics: c.Metrics}
			if d.centroid(c.Items) != nil {
				loc := c.Centroid.Location
				cl.Centroid = &loc
			}
			out.Clusters = append(out.Clusters, cl)
		}
	case MethodHierarchical:
		k := req.Partition.Clusters
		if k <= 0 {
			k = len(targets)
		}
		metric := req.Partition.CutSymbol
		if metric == "" {
			metric = Visits
		}
		if groups, err = Hierarchical(d.Items, k, metric, distance); err != nil {
			return nil, err
		}
		for g, members := range groups {
			out.Clusters = append(out.Clusters, report.Cluster{
				Target:   fmt.Sprintf("group-%d", g+1),
				Metrics:  d.load(members),
				Centroid: d.centroid(members),
			})
		}
	default:
		return nil, fmt.Errorf("split: unknown method %q", req.Method)
	}

	hulls := Hulls(d.Items, groups)
	for g, members := range groups {
		c := &out.Clusters[g]
		c.Hull = hulls[g]
		for _, s := range d.Services(members) {
			svc := &p.Services[s]
			c.Services = append(c.Services, svc.ID)
			if pt := p.PointOf(svc); pt != nil && pt.Location != nil {
				c.Points = append(c.Points, *pt.Location)
			}
		}
	}
	return out, nil
}

func (d *Dataset) load(members []int) map[string]float64 {
	out := map[string]float64{}
	for _, i := range members {
		for unit, q := range d.Items[i].Quantities {
			out[unit] += q
		}
	}
	return out
}

func (d *Dataset) centroid(members []int) *geo.Point {
	var lats, lons []float64
	for _, i := range members {
		if loc := d.Items[i].Location; loc != nil {
			lats = append(lats, loc.Lat)
			lons = append(lons, loc.Lon)
		}
	}
	if len(lats) == 0 {
		return nil
	}
	return &geo.Point{Lat: stat.Mean(lats, nil), Lon: stat.Mean(lons, nil)}
}

// distanceTable is the distance table of the first matrix, if any.
func distanceTable(p *model.Problem) [][]float64 {
	if m := p.Matrix(""); m != nil && len(m.Distance) > 0 {
		return m.Distance
	}
	return nil
}

// timeMatrix returns the first time table as a dense matrix when every item
// and target can be looked up in it, nil otherwise.
func timeMatrix(p *model.Problem, d *Dataset, targets []kmeans.Target) mat.Matrix {
	m := p.Matrix("")
	if m == nil || len(m.Time) == 0 {
		return nil
	}
	n := len(m.Time)
	inside := func(i int) bool { return i >= 0 && i < n }
	for _, it := range d.Items {
		if !inside(it.MatrixIndex) {
			return nil
		}
	}
	for _, t := range targets {
		if !inside(t.MatrixIndex) {
			return nil
		}
	}
	dense := mat.NewDense(n, n, nil)
	for i, row := range m.Time {
		if len(row) != n {
			return nil
		}
		dense.SetRow(i, row)
	}
	return dense
}
