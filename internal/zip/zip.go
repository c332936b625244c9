// Package zip merges near-identical services into a single proxy before
// solving and expands the proxies again in solved routes.
package zip

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/linkage"
	"vrpsplit/internal/metrics"
	"vrpsplit/internal/model"
)

var ErrTimeWindowConflict = errors.New("zip: no intersecting time window")

// Dimension selects the matrix table used as distance.
type Dimension string

const (
	Time     Dimension = "time"
	Distance Dimension = "distance"
	Value    Dimension = "value"
)

// Options configure zipping. Services closer than Threshold under complete
// linkage are merged.
type Options struct {
	Threshold float64
	// Force relaxes the merge rule to overlapping time windows and sums
	// loads, priorities and time windows into the proxy.
	Force     bool
	Dimension Dimension
}

// Group is one zipped cluster of services.
type Group struct {
	Representative string `json:"representative"`
	// Members lists service ids in zip order, representative first.
	Members   []string        `json:"members"`
	Duration  float64         `json:"duration"`
	Originals []model.Service `json:"originals"`
}

// Key maps proxies back to their groups.
type Key struct {
	Groups    []Group   `json:"groups"`
	Dimension Dimension `json:"dimension"`
	byService map[string]int
}

// UnmarshalJSON restores a key written with encoding/json.
func (k *Key) UnmarshalJSON(data []byte) error {
	type plain Key
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*k = Key(raw)
	k.byService = make(map[string]int, len(k.Groups))
	for i, g := range k.Groups {
		k.byService[g.Representative] = i
	}
	return nil
}

// Group returns the group whose proxy is serviceID.
func (k *Key) Group(serviceID string) (*Group, bool) {
	i, ok := k.byService[serviceID]
	if !ok {
		return nil, false
	}
	return &k.Groups[i], true
}

// Zip clusters the services of p and returns a copy of p whose services are
// the group representatives, along with the key needed to unzip.
func Zip(p *model.Problem, opts Options) (*model.Problem, *Key, error) {
	if opts.Dimension == "" {
		opts.Dimension = Time
	}
	key := &Key{Dimension: opts.Dimension, byService: map[string]int{}}
	out := *p
	out.Services = nil
	if len(p.Services) == 0 {
		return &out, key, nil
	}

	dist := strictDistance(p, opts.Dimension)
	if opts.Force {
		dist = forceDistance(p, opts.Dimension)
	}
	res, err := linkage.Run(len(p.Services), dist, nil, linkage.MaxDistance(linkage.Complete, opts.Threshold))
	if err != nil {
		return nil, nil, fmt.Errorf("zip: %w", err)
	}
	metrics.Merges.WithLabelValues(linkage.Complete.String()).Add(float64(res.Dendrogram.Merges()))

	for _, members := range res.Clusters {
		g := Group{}
		for _, idx := range members {
			s := p.Services[idx]
			g.Members = append(g.Members, s.ID)
			g.Originals = append(g.Originals, cloneService(s))
			g.Duration += s.Duration
		}
		g.Representative = g.Members[0]

		proxy := cloneService(p.Services[members[0]])
		proxy.Duration = g.Duration
		if opts.Force && len(members) > 1 {
			if err := mergeInto(&proxy, g.Originals); err != nil {
				return nil, nil, fmt.Errorf("zip group %s: %w", g.Representative, err)
			}
		}
		key.byService[g.Representative] = len(key.Groups)
		key.Groups = append(key.Groups, g)
		out.Services = append(out.Services, proxy)
	}
	return &out, key, nil
}

// mergeInto folds every member into the proxy: loads are summed with
// deliveries after the first member counted negative, the lowest priority
// wins and time windows are intersected.
func mergeInto(proxy *model.Service, members []model.Service) error {
	proxy.Quantities = map[string]float64{}
	for unit, q := range members[0].Quantities {
		proxy.Quantities[unit] = q
	}
	for _, s := range members[1:] {
		sign := 1.0
		if s.Type == model.Delivery {
			sign = -1
		}
		for unit, q := range s.Quantities {
			proxy.Quantities[unit] += sign * q
		}
		proxy.Priority = min(proxy.Priority, s.Priority)
	}

	lists := make([][]model.TimeWindow, len(members))
	for i, s := range members {
		lists[i] = s.TimeWindows
	}
	tws, err := intersectWindows(lists)
	if err != nil {
		return err
	}
	proxy.TimeWindows = tws
	return nil
}

func intersectWindows(lists [][]model.TimeWindow) ([]model.TimeWindow, error) {
	var cur []model.TimeWindow
	for _, tws := range lists {
		if len(tws) == 0 {
			continue
		}
		if len(cur) == 0 {
			cur = cloneWindows(tws)
			continue
		}
		var next []model.TimeWindow
		for _, w := range cur {
			start, end, found := w.Start, w.End, false
			for _, o := range tws {
				if !sameDay(w, o) || !overlap(w, o) {
					continue
				}
				found = true
				start = math.Max(start, o.Start)
				if o.End != nil && (end == nil || *o.End < *end) {
					e := *o.End
					end = &e
				}
			}
			if found {
				w.Start, w.End = start, end
				next = append(next, w)
			}
		}
		if len(next) == 0 {
			return nil, ErrTimeWindowConflict
		}
		cur = next
	}
	return cur, nil
}

// strictDistance only relates services that are interchangeable for any
// vehicle: same windows, same skills and no load or lateness differences.
func strictDistance(p *model.Problem, dim Dimension) linkage.DistanceFunc {
	lateAllowed := true
	noCapacities := true
	for _, v := range p.Vehicles {
		if v.CostLateMultiplier == 0 {
			lateAllowed = false
		}
		if len(v.Capacities) > 0 {
			noCapacities = false
		}
	}
	base := travel(p, dim)
	return func(i, j int) float64 {
		a, b := &p.Services[i], &p.Services[j]
		switch {
		case !sameWindows(a.TimeWindows, b.TimeWindows):
			return math.Inf(1)
		case !(lateAllowed && a.LateMultiplier > 0 && b.LateMultiplier > 0) && !(a.Duration == 0 && b.Duration == 0):
			return math.Inf(1)
		case !noCapacities && (len(a.Quantities) > 0 || len(b.Quantities) > 0):
			return math.Inf(1)
		case !sameSet(a.Skills, b.Skills):
			return math.Inf(1)
		}
		return base(i, j)
	}
}

// forceDistance relates services whose time windows overlap.
func forceDistance(p *model.Problem, dim Dimension) linkage.DistanceFunc {
	base := travel(p, dim)
	return func(i, j int) float64 {
		a, b := &p.Services[i], &p.Services[j]
		if len(a.TimeWindows) == 0 && len(b.TimeWindows) == 0 {
			return base(i, j)
		}
		for _, wa := range a.TimeWindows {
			for _, wb := range b.TimeWindows {
				if overlap(wa, wb) {
					return base(i, j)
				}
			}
		}
		return math.Inf(1)
	}
}

// travel reads the first matrix, or falls back to the flying distance.
func travel(p *model.Problem, dim Dimension) func(i, j int) float64 {
	index := make([]int, len(p.Services))
	locs := make([]*geo.Point, len(p.Services))
	for i := range p.Services {
		if pt := p.PointOf(&p.Services[i]); pt != nil {
			index[i], locs[i] = pt.Index(), pt.Location
		} else {
			index[i] = -1
		}
	}
	if m := p.Matrix(""); m != nil {
		table := m.Table(string(dim))
		return func(i, j int) float64 { return model.At(table, index[i], index[j]) }
	}
	return func(i, j int) float64 { return geo.FlyingDistance(locs[i], locs[j]) }
}

func sameWindows(a, b []model.TimeWindow) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Start != b[i].Start || !sameEnd(a[i].End, b[i].End) {
			return false
		}
	}
	return true
}

func sameEnd(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameDay(a, b model.TimeWindow) bool {
	return a.DayIndex == nil || b.DayIndex == nil || *a.DayIndex == *b.DayIndex
}

func overlap(a, b model.TimeWindow) bool {
	return (b.End == nil || a.Start <= *b.End) && (a.End == nil || b.Start <= *a.End)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func cloneService(s model.Service) model.Service {
	out := s
	if s.Quantities != nil {
		out.Quantities = make(map[string]float64, len(s.Quantities))
		for k, v := range s.Quantities {
			out.Quantities[k] = v
		}
	}
	out.Skills = append([]string(nil), s.Skills...)
	out.StickyVehicleIDs = append([]string(nil), s.StickyVehicleIDs...)
	out.TimeWindows = cloneWindows(s.TimeWindows)
	return out
}

func cloneWindows(tws []model.TimeWindow) []model.TimeWindow {
	if tws == nil {
		return nil
	}
	out := make([]model.TimeWindow, len(tws))
	copy(out, tws)
	return out
}
