package zip

import (
	"vrpsplit/internal/geo"
	"vrpsplit/internal/metrics"
	"vrpsplit/internal/model"
	"vrpsplit/internal/monitoring"
	"vrpsplit/internal/opt"
)

// Unzip expands every proxy of a solution solved on the zipped problem.
// Members are ordered between the previous served stop (or the vehicle
// start) and the next one (or the vehicle end). Unassigned proxies are
// expanded in zip order.
func Unzip(sol *model.Solution, key *Key, original *model.Problem, a opt.Annealing) *model.Solution {
	out := &model.Solution{}
	for _, route := range sol.Routes {
		out.Routes = append(out.Routes, model.Route{
			VehicleID:  route.VehicleID,
			Activities: unzipRoute(route, key, original, a),
		})
	}
	for _, act := range sol.Unassigned {
		g, ok := key.Group(act.ServiceID)
		if !ok || len(g.Members) < 2 {
			out.Unassigned = append(out.Unassigned, act)
			continue
		}
		for _, s := range g.Originals {
			out.Unassigned = append(out.Unassigned, model.Activity{ServiceID: s.ID, PointID: s.PointID})
		}
	}
	return out
}

type expander struct {
	p       *model.Problem
	vehicle *model.Vehicle
	matrix  *model.Matrix
	dim     Dimension
	anneal  opt.Annealing
}

func unzipRoute(route model.Route, key *Key, p *model.Problem, a opt.Annealing) []model.Activity {
	e := &expander{p: p, dim: key.Dimension, anneal: a, vehicle: p.Vehicle(route.VehicleID)}
	if e.vehicle == nil && len(p.Vehicles) > 0 {
		e.vehicle = &p.Vehicles[0]
	}
	if e.vehicle != nil {
		e.matrix = p.Matrix(e.vehicle.MatrixID)
	} else {
		e.matrix = p.Matrix("")
	}

	var out []model.Activity
	for i, act := range route.Activities {
		g, ok := key.Group(act.ServiceID)
		if !ok || len(g.Members) < 2 {
			out = append(out, act)
			continue
		}
		out = append(out, e.expand(g, e.startAnchor(out), e.stopAnchor(route.Activities[i+1:]))...)
	}
	return out
}

func (e *expander) startAnchor(done []model.Activity) *model.Point {
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].ServiceID != "" {
			return e.pointOf(done[i])
		}
	}
	if e.vehicle != nil && e.vehicle.StartPointID != "" {
		return e.p.Point(e.vehicle.StartPointID)
	}
	return nil
}

func (e *expander) stopAnchor(rest []model.Activity) *model.Point {
	for _, act := range rest {
		if act.ServiceID != "" {
			return e.pointOf(act)
		}
	}
	if e.vehicle != nil && e.vehicle.EndPointID != "" {
		return e.p.Point(e.vehicle.EndPointID)
	}
	return nil
}

func (e *expander) pointOf(act model.Activity) *model.Point {
	if act.PointID != "" {
		return e.p.Point(act.PointID)
	}
	if s := e.p.Service(act.ServiceID); s != nil {
		return e.p.PointOf(s)
	}
	return nil
}

// expand orders the members of g and computes each stop's travel from its
// predecessor.
func (e *expander) expand(g *Group, start, stop *model.Point) []model.Activity {
	n := len(g.Originals)
	// labels 0..n-1 are members, n the start anchor, n+1 the stop anchor
	points := make([]*model.Point, n+2)
	members := make([]int, n)
	for i := range g.Originals {
		points[i] = e.p.PointOf(&g.Originals[i])
		members[i] = i
	}
	points[n], points[n+1] = start, stop
	from, to := opt.None, opt.None
	if start != nil {
		from = n
	}
	if stop != nil {
		to = n + 1
	}

	cost := func(a, b int) float64 { return e.cost(points[a], points[b]) }
	order, value := opt.Order(members, from, to, cost, e.anneal)
	if n > opt.ExhaustiveLimit {
		metrics.UnzipReorders.WithLabelValues("annealing").Inc()
		monitoring.Logf("unzip: group %s ordered by annealing, best found cost %.1f", g.Representative, value)
	} else {
		metrics.UnzipReorders.WithLabelValues("permutation").Inc()
	}

	out := make([]model.Activity, 0, n)
	prev := start
	for _, label := range order {
		s := &g.Originals[label]
		cur := points[label]
		out = append(out, model.Activity{
			ServiceID:      s.ID,
			PointID:        s.PointID,
			TravelTime:     e.travel("time", prev, cur),
			TravelDistance: e.travel("distance", prev, cur),
			TravelValue:    e.travel("value", prev, cur),
		})
		prev = cur
	}
	return out
}

func (e *expander) cost(a, b *model.Point) float64 {
	if e.matrix == nil {
		return e.travel("distance", a, b)
	}
	return e.travel(string(e.dim), a, b)
}

// travel reads the vehicle matrix. Without matrices only the distance is
// known, as the flying distance.
func (e *expander) travel(dimension string, a, b *model.Point) float64 {
	if a == nil || b == nil {
		return 0
	}
	if e.matrix != nil {
		return model.At(e.matrix.Table(dimension), a.Index(), b.Index())
	}
	if dimension == "distance" {
		return geo.FlyingDistance(a.Location, b.Location)
	}
	return 0
}
