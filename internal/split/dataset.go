// Package split partitions a routing problem into balanced clusters of
// services, one per vehicle or per requested group.
package split

import (
	"fmt"
	"sort"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/model"
)

const (
	// Visits counts one per service.
	Visits = "visits"
	// WorkDayUnit is the cut symbol of per-day partitions.
	WorkDayUnit = "work_day"
	// DefaultSpeed in m/s turns flying distances into durations when the
	// problem has no time matrix.
	DefaultSpeed = 50 / 3.6
)

// Dataset is the clustering view of a problem: one item per group of
// services, initially one per service.
type Dataset struct {
	Items []kmeans.Item
	// Members[i] lists the service indices behind Items[i].
	Members [][]int

	noGroup []bool
}

// BuildDataset turns every service into an item carrying its duration, a
// visit and its quantities, its compatibility attributes and the round-trip
// time from each vehicle's depots.
func BuildDataset(p *model.Problem) (*Dataset, error) {
	d := &Dataset{}
	for i := range p.Services {
		s := &p.Services[i]
		pt := p.PointOf(s)
		if pt == nil {
			return nil, fmt.Errorf("build dataset: service %q has no point", s.ID)
		}
		it := kmeans.Item{
			ID:          s.ID,
			Location:    pt.Location,
			MatrixIndex: pt.Index(),
			Quantities:  map[string]float64{kmeans.DurationUnit: s.Duration, Visits: 1},
			Characteristics: kmeans.Characteristics{
				VehicleIDs: append([]string(nil), s.StickyVehicleIDs...),
				Skills:     append([]string(nil), s.Skills...),
				DaySkills:  DaySkills(s.TimeWindows),
			},
		}
		for unit, q := range s.Quantities {
			it.Quantities[unit] += q
		}
		for v := range p.Vehicles {
			it.DepotDurations = append(it.DepotDurations, depotDuration(p, &p.Vehicles[v], pt))
		}
		d.Items = append(d.Items, it)
		d.Members = append(d.Members, []int{i})
		d.noGroup = append(d.noGroup, s.DoNotGroup)
	}
	return d, nil
}

// Services expands item indices into the sorted service indices behind them.
func (d *Dataset) Services(items []int) []int {
	var out []int
	for _, i := range items {
		out = append(out, d.Members[i]...)
	}
	sort.Ints(out)
	return out
}

// Total sums unit over every item.
func (d *Dataset) Total(unit string) float64 {
	total := 0.0
	for _, it := range d.Items {
		total += it.Quantities[unit]
	}
	return total
}

// BuildTargets returns one target per vehicle. Work time is the vehicle
// duration times its work days.
func BuildTargets(p *model.Problem) []kmeans.Target {
	targets := make([]kmeans.Target, 0, len(p.Vehicles))
	for i := range p.Vehicles {
		v := &p.Vehicles[i]
		t := kmeans.Target{
			ID:          v.ID,
			MatrixIndex: kmeans.NoIndex,
			Capacities:  map[string]float64{},
			Characteristics: kmeans.Characteristics{
				VehicleIDs: []string{v.ID},
				Skills:     append([]string(nil), v.Skills...),
				DaySkills:  DaySkills(vehicleWindows(v)),
			},
		}
		for unit, c := range v.Capacities {
			t.Capacities[unit] = c
		}
		depot := p.Point(v.StartPointID)
		if depot == nil {
			depot = p.Point(v.EndPointID)
		}
		if depot != nil {
			t.Depot = depot.Location
			t.MatrixIndex = depot.Index()
		}
		if v.Duration > 0 {
			t.TotalWorkDays = float64(max(v.WorkDays, 1))
			t.TotalWorkTime = v.Duration * t.TotalWorkDays
		}
		targets = append(targets, t)
	}
	return targets
}

// DaySkills names the week days a set of time windows allows. No window, or
// any window without a day, allows every day.
func DaySkills(tws []model.TimeWindow) []string {
	days := []int{0, 1, 2, 3, 4, 5, 6}
	if len(tws) > 0 {
		seen := map[int]bool{}
		var only []int
		for _, tw := range tws {
			if tw.DayIndex == nil {
				only = nil
				break
			}
			if day := *tw.DayIndex % 7; !seen[day] {
				seen[day] = true
				only = append(only, day)
			}
		}
		if only != nil {
			days = only
		}
	}
	out := make([]string, len(days))
	for i, day := range days {
		out[i] = fmt.Sprintf("%d_day_skill", day)
	}
	return out
}

func vehicleWindows(v *model.Vehicle) []model.TimeWindow {
	if v.TimeWindow != nil {
		return []model.TimeWindow{*v.TimeWindow}
	}
	return v.SequenceTimeWindows
}

// depotDuration is the time from the vehicle start to pt plus pt to the
// vehicle end.
func depotDuration(p *model.Problem, v *model.Vehicle, pt *model.Point) float64 {
	total := 0.0
	m := p.Matrix(v.MatrixID)
	for _, leg := range [][2]*model.Point{{p.Point(v.StartPointID), pt}, {pt, p.Point(v.EndPointID)}} {
		from, to := leg[0], leg[1]
		if from == nil || to == nil {
			continue
		}
		if m != nil && len(m.Time) > 0 && from.Index() >= 0 && to.Index() >= 0 {
			total += model.At(m.Time, from.Index(), to.Index())
			continue
		}
		total += geo.FlyingDistance(from.Location, to.Location) / DefaultSpeed
	}
	return total
}
