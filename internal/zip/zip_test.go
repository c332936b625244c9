package zip

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/model"
	"vrpsplit/internal/opt"
)

// lineProblem places point i at positions[i]; point 0 is the depot.
func lineProblem(positions []float64, services ...model.Service) *model.Problem {
	n := len(positions)
	p := &model.Problem{Services: services}
	times := make([][]float64, n)
	dists := make([][]float64, n)
	for i, x := range positions {
		idx := i
		p.Points = append(p.Points, model.Point{ID: fmt.Sprintf("p%d", i), MatrixIndex: &idx})
		times[i] = make([]float64, n)
		dists[i] = make([]float64, n)
		for j, y := range positions {
			times[i][j] = math.Abs(x - y)
			dists[i][j] = 2 * math.Abs(x-y)
		}
	}
	p.Matrices = []model.Matrix{{ID: "m", Time: times, Distance: dists}}
	p.Vehicles = []model.Vehicle{{ID: "v", StartPointID: "p0", EndPointID: "p0", MatrixID: "m", CostLateMultiplier: 1}}
	return p
}

func service(id string, point int) model.Service {
	return model.Service{ID: id, PointID: fmt.Sprintf("p%d", point), Duration: 60, LateMultiplier: 1}
}

func window(start, end float64) model.TimeWindow {
	return model.TimeWindow{Start: start, End: &end}
}

func ids(acts []model.Activity) []string {
	var out []string
	for _, a := range acts {
		if a.ServiceID != "" {
			out = append(out, a.ServiceID)
		}
	}
	return out
}

func TestZipStrictMergesInterchangeableServices(t *testing.T) {
	p := lineProblem([]float64{0, 10, 15, 100}, service("a", 1), service("b", 2), service("c", 3))
	zipped, key, err := Zip(p, Options{Threshold: 10})
	require.NoError(t, err)

	require.Len(t, zipped.Services, 2)
	assert.Equal(t, "a", zipped.Services[0].ID)
	assert.Equal(t, 120.0, zipped.Services[0].Duration)
	assert.Equal(t, "c", zipped.Services[1].ID)

	g, ok := key.Group("a")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, g.Members)
	_, ok = key.Group("b")
	assert.False(t, ok)

	assert.Equal(t, 60.0, p.Services[0].Duration, "input problem untouched")
	assert.Len(t, p.Services, 3)
}

func TestZipStrictBlockers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.Problem)
		merged bool
	}{
		{"identical", func(p *model.Problem) {}, true},
		{"skills", func(p *model.Problem) { p.Services[1].Skills = []string{"frozen"} }, false},
		{"skill order", func(p *model.Problem) {
			p.Services[0].Skills = []string{"a", "b"}
			p.Services[1].Skills = []string{"b", "a"}
		}, true},
		{"windows", func(p *model.Problem) { p.Services[1].TimeWindows = []model.TimeWindow{window(0, 10)} }, false},
		{"lateness", func(p *model.Problem) { p.Services[1].LateMultiplier = 0 }, false},
		{"vehicle lateness", func(p *model.Problem) { p.Vehicles[0].CostLateMultiplier = 0 }, false},
		{"zero durations", func(p *model.Problem) {
			p.Vehicles[0].CostLateMultiplier = 0
			p.Services[0].Duration, p.Services[1].Duration = 0, 0
		}, true},
		{"loads", func(p *model.Problem) {
			p.Vehicles[0].Capacities = map[string]float64{"kg": 10}
			p.Services[1].Quantities = map[string]float64{"kg": 1}
		}, false},
		{"capacities without loads", func(p *model.Problem) { p.Vehicles[0].Capacities = map[string]float64{"kg": 10} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := lineProblem([]float64{0, 10, 15}, service("a", 1), service("b", 2))
			tt.mutate(p)
			zipped, _, err := Zip(p, Options{Threshold: 10})
			require.NoError(t, err)
			if tt.merged {
				assert.Len(t, zipped.Services, 1)
			} else {
				assert.Len(t, zipped.Services, 2)
			}
		})
	}
}

func TestZipForceMergesLoadsAndWindows(t *testing.T) {
	a := service("a", 1)
	a.Type = model.Pickup
	a.Priority = 3
	a.Quantities = map[string]float64{"kg": 5}
	a.TimeWindows = []model.TimeWindow{window(0, 100)}
	b := service("b", 2)
	b.Type = model.Delivery
	b.Priority = 1
	b.Quantities = map[string]float64{"kg": 2}
	b.TimeWindows = []model.TimeWindow{window(50, 200)}
	p := lineProblem([]float64{0, 10, 15}, a, b)

	zipped, _, err := Zip(p, Options{Threshold: 10})
	require.NoError(t, err)
	assert.Len(t, zipped.Services, 2, "strict mode keeps different windows apart")

	zipped, _, err = Zip(p, Options{Threshold: 10, Force: true})
	require.NoError(t, err)
	require.Len(t, zipped.Services, 1)
	proxy := zipped.Services[0]
	assert.Equal(t, 3.0, proxy.Quantities["kg"])
	assert.Equal(t, 1, proxy.Priority)
	assert.Equal(t, 120.0, proxy.Duration)
	require.Len(t, proxy.TimeWindows, 1)
	assert.Equal(t, 50.0, proxy.TimeWindows[0].Start)
	assert.Equal(t, 100.0, *proxy.TimeWindows[0].End)
	assert.Equal(t, 5.0, p.Services[0].Quantities["kg"], "input problem untouched")
}

func TestZipForceKeepsDisjointWindowsApart(t *testing.T) {
	a, b := service("a", 1), service("b", 2)
	a.TimeWindows = []model.TimeWindow{window(0, 10)}
	b.TimeWindows = []model.TimeWindow{window(20, 30)}
	zipped, _, err := Zip(lineProblem([]float64{0, 10, 15}, a, b), Options{Threshold: 10, Force: true})
	require.NoError(t, err)
	assert.Len(t, zipped.Services, 2)
}

func TestZipForceReportsWindowConflict(t *testing.T) {
	day0, day1 := 0, 1
	a, b := service("a", 1), service("b", 2)
	a.TimeWindows = []model.TimeWindow{window(0, 100)}
	a.TimeWindows[0].DayIndex = &day0
	b.TimeWindows = []model.TimeWindow{window(50, 150)}
	b.TimeWindows[0].DayIndex = &day1
	_, _, err := Zip(lineProblem([]float64{0, 10, 15}, a, b), Options{Threshold: 10, Force: true})
	assert.ErrorIs(t, err, ErrTimeWindowConflict)
}

func TestIntersectWindowsOpenEnd(t *testing.T) {
	open := model.TimeWindow{Start: 10}
	got, err := intersectWindows([][]model.TimeWindow{nil, {open}, {window(0, 50)}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].Start)
	assert.Equal(t, 50.0, *got[0].End)
}

func TestZipWithoutMatrixUsesFlyingDistance(t *testing.T) {
	p := &model.Problem{
		Points: []model.Point{
			{ID: "a", Location: &geo.Point{Lat: 45, Lon: 4}},
			{ID: "b", Location: &geo.Point{Lat: 45.0001, Lon: 4}},
			{ID: "c", Location: &geo.Point{Lat: 46, Lon: 4}},
		},
		Services: []model.Service{{ID: "s1", PointID: "a"}, {ID: "s2", PointID: "b"}, {ID: "s3", PointID: "c"}},
	}
	zipped, _, err := Zip(p, Options{Threshold: 50})
	require.NoError(t, err)
	assert.Len(t, zipped.Services, 2)
}

func TestUnzipSmallGroupIsOptimal(t *testing.T) {
	far := service("far", 4)
	far.Skills = []string{"x"}
	p := lineProblem([]float64{0, 30, 10, 20, 100}, service("s30", 1), service("s10", 2), service("s20", 3), far)
	zipped, key, err := Zip(p, Options{Threshold: 25})
	require.NoError(t, err)
	require.Len(t, zipped.Services, 2)

	sol := &model.Solution{Routes: []model.Route{{VehicleID: "v", Activities: []model.Activity{
		{PointID: "p0"}, {ServiceID: "s30", PointID: "p1"}, {ServiceID: "far", PointID: "p4"}, {PointID: "p0"},
	}}}}
	out := Unzip(sol, key, p, opt.DefaultAnnealing())
	require.Len(t, out.Routes, 1)
	acts := out.Routes[0].Activities
	assert.Equal(t, []string{"s10", "s20", "s30", "far"}, ids(acts))
	assert.Equal(t, "p0", acts[0].PointID)
	for i, want := range []float64{10, 10, 10} {
		assert.Equal(t, want, acts[i+1].TravelTime, "stop %d", i)
		assert.Equal(t, 2*want, acts[i+1].TravelDistance, "stop %d", i)
		assert.Zero(t, acts[i+1].TravelValue)
	}
}

func TestUnzipLargeGroupAnneals(t *testing.T) {
	positions := []float64{0, 50, 20, 70, 10, 40, 60, 30, 100}
	var services []model.Service
	for i := 1; i <= 7; i++ {
		services = append(services, service(fmt.Sprintf("m%.0f", positions[i]), i))
	}
	far := service("far", 8)
	far.Skills = []string{"x"}
	p := lineProblem(positions, append(services, far)...)
	_, key, err := Zip(p, Options{Threshold: 65})
	require.NoError(t, err)
	g, ok := key.Group("m50")
	require.True(t, ok)
	require.Len(t, g.Members, 7)

	sol := &model.Solution{Routes: []model.Route{{VehicleID: "v", Activities: []model.Activity{
		{ServiceID: "m50"}, {ServiceID: "far"},
	}}}}
	out := Unzip(sol, key, p, opt.DefaultAnnealing())
	assert.Equal(t, []string{"m10", "m20", "m30", "m40", "m50", "m60", "m70", "far"}, ids(out.Routes[0].Activities))
}

func TestZipUnzipRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	positions := []float64{0}
	var services []model.Service
	for i := 1; i <= 30; i++ {
		positions = append(positions, float64(rng.Intn(200)))
		services = append(services, service(fmt.Sprintf("s%d", i), i))
	}
	p := lineProblem(positions, services...)
	zipped, key, err := Zip(p, Options{Threshold: 15})
	require.NoError(t, err)
	require.Less(t, len(zipped.Services), len(services))

	sol := &model.Solution{Routes: []model.Route{{VehicleID: "v"}, {VehicleID: "unknown"}}}
	for i, s := range zipped.Services {
		switch i % 3 {
		case 0:
			sol.Routes[0].Activities = append(sol.Routes[0].Activities, model.Activity{ServiceID: s.ID, PointID: s.PointID})
		case 1:
			sol.Routes[1].Activities = append(sol.Routes[1].Activities, model.Activity{ServiceID: s.ID, PointID: s.PointID})
		default:
			sol.Unassigned = append(sol.Unassigned, model.Activity{ServiceID: s.ID})
		}
	}
	out := Unzip(sol, key, p, opt.DefaultAnnealing())

	var got []string
	for _, r := range out.Routes {
		got = append(got, ids(r.Activities)...)
	}
	got = append(got, ids(out.Unassigned)...)
	var want []string
	for _, s := range services {
		want = append(want, s.ID)
	}
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestKeySurvivesJSON(t *testing.T) {
	p := lineProblem([]float64{0, 10}, service("a", 1), service("b", 1))
	_, key, err := Zip(p, Options{Threshold: 1})
	require.NoError(t, err)

	data, err := json.Marshal(key)
	require.NoError(t, err)
	var restored Key
	require.NoError(t, json.Unmarshal(data, &restored))

	g, ok := restored.Group("a")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, g.Members)
	assert.Equal(t, Time, restored.Dimension)
}
