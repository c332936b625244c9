package kmeans

import (
	"gonum.org/v1/gonum/mat"

	"vrpsplit/internal/geo"
)

// Distance measures an item against a centroid before penalties and
// balancing are applied.
type Distance interface {
	Distance(item *Item, c *Centroid) float64
}

// Compatibility decides whether an item may be served by a target.
type Compatibility interface {
	Compatible(item *Item, t *Target) bool
}

// FlyingDistance compares coordinates.
type FlyingDistance struct{}

func (FlyingDistance) Distance(item *Item, c *Centroid) float64 {
	return geo.FlyingDistance(item.Location, &c.Location)
}

// MatrixDistance reads the travel cost from the centroid to the item.
type MatrixDistance struct {
	M mat.Matrix
}

func (d MatrixDistance) Distance(item *Item, c *Centroid) float64 {
	return d.M.At(c.MatrixIndex, item.MatrixIndex)
}

// SkillsCompatibility is the default predicate: sticky vehicles must be
// among the target's vehicles, required skills must be offered by the
// target and day skills must overlap. Empty day skills on either side
// mean any day.
type SkillsCompatibility struct{}

func (SkillsCompatibility) Compatible(item *Item, t *Target) bool {
	if len(item.VehicleIDs) > 0 && !intersects(item.VehicleIDs, t.VehicleIDs) {
		return false
	}
	if !subset(item.Skills, t.Skills) {
		return false
	}
	if len(item.DaySkills) > 0 && len(t.DaySkills) > 0 && !intersects(item.DaySkills, t.DaySkills) {
		return false
	}
	return true
}

// CompatibilityFunc adapts a function to Compatibility.
type CompatibilityFunc func(item *Item, t *Target) bool

func (f CompatibilityFunc) Compatible(item *Item, t *Target) bool { return f(item, t) }

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func subset(a, b []string) bool {
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
