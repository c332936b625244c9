package geo

import (
	"errors"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrHullConstruction is returned when no neighbourhood size yields a
// simple polygon enclosing every point.
var ErrHullConstruction = errors.New("geo: concave hull construction failed")

// DefaultConcaveK is the neighbourhood size Hull starts from.
const DefaultConcaveK = 5

const nodeTolerance = 1e-9

// Hull returns the concave hull of points, or the convex hull when the
// concave trace fails. The second result is false on fallback.
func Hull(points []Point) ([]Point, bool) {
	ring, err := ConcaveHull(points, DefaultConcaveK)
	if err != nil {
		return ConvexHull(points), false
	}
	return ring, true
}

// ConvexHull builds the convex hull with the monotone chain algorithm.
// The ring is open. Three or fewer distinct points come back deduplicated.
func ConvexHull(points []Point) []Point {
	pts := unique(points)
	sort.SliceStable(pts, func(i, j int) bool {
		if pts[i].Lat != pts[j].Lat {
			return pts[i].Lat < pts[j].Lat
		}
		return pts[i].Lon < pts[j].Lon
	})
	if len(pts) <= 3 {
		return pts
	}

	lower := make([]Point, 0, len(pts))
	for _, p := range pts {
		for len(lower) > 1 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	upper := make([]Point, 0, len(pts))
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) > 1 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// ConcaveHull traces a k-nearest-neighbours concave hull (Moreira & Santos).
// k is raised until the trace is simple and encloses every point; once k
// reaches the point count it gives up with ErrHullConstruction.
func ConcaveHull(points []Point, k int) ([]Point, error) {
	pts := unique(points)
	if len(pts) <= 3 {
		return pts, nil
	}
	kk := min(max(k, 3), len(pts)-1)
	for ; kk < len(pts); kk++ {
		ring, ok := traceConcave(pts, kk)
		if ok && enclosesAll(ring, pts) {
			return ring, nil
		}
	}
	return nil, ErrHullConstruction
}

// Contains reports whether p is inside ring or on its boundary.
func Contains(ring []Point, p Point) bool {
	if len(ring) == 0 {
		return false
	}
	return planar.RingContains(toRing(ring), p.orb())
}

// Close returns ring with its first point repeated at the end.
func Close(ring []Point) []Point {
	if len(ring) == 0 || ring[0] == ring[len(ring)-1] {
		return ring
	}
	out := make([]Point, len(ring)+1)
	copy(out, ring)
	out[len(ring)] = ring[0]
	return out
}

type hullNode struct {
	idx  int
	rect rtreego.Rect
}

func (n *hullNode) Bounds() rtreego.Rect { return n.rect }

func traceConcave(pts []Point, kk int) ([]Point, bool) {
	first := 0
	for i, p := range pts {
		if p.Lat < pts[first].Lat || (p.Lat == pts[first].Lat && p.Lon < pts[first].Lon) {
			first = i
		}
	}

	tree := rtreego.NewTree(2, 25, 50)
	nodes := make([]*hullNode, len(pts))
	for i, p := range pts {
		nodes[i] = &hullNode{idx: i, rect: rtreego.Point{p.Lon, p.Lat}.ToRect(nodeTolerance)}
		if i != first {
			tree.Insert(nodes[i])
		}
	}

	hull := []int{first}
	current := first
	prevAngle := 0.0
	for (current != first || len(hull) == 1) && tree.Size() > 0 {
		if len(hull) == 3 {
			tree.Insert(nodes[first])
		}
		cands := nearest(tree, pts[current], kk)
		from := pts[current]
		sort.SliceStable(cands, func(i, j int) bool {
			return turn(pts[cands[i]], from, prevAngle) > turn(pts[cands[j]], from, prevAngle)
		})

		next := -1
		for _, c := range cands {
			skip := 0
			if c == first {
				skip = 1
			}
			last := pts[hull[len(hull)-1]]
			crosses := false
			for j := 1; !crosses && j < len(hull)-skip; j++ {
				crosses = segmentsCross(last, pts[c], pts[hull[len(hull)-1-j]], pts[hull[len(hull)-j]])
			}
			if !crosses {
				next = c
				break
			}
		}
		if next < 0 {
			return nil, false
		}

		prevAngle = turn(pts[next], from, 0)
		current = next
		hull = append(hull, next)
		tree.Delete(nodes[next])
	}

	if len(hull) > 1 && hull[len(hull)-1] == first {
		hull = hull[:len(hull)-1]
	}
	ring := make([]Point, len(hull))
	for i, idx := range hull {
		ring[i] = pts[idx]
	}
	return ring, true
}

func nearest(tree *rtreego.Rtree, p Point, k int) []int {
	found := tree.NearestNeighbors(k, rtreego.Point{p.Lon, p.Lat})
	out := make([]int, 0, len(found))
	for _, s := range found {
		if n, ok := s.(*hullNode); ok && n != nil {
			out = append(out, n.idx)
		}
	}
	return out
}

// turn is the heading from current to p relative to prev, in [-pi, pi).
func turn(p, current Point, prev float64) float64 {
	a := math.Atan2(p.Lat-current.Lat, p.Lon-current.Lon) - prev
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// segmentsCross reports a proper crossing of p0p1 and p2p3. Touching at an
// endpoint and collinear overlap do not count.
func segmentsCross(p0, p1, p2, p3 Point) bool {
	s10x, s10y := p1.Lon-p0.Lon, p1.Lat-p0.Lat
	s32x, s32y := p3.Lon-p2.Lon, p3.Lat-p2.Lat

	denom := s10x*s32y - s32x*s10y
	if denom == 0 {
		return false
	}
	positive := denom > 0

	s02x, s02y := p0.Lon-p2.Lon, p0.Lat-p2.Lat
	sNumer := s10x*s02y - s10y*s02x
	if (sNumer < 0) == positive {
		return false
	}
	tNumer := s32x*s02y - s32y*s02x
	if (tNumer < 0) == positive {
		return false
	}
	if (sNumer > denom) == positive || (tNumer > denom) == positive {
		return false
	}

	t := tNumer / denom
	hit := Point{Lon: p0.Lon + t*s10x, Lat: p0.Lat + t*s10y}
	return hit != p0 && hit != p1 && hit != p2 && hit != p3
}

func enclosesAll(ring, pts []Point) bool {
	r := toRing(ring)
	for _, p := range pts {
		if !planar.RingContains(r, p.orb()) {
			return false
		}
	}
	return true
}

func toRing(ring []Point) orb.Ring {
	r := make(orb.Ring, 0, len(ring)+1)
	for _, p := range ring {
		r = append(r, p.orb())
	}
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

func cross(o, a, b Point) float64 {
	return (a.Lat-o.Lat)*(b.Lon-o.Lon) - (a.Lon-o.Lon)*(b.Lat-o.Lat)
}

func unique(points []Point) []Point {
	seen := make(map[Point]struct{}, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
