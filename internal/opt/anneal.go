package opt

import (
	"math"
	"math/rand"
)

// Annealing configures the simulated annealing used for larger groups.
type Annealing struct {
	InitialTemp float64
	Cooling     float64
	// Iterations defaults to min(n, 8)! for n members.
	Iterations int
	Seed       int64
}

// DefaultAnnealing returns the reference schedule.
func DefaultAnnealing() Annealing {
	return Annealing{InitialTemp: 100000, Cooling: 0.999}
}

// Anneal orders members between the anchors. The search runs on a cycle made
// of the start anchor, the members and the stop anchor, where the edge
// between the two anchors is free, with random segment reversals as moves.
// The result is the cheapest open path seen, never worse than members.
func (a Annealing) Anneal(members []int, start, stop int, cost CostFunc) ([]int, float64) {
	n := len(members)
	best := append([]int(nil), members...)
	bestCost := PathCost(best, start, stop, cost)
	if n < 2 {
		return best, bestCost
	}

	temp := a.InitialTemp
	if temp <= 0 {
		temp = 100000
	}
	cool := 0.999
	if a.Cooling > 0 && a.Cooling < 1 {
		cool = a.Cooling
	}
	budget := a.Iterations
	if budget <= 0 {
		budget = factorial(min(n, 8))
	}
	rng := rand.New(rand.NewSource(a.Seed))

	// labels: 0 is the start anchor, n+1 the stop anchor, i is members[i-1]
	node := func(label int) int {
		switch label {
		case 0:
			return start
		case n + 1:
			return stop
		}
		return members[label-1]
	}
	edge := func(from, to int) float64 {
		if (from == 0 && to == n+1) || (from == n+1 && to == 0) {
			return 0
		}
		u, v := node(from), node(to)
		if u == None || v == None {
			return 0
		}
		return cost(u, v)
	}
	cycle := func(t []int) float64 {
		total := 0.0
		for i := range t {
			total += edge(t[i], t[(i+1)%len(t)])
		}
		return total
	}

	cur := make([]int, n+2)
	for i := range cur {
		cur[i] = i
	}
	curCost := cycle(cur)
	for it := 0; it < budget; it++ {
		i := rng.Intn(len(cur))
		k := rng.Intn(len(cur))
		if i == k {
			continue
		}
		if i > k {
			i, k = k, i
		}
		cand := twoOptSwap(cur, i, k)
		candCost := cycle(cand)
		if candCost < curCost || rng.Float64() < math.Exp((curCost-candCost)/temp) {
			cur, curCost = cand, candCost
			if path, ok := openPath(cur, n); ok {
				order := make([]int, n)
				for j, label := range path {
					order[j] = node(label)
				}
				if c := PathCost(order, start, stop, cost); c < bestCost {
					best, bestCost = order, c
				}
			}
		}
		temp *= cool
	}
	return best, bestCost
}

// openPath cuts the cycle at the free anchor edge and returns the member
// labels from start to stop, or false when the anchors are not adjacent.
func openPath(t []int, n int) ([]int, bool) {
	at := 0
	for i, label := range t {
		if label == 0 {
			at = i
			break
		}
	}
	rot := append(append([]int(nil), t[at:]...), t[:at]...)
	if rot[1] == n+1 {
		for i, j := 1, len(rot)-1; i < j; i, j = i+1, j-1 {
			rot[i], rot[j] = rot[j], rot[i]
		}
	}
	if rot[len(rot)-1] != n+1 {
		return nil, false
	}
	return rot[1 : len(rot)-1], true
}
