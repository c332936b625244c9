package opt

import "math"

// None marks a missing anchor.
const None = -1

// ExhaustiveLimit is the largest member count ordered by trying every
// permutation.
const ExhaustiveLimit = 5

// CostFunc is the travel cost between two nodes.
type CostFunc func(from, to int) float64

// PathCost is the cost of visiting order from start to stop. Missing
// anchors contribute nothing.
func PathCost(order []int, start, stop int, cost CostFunc) float64 {
	total := 0.0
	prev := start
	for _, n := range order {
		if prev != None {
			total += cost(prev, n)
		}
		prev = n
	}
	if stop != None && prev != None {
		total += cost(prev, stop)
	}
	return total
}

// BestPermutation returns the cheapest order of members between the anchors.
// Ties keep the earliest permutation, the given order first.
func BestPermutation(members []int, start, stop int, cost CostFunc) ([]int, float64) {
	cur := append([]int(nil), members...)
	best := append([]int(nil), cur...)
	bestCost := PathCost(cur, start, stop, cost)

	// Heap's algorithm, iterative
	c := make([]int, len(cur))
	for i := 0; i < len(cur); {
		if c[i] < i {
			if i%2 == 0 {
				cur[0], cur[i] = cur[i], cur[0]
			} else {
				cur[c[i]], cur[i] = cur[i], cur[c[i]]
			}
			if v := PathCost(cur, start, stop, cost); v < bestCost {
				bestCost = v
				copy(best, cur)
			}
			c[i]++
			i = 0
			continue
		}
		c[i] = 0
		i++
	}
	return best, bestCost
}

// Order picks the visiting order of members: exhaustively for small groups,
// by annealing followed by a 2-opt pass otherwise.
func Order(members []int, start, stop int, cost CostFunc, a Annealing) ([]int, float64) {
	if len(members) <= ExhaustiveLimit {
		return BestPermutation(members, start, stop, cost)
	}
	order, _ := a.Anneal(members, start, stop, cost)
	return Improve2Opt(order, start, stop, cost, 2)
}

func factorial(n int) int {
	if n > 20 {
		return math.MaxInt
	}
	f := 1
	for i := 2; i <= n; i++ {
		f *= i
	}
	return f
}
