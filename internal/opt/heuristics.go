package opt

// Improve2Opt applies a simple 2-opt heuristic to reduce the cost of order
// between the anchors. It stops after iterations passes or at the first
// pass without improvement.
func Improve2Opt(order []int, start, stop int, cost CostFunc, iterations int) ([]int, float64) {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), order...)
	bestCost := PathCost(best, start, stop, cost)
	n := len(order)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				if c := PathCost(cand, start, stop, cost); c+1e-9 < bestCost {
					best, bestCost = cand, c
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best, bestCost
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}
