package linkage

import "fmt"

// SplitByMetric cuts the dendrogram bottom-up into groups carrying roughly
// total/parts of metric each. Walking levels upward, a node whose remaining
// metric reaches the share (or that is a root, or on the top level) becomes
// a group; its metric is then taken off its ancestors and it is detached so
// ancestors no longer see its items.
func (d *Dendrogram) SplitByMetric(metric, parts int) ([][]int, error) {
	if parts <= 0 {
		return nil, fmt.Errorf("%w: parts must be positive, got %d", ErrInvalidInput, parts)
	}
	total := 0.0
	for i := 0; i < d.Leaves; i++ {
		total += metricAt(d.Nodes[i], metric)
	}
	share := total / float64(parts)

	value := make([]float64, len(d.Nodes))
	left := make([]int, len(d.Nodes))
	right := make([]int, len(d.Nodes))
	byLevel := map[int][]int{}
	maxLevel := 0
	for id, n := range d.Nodes {
		value[id] = metricAt(n, metric)
		left[id], right[id] = n.Left, n.Right
		byLevel[n.Level] = append(byLevel[n.Level], id)
		maxLevel = max(maxLevel, n.Level)
	}

	var out [][]int
	for level := 0; level <= maxLevel; level++ {
		for _, id := range byLevel[level] {
			parent := d.Nodes[id].Parent
			if value[id] < share && level != maxLevel && parent != None {
				continue
			}
			if items := d.leavesVia(id, left, right); len(items) > 0 {
				out = append(out, items)
			}
			if parent == None {
				continue
			}
			for p := parent; p != None; p = d.Nodes[p].Parent {
				value[p] -= value[id]
			}
			if left[parent] == id {
				left[parent] = None
			} else {
				right[parent] = None
			}
		}
	}
	return out, nil
}

func (d *Dendrogram) leavesVia(id int, left, right []int) []int {
	var out []int
	stack := []int{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if d.Nodes[cur].Item != None {
			out = append(out, d.Nodes[cur].Item)
			continue
		}
		if right[cur] != None {
			stack = append(stack, right[cur])
		}
		if left[cur] != None {
			stack = append(stack, left[cur])
		}
	}
	return out
}

func metricAt(n Node, metric int) float64 {
	if metric < 0 || metric >= len(n.Metrics) {
		return 0
	}
	return n.Metrics[metric]
}
