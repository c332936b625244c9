package linkage

// None marks an absent node reference.
const None = -1

// Node is one entry of the dendrogram arena. Leaves carry the index of the
// item they stand for; internal nodes carry the distance at which their two
// children were merged.
type Node struct {
	Item     int       `json:"item"`
	Level    int       `json:"level"`
	Parent   int       `json:"parent"`
	Left     int       `json:"left"`
	Right    int       `json:"right"`
	Distance float64   `json:"distance"`
	Size     int       `json:"size"`
	Metrics  []float64 `json:"metrics,omitempty"`
}

// IsLeaf reports whether the node stands for a single item.
func (n Node) IsLeaf() bool { return n.Left == None && n.Right == None }

// Dendrogram is the merge tree. Nodes[0:Leaves] are the input items in
// order, later nodes are merges in the order they happened.
type Dendrogram struct {
	Nodes  []Node `json:"nodes"`
	Leaves int    `json:"leaves"`
}

func newDendrogram(n int, metrics [][]float64) *Dendrogram {
	d := &Dendrogram{Nodes: make([]Node, n, 2*n), Leaves: n}
	for i := range d.Nodes {
		d.Nodes[i] = Node{Item: i, Parent: None, Left: None, Right: None, Size: 1}
		if i < len(metrics) {
			d.Nodes[i].Metrics = append([]float64(nil), metrics[i]...)
		}
	}
	return d
}

func (d *Dendrogram) merge(left, right int, dist float64) int {
	l, r := d.Nodes[left], d.Nodes[right]
	id := len(d.Nodes)
	d.Nodes = append(d.Nodes, Node{
		Item:     None,
		Level:    max(l.Level, r.Level) + 1,
		Parent:   None,
		Left:     left,
		Right:    right,
		Distance: dist,
		Size:     l.Size + r.Size,
		Metrics:  addMetrics(l.Metrics, r.Metrics),
	})
	d.Nodes[left].Parent = id
	d.Nodes[right].Parent = id
	return id
}

// Merges is the number of internal nodes.
func (d *Dendrogram) Merges() int { return len(d.Nodes) - d.Leaves }

// Roots lists nodes without a parent, in id order.
func (d *Dendrogram) Roots() []int {
	var out []int
	for id, n := range d.Nodes {
		if n.Parent == None {
			out = append(out, id)
		}
	}
	return out
}

// LeavesOf returns the item indices under node id, left to right.
func (d *Dendrogram) LeavesOf(id int) []int {
	var out []int
	stack := []int{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := d.Nodes[cur]
		if n.IsLeaf() {
			out = append(out, n.Item)
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
	return out
}

// CutCount replays merges until k groups remain and returns their items.
func (d *Dendrogram) CutCount(k int) [][]int {
	applied := d.Leaves + max(0, min(d.Merges(), d.Leaves-k))
	return d.cut(applied)
}

// CutDistance replays merges made at a distance of at most limit.
func (d *Dendrogram) CutDistance(limit float64) [][]int {
	applied := d.Leaves
	for applied < len(d.Nodes) && d.Nodes[applied].Distance <= limit {
		applied++
	}
	return d.cut(applied)
}

// cut keeps nodes with id < applied; groups are the subtrees whose parent
// was not kept.
func (d *Dendrogram) cut(applied int) [][]int {
	var out [][]int
	for id := 0; id < applied; id++ {
		if p := d.Nodes[id].Parent; p == None || p >= applied {
			out = append(out, d.LeavesOf(id))
		}
	}
	return out
}

func addMetrics(a, b []float64) []float64 {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]float64, max(len(a), len(b)))
	for i, v := range a {
		out[i] += v
	}
	for i, v := range b {
		out[i] += v
	}
	return out
}
