package vectorindex

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"

	"meridian/pkg/errs"
)

// node is one graph vertex. neighbors[level] holds the out-edges at that
// layer; level 0 always exists and contains every live node.
type node struct {
	label     uint64
	vec       Vector
	neighbors [][]uint64
}

// index is a single HNSW graph plus the label->node bookkeeping around it.
type index struct {
	cfg     IndexConfig
	rng     *rand.Rand
	nodes   map[uint64]*node
	entry   uint64
	hasRoot bool
	maxLvl  int
}

func newIndex(cfg IndexConfig) *index {
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &index{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		nodes: map[uint64]*node{},
	}
}

func (idx *index) size() int { return len(idx.nodes) }

func (idx *index) get(label uint64) (Vector, bool) {
	n, ok := idx.nodes[label]
	if !ok {
		return Vector{}, false
	}
	return n.vec, true
}

func (idx *index) add(vec Vector, label uint64) error {
	if err := idx.validate(vec); err != nil {
		return err
	}
	if _, exists := idx.nodes[label]; exists {
		return errs.New(errs.ConflictingState, fmt.Sprintf("label %d already present", label))
	}
	idx.insert(vec, label)
	return nil
}

func (idx *index) update(vec Vector, label uint64) error {
	if err := idx.validate(vec); err != nil {
		return err
	}
	if _, exists := idx.nodes[label]; !exists {
		return errs.New(errs.NotFound, fmt.Sprintf("label %d not found", label))
	}
	idx.delete(label)
	idx.insert(vec, label)
	return nil
}

func (idx *index) delete(label uint64) {
	n, ok := idx.nodes[label]
	if !ok {
		return
	}
	for lvl := range n.neighbors {
		for _, peer := range n.neighbors[lvl] {
			pn, ok := idx.nodes[peer]
			if !ok {
				continue
			}
			pn.neighbors[lvl] = removeLabel(pn.neighbors[lvl], label)
		}
	}
	delete(idx.nodes, label)
	if idx.entry == label {
		idx.hasRoot = false
		for lbl, other := range idx.nodes {
			idx.entry = lbl
			idx.maxLvl = len(other.neighbors) - 1
			idx.hasRoot = true
			break
		}
	}
}

func (idx *index) validate(vec Vector) error {
	if vec.Dimension != idx.cfg.Dimension || len(vec.Data) != idx.cfg.Dimension {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("expected dimension %d, got %d", idx.cfg.Dimension, len(vec.Data)))
	}
	return nil
}

func (idx *index) insert(vec Vector, label uint64) {
	level := idx.randomLevel()
	n := &node{label: label, vec: vec, neighbors: make([][]uint64, level+1)}
	for i := range n.neighbors {
		n.neighbors[i] = nil
	}
	idx.nodes[label] = n

	if !idx.hasRoot {
		idx.entry = label
		idx.maxLvl = level
		idx.hasRoot = true
		return
	}

	ep := idx.entry
	for lvl := idx.maxLvl; lvl > level; lvl-- {
		ep = idx.greedyClosest(vec, ep, lvl)
	}

	m := idx.cfg.M
	for lvl := min(level, idx.maxLvl); lvl >= 0; lvl-- {
		candidates := idx.searchLayer(vec, ep, idx.cfg.EfConstruction, lvl)
		neighbors := selectNeighbors(candidates, m)
		n.neighbors[lvl] = neighbors
		for _, peer := range neighbors {
			pn := idx.nodes[peer]
			pn.neighbors[lvl] = append(pn.neighbors[lvl], label)
			if len(pn.neighbors[lvl]) > 2*m {
				pn.neighbors[lvl] = idx.pruneNeighbors(pn, lvl, 2*m)
			}
		}
		if len(candidates) > 0 {
			ep = candidates[0].label
		}
	}

	if level > idx.maxLvl {
		idx.maxLvl = level
		idx.entry = label
	}
}

func (idx *index) pruneNeighbors(n *node, lvl, keep int) []uint64 {
	cands := make([]candidate, 0, len(n.neighbors[lvl]))
	for _, lbl := range n.neighbors[lvl] {
		other, ok := idx.nodes[lbl]
		if !ok {
			continue
		}
		cands = append(cands, candidate{label: lbl, dist: idx.distance(n.vec, other.vec)})
	}
	return selectNeighbors(cands, keep)
}

func (idx *index) randomLevel() int {
	if idx.cfg.M <= 1 {
		return 0
	}
	ml := 1.0 / math.Log(float64(idx.cfg.M))
	level := int(math.Floor(-math.Log(idx.rng.Float64()+1e-12) * ml))
	if level > 32 {
		level = 32
	}
	return level
}

type candidate struct {
	label uint64
	dist  float32
}

// greedyClosest walks down from ep to the single closest node at lvl.
func (idx *index) greedyClosest(vec Vector, ep uint64, lvl int) uint64 {
	current := ep
	currentDist := idx.distance(vec, idx.nodes[current].vec)
	for {
		improved := false
		cn := idx.nodes[current]
		if lvl < len(cn.neighbors) {
			for _, peer := range cn.neighbors[lvl] {
				pn, ok := idx.nodes[peer]
				if !ok {
					continue
				}
				d := idx.distance(vec, pn.vec)
				if d < currentDist {
					currentDist = d
					current = peer
					improved = true
				}
			}
		}
		if !improved {
			return current
		}
	}
}

// searchLayer runs a best-first search at lvl, returning up to ef
// candidates sorted ascending by distance.
func (idx *index) searchLayer(vec Vector, ep uint64, ef int, lvl int) []candidate {
	visited := map[uint64]bool{ep: true}
	epDist := idx.distance(vec, idx.nodes[ep].vec)

	cands := &minHeap{{label: ep, dist: epDist}}
	result := &maxHeap{{label: ep, dist: epDist}}
	heap.Init(cands)
	heap.Init(result)

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		worst := (*result)[0]
		if c.dist > worst.dist && result.Len() >= ef {
			break
		}
		cn, ok := idx.nodes[c.label]
		if !ok || lvl >= len(cn.neighbors) {
			continue
		}
		for _, peer := range cn.neighbors[lvl] {
			if visited[peer] {
				continue
			}
			visited[peer] = true
			pn, ok := idx.nodes[peer]
			if !ok {
				continue
			}
			d := idx.distance(vec, pn.vec)
			if result.Len() < ef || d < (*result)[0].dist {
				heap.Push(cands, candidate{label: peer, dist: d})
				heap.Push(result, candidate{label: peer, dist: d})
				if result.Len() > ef {
					heap.Pop(result)
				}
			}
		}
	}

	out := make([]candidate, result.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(result).(candidate)
	}
	return out
}

func selectNeighbors(cands []candidate, m int) []uint64 {
	if len(cands) > m {
		cands = cands[:m]
	}
	out := make([]uint64, len(cands))
	for i, c := range cands {
		out[i] = c.label
	}
	return out
}

func (idx *index) search(query Vector, k int) ([]SearchResult, error) {
	if err := idx.validate(query); err != nil {
		return nil, err
	}
	if !idx.hasRoot || k <= 0 {
		return nil, nil
	}

	ep := idx.entry
	for lvl := idx.maxLvl; lvl > 0; lvl-- {
		ep = idx.greedyClosest(query, ep, lvl)
	}

	ef := k
	if idx.cfg.EfConstruction > ef {
		ef = idx.cfg.EfConstruction
	}
	cands := idx.searchLayer(query, ep, ef, 0)
	if len(cands) > k {
		cands = cands[:k]
	}
	results := make([]SearchResult, len(cands))
	for i, c := range cands {
		results[i] = SearchResult{Label: c.label, Distance: c.dist}
	}
	return results, nil
}

func (idx *index) distance(a, b Vector) float32 {
	switch idx.cfg.Metric {
	case L2:
		return l2Distance(a.Data, b.Data)
	case InnerProduct:
		return -innerProduct(a.Data, b.Data)
	default:
		return cosineDistance(a.Data, b.Data)
	}
}

func l2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func innerProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func cosineDistance(a, b []float32) float32 {
	dot := innerProduct(a, b)
	var na, nb float32
	for i := range a {
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
	return 1 - sim
}

func removeLabel(s []uint64, label uint64) []uint64 {
	out := s[:0]
	for _, v := range s {
		if v != label {
			out = append(out, v)
		}
	}
	return out
}

// minHeap orders candidates ascending by distance (used for the search frontier).
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap orders candidates descending by distance (used to track the
// current k-best result set, with the worst at the root for eviction).
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
