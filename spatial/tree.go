// Package spatial provides the planar nearest-neighbor index over hex
// cells: an immutable balanced kd-tree plus a mutable registry that
// keeps the tree synchronized with a changing entity set.
package spatial

import (
	"container/heap"
	"errors"
	"sort"

	"github.com/MapConductor/geocore/geo"
	"github.com/MapConductor/geocore/hexgrid"
)

var (
	// ErrNonPositiveK rejects k-nearest queries with k <= 0.
	ErrNonPositiveK = errors.New("spatial: k must be positive")
	// ErrNegativeRadius rejects radius queries with a negative radius.
	ErrNegativeRadius = errors.New("spatial: radius must be non-negative")
)

// Tree is an immutable balanced binary tree over the planar centers of
// hex cells. Built once from a snapshot; any change to the underlying
// set requires a wholesale rebuild.
type Tree struct {
	root *treeNode
	size int
}

type treeNode struct {
	cell  hexgrid.Cell
	axis  int // 0: x, 1: y; alternates with depth
	left  *treeNode
	right *treeNode
}

// Build constructs a tree from a snapshot of cells. The input slice is
// copied; the caller may reuse it.
func Build(cells []hexgrid.Cell) *Tree {
	snapshot := make([]hexgrid.Cell, len(cells))
	copy(snapshot, cells)
	return &Tree{root: build(snapshot, 0), size: len(snapshot)}
}

func build(cells []hexgrid.Cell, depth int) *treeNode {
	if len(cells) == 0 {
		return nil
	}
	axis := depth % 2
	mid := len(cells) / 2
	selectNth(cells, mid, axis)
	return &treeNode{
		cell:  cells[mid],
		axis:  axis,
		left:  build(cells[:mid], depth+1),
		right: build(cells[mid+1:], depth+1),
	}
}

// selectNth partially sorts cells so that the nth element is in its
// final sorted position along the given axis (in-place quickselect).
func selectNth(cells []hexgrid.Cell, n, axis int) {
	lo, hi := 0, len(cells)-1
	for lo < hi {
		p := partition(cells, lo, hi, (lo+hi)/2, axis)
		switch {
		case p == n:
			return
		case n < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
}

func partition(cells []hexgrid.Cell, lo, hi, pivot, axis int) int {
	pv := cells[pivot]
	cells[pivot], cells[hi] = cells[hi], cells[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if axisValue(cells[j], axis) < axisValue(pv, axis) {
			cells[i], cells[j] = cells[j], cells[i]
			i++
		}
	}
	cells[i], cells[hi] = cells[hi], cells[i]
	return i
}

func axisValue(c hexgrid.Cell, axis int) float64 {
	if axis == 0 {
		return c.Planar.X
	}
	return c.Planar.Y
}

func dist2(a geo.Planar, c hexgrid.Cell) float64 {
	dx := a.X - c.Planar.X
	dy := a.Y - c.Planar.Y
	return dx*dx + dy*dy
}

// Len returns the number of cells in the tree.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Nearest returns the cell closest to the query point, or false for an
// empty tree. Branch-and-bound: the near child is searched first; the
// far child only when the splitting plane is closer than the current
// best.
func (t *Tree) Nearest(at geo.Planar) (hexgrid.Cell, bool) {
	if t == nil || t.root == nil {
		return hexgrid.Cell{}, false
	}

	var best hexgrid.Cell
	bestD2 := -1.0

	var visit func(n *treeNode)
	visit = func(n *treeNode) {
		if n == nil {
			return
		}
		if d2 := dist2(at, n.cell); bestD2 < 0 || d2 < bestD2 {
			best, bestD2 = n.cell, d2
		}

		key, split := axisSplit(at, n)
		near, far := n.left, n.right
		if key > split {
			near, far = n.right, n.left
		}
		visit(near)
		if axisDelta := key - split; axisDelta*axisDelta < bestD2 {
			visit(far)
		}
	}
	visit(t.root)

	return best, true
}

// KNearest returns the min(k, Len) cells closest to the query point,
// sorted ascending by distance. Traversal keeps a bounded max-heap of
// size k keyed by squared distance; the far subtree is pruned unless
// the heap is short or the splitting plane is closer than the current
// worst candidate.
func (t *Tree) KNearest(at geo.Planar, k int) ([]hexgrid.Cell, error) {
	if k <= 0 {
		return nil, ErrNonPositiveK
	}
	if t == nil || t.root == nil {
		return nil, nil
	}

	h := &candidateHeap{}

	var visit func(n *treeNode)
	visit = func(n *treeNode) {
		if n == nil {
			return
		}
		d2 := dist2(at, n.cell)
		if h.Len() < k {
			heap.Push(h, candidate{cell: n.cell, d2: d2})
		} else if d2 < (*h)[0].d2 {
			(*h)[0] = candidate{cell: n.cell, d2: d2}
			heap.Fix(h, 0)
		}

		key, split := axisSplit(at, n)
		near, far := n.left, n.right
		if key > split {
			near, far = n.right, n.left
		}
		visit(near)
		axisDelta := key - split
		if h.Len() < k || axisDelta*axisDelta < (*h)[0].d2 {
			visit(far)
		}
	}
	visit(t.root)

	// Pop from the max-heap into reverse order, then flip to ascending.
	out := make([]hexgrid.Cell, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(candidate).cell
	}
	return out, nil
}

// WithinRadius returns every cell within the given planar radius of the
// query point, sorted ascending by distance. Subtrees are pruned when
// the splitting plane is farther than the radius.
func (t *Tree) WithinRadius(at geo.Planar, radius float64) ([]hexgrid.Cell, error) {
	if radius < 0 {
		return nil, ErrNegativeRadius
	}
	if t == nil || t.root == nil {
		return nil, nil
	}

	r2 := radius * radius
	var found []candidate

	var visit func(n *treeNode)
	visit = func(n *treeNode) {
		if n == nil {
			return
		}
		if d2 := dist2(at, n.cell); d2 <= r2 {
			found = append(found, candidate{cell: n.cell, d2: d2})
		}

		key, split := axisSplit(at, n)
		near, far := n.left, n.right
		if key > split {
			near, far = n.right, n.left
		}
		visit(near)
		if axisDelta := key - split; axisDelta*axisDelta <= r2 {
			visit(far)
		}
	}
	visit(t.root)

	sort.Slice(found, func(i, j int) bool { return found[i].d2 < found[j].d2 })
	out := make([]hexgrid.Cell, len(found))
	for i, c := range found {
		out[i] = c.cell
	}
	return out, nil
}

func axisSplit(at geo.Planar, n *treeNode) (key, split float64) {
	if n.axis == 0 {
		return at.X, n.cell.Planar.X
	}
	return at.Y, n.cell.Planar.Y
}

type candidate struct {
	cell hexgrid.Cell
	d2   float64
}

// candidateHeap is a max-heap by squared distance: the worst candidate
// sits at the root, ready to be displaced.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].d2 > h[j].d2 }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
