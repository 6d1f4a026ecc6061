// Package bagel is a vertex-centric graph engine in the gather-apply-scatter
// style. A Graph is loaded and finalized once, then an Engine runs a
// VertexProgram over it until no vertex has a pending signal.
package bagel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"bagelbfs/util"
)

var (
	ErrNotFinalized     = errors.New("bagel: graph is not finalized")
	ErrFinalized        = errors.New("bagel: graph is already finalized")
	ErrEmptyGraph       = errors.New("bagel: graph has no vertices")
	ErrVertexNotFound   = errors.New("bagel: vertex not found")
	ErrUnknownFormat    = errors.New("bagel: unknown graph format")
	ErrAsyncDistributed = errors.New("bagel: asynchronous engine runs in a single process only")
	ErrGatherNotAllowed = errors.New("bagel: gather over edges is not supported")
)

const lockStripes = 1024

// EdgeAdder is the write side of a graph used by loaders.
type EdgeAdder interface {
	AddVertex(id uint64) error
	AddEdge(src, dst uint64) error
}

// Graph holds the topology and per-vertex data of type V. Vertices and
// edges are added while loading; Finalize freezes the topology, after which
// only vertex data may change.
type Graph[V any] struct {
	newData func(id uint64) V

	mu        sync.Mutex
	seen      map[uint64]struct{}
	edges     [][2]uint64
	finalized bool

	// valid after Finalize; vertex indices follow ascending id order
	index  map[uint64]int
	ids    []uint64
	data   []V
	locks  [lockStripes]sync.RWMutex
	outOff []int
	outAdj []int
	inOff  []int
	inAdj  []int
}

// NewGraph returns an empty graph. newData gives each vertex its initial
// data at Finalize.
func NewGraph[V any](newData func(id uint64) V) *Graph[V] {
	return &Graph[V]{
		newData: newData,
		seen:    make(map[uint64]struct{}),
	}
}

func (g *Graph[V]) AddVertex(id uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalized {
		return ErrFinalized
	}
	g.seen[id] = struct{}{}
	return nil
}

// AddEdge adds src->dst and both endpoints. Self edges are dropped.
func (g *Graph[V]) AddEdge(src, dst uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalized {
		return ErrFinalized
	}
	g.seen[src] = struct{}{}
	g.seen[dst] = struct{}{}
	if src == dst {
		return nil
	}
	g.edges = append(g.edges, [2]uint64{src, dst})
	return nil
}

// Finalize builds the vertex index and adjacency. It is a no-op on a
// finalized graph.
func (g *Graph[V]) Finalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalized {
		return
	}

	g.ids = make([]uint64, 0, len(g.seen))
	for id := range g.seen {
		g.ids = append(g.ids, id)
	}
	sort.Slice(g.ids, func(a, b int) bool { return g.ids[a] < g.ids[b] })

	n := len(g.ids)
	g.index = make(map[uint64]int, n)
	g.data = make([]V, n)
	for i, id := range g.ids {
		g.index[id] = i
		g.data[i] = g.newData(id)
	}

	g.outOff = make([]int, n+1)
	g.inOff = make([]int, n+1)
	for _, e := range g.edges {
		g.outOff[g.index[e[0]]+1]++
		g.inOff[g.index[e[1]]+1]++
	}
	for i := 0; i < n; i++ {
		g.outOff[i+1] += g.outOff[i]
		g.inOff[i+1] += g.inOff[i]
	}
	g.outAdj = make([]int, len(g.edges))
	g.inAdj = make([]int, len(g.edges))
	outNext := append([]int(nil), g.outOff[:n]...)
	inNext := append([]int(nil), g.inOff[:n]...)
	for _, e := range g.edges {
		s, t := g.index[e[0]], g.index[e[1]]
		g.outAdj[outNext[s]] = t
		outNext[s]++
		g.inAdj[inNext[t]] = s
		inNext[t]++
	}

	g.seen = nil
	g.edges = nil
	g.finalized = true
}

func (g *Graph[V]) IsFinalized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalized
}

func (g *Graph[V]) NumVertices() int { return len(g.ids) }

func (g *Graph[V]) NumEdges() int { return len(g.outAdj) }

func (g *Graph[V]) HasVertex(id uint64) bool {
	_, ok := g.index[id]
	return ok
}

// Vertex returns the vertex with the given id.
func (g *Graph[V]) Vertex(id uint64) (Vertex[V], error) {
	idx, ok := g.index[id]
	if !ok {
		return Vertex[V]{}, fmt.Errorf("%w: %d", ErrVertexNotFound, id)
	}
	return Vertex[V]{g: g, idx: idx}, nil
}

// VertexAt returns the vertex at index i in [0, NumVertices()).
func (g *Graph[V]) VertexAt(i int) Vertex[V] {
	return Vertex[V]{g: g, idx: i}
}

func (g *Graph[V]) lock(idx int) *sync.RWMutex {
	return &g.locks[idx%lockStripes]
}

func (g *Graph[V]) setData(idx int, d V) {
	l := g.lock(idx)
	l.Lock()
	g.data[idx] = d
	l.Unlock()
}

// Owner is the process that owns vertex id in a run over nprocs processes.
func Owner(id uint64, nprocs int) int {
	return util.Bucket(id, nprocs)
}

// Partition returns the indices of the vertices owned by proc, ascending.
func (g *Graph[V]) Partition(proc, nprocs int) []int {
	var owned []int
	for i, id := range g.ids {
		if Owner(id, nprocs) == proc {
			owned = append(owned, i)
		}
	}
	return owned
}

// Vertex is a read view of one vertex of a finalized graph.
type Vertex[V any] struct {
	g   *Graph[V]
	idx int
}

func (v Vertex[V]) ID() uint64 { return v.g.ids[v.idx] }

// Data returns a copy of the vertex data.
func (v Vertex[V]) Data() V {
	l := v.g.lock(v.idx)
	l.RLock()
	defer l.RUnlock()
	return v.g.data[v.idx]
}

func (v Vertex[V]) NumInEdges() int { return v.g.inOff[v.idx+1] - v.g.inOff[v.idx] }

func (v Vertex[V]) NumOutEdges() int { return v.g.outOff[v.idx+1] - v.g.outOff[v.idx] }

// Edge is a directed edge between two vertices.
type Edge[V any] struct {
	g        *Graph[V]
	src, dst int
}

func (e Edge[V]) Source() Vertex[V] { return Vertex[V]{g: e.g, idx: e.src} }
func (e Edge[V]) Target() Vertex[V] { return Vertex[V]{g: e.g, idx: e.dst} }

// EdgeDir selects the edges a gather or scatter phase visits.
type EdgeDir uint8

const (
	NoEdges EdgeDir = iota
	InEdges
	OutEdges
	AllEdges
)

func (d EdgeDir) String() string {
	switch d {
	case NoEdges:
		return "none"
	case InEdges:
		return "in"
	case OutEdges:
		return "out"
	case AllEdges:
		return "all"
	}
	return fmt.Sprintf("EdgeDir(%d)", uint8(d))
}

// forEachEdge calls fn for the edges of idx selected by dir, in-edges
// first.
func (g *Graph[V]) forEachEdge(idx int, dir EdgeDir, fn func(Edge[V])) {
	if dir == InEdges || dir == AllEdges {
		for _, src := range g.inAdj[g.inOff[idx]:g.inOff[idx+1]] {
			fn(Edge[V]{g: g, src: src, dst: idx})
		}
	}
	if dir == OutEdges || dir == AllEdges {
		for _, dst := range g.outAdj[g.outOff[idx]:g.outOff[idx+1]] {
			fn(Edge[V]{g: g, src: idx, dst: dst})
		}
	}
}
