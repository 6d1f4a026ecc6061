// Package bfs computes a breadth-first spanning forest on a bagel graph:
// every vertex reachable from a source ends up holding the id of its
// parent on a shortest path, and each source is its own parent.
package bfs

import (
	"math"

	"bagelbfs/bagel"
	"bagelbfs/wire"
)

// NoParent marks a vertex the traversal has not reached. It prints as -1.
const NoParent uint64 = math.MaxUint64

type VertexData struct {
	Parent uint64
}

func NewVertexData(uint64) VertexData { return VertexData{Parent: NoParent} }

func (d VertexData) Reached() bool { return d.Parent != NoParent }

// Program is the per-activation BFS vertex program. The message is the id
// of the vertex that reached this one.
type Program struct {
	Directed bool

	msg uint64
}

func (p *Program) Init(c bagel.Context[uint64], v bagel.Vertex[VertexData], msg uint64) {
	p.msg = msg
}

func (p *Program) GatherEdges(bagel.Context[uint64], bagel.Vertex[VertexData]) bagel.EdgeDir {
	return bagel.NoEdges
}

func (p *Program) Apply(c bagel.Context[uint64], v bagel.Vertex[VertexData], data *VertexData) {
	data.Parent = p.msg
}

func (p *Program) ScatterEdges(bagel.Context[uint64], bagel.Vertex[VertexData]) bagel.EdgeDir {
	if p.Directed {
		return bagel.OutEdges
	}
	return bagel.AllEdges
}

func (p *Program) Scatter(c bagel.Context[uint64], v bagel.Vertex[VertexData], e bagel.Edge[VertexData]) {
	other := otherVertex(v, e)
	if other.Data().Parent == NoParent {
		c.Signal(other.ID(), v.ID())
	}
}

func otherVertex(v bagel.Vertex[VertexData], e bagel.Edge[VertexData]) bagel.Vertex[VertexData] {
	if e.Source().ID() == v.ID() {
		return e.Target()
	}
	return e.Source()
}

// CombineMessages keeps the smaller sender id so runs are reproducible.
func CombineMessages(a, b uint64) uint64 {
	if b < a {
		return b
	}
	return a
}

// VertexDataCodec encodes VertexData as its parent id.
type VertexDataCodec struct{}

func (VertexDataCodec) Append(b []byte, d VertexData) []byte {
	return wire.Uint64{}.Append(b, d.Parent)
}

func (VertexDataCodec) Consume(b []byte) (VertexData, int, error) {
	parent, n, err := wire.Uint64{}.Consume(b)
	return VertexData{Parent: parent}, n, err
}

func NewAlgorithm(directed bool) bagel.Algorithm[VertexData, uint64] {
	return bagel.Algorithm[VertexData, uint64]{
		New: func() bagel.VertexProgram[VertexData, uint64] {
			return &Program{Directed: directed}
		},
		Combine:      CombineMessages,
		MessageCodec: wire.Uint64{},
		DataCodec:    VertexDataCodec{},
	}
}
