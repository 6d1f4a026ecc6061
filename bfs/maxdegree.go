package bfs

import (
	"bagelbfs/bagel"
)

// DegreeRecord is the map output of the max-degree reduction.
type DegreeRecord struct {
	VertexID uint64
	Degree   uint64
}

func FindMaxDegreeVertex(v bagel.Vertex[VertexData]) DegreeRecord {
	return DegreeRecord{
		VertexID: v.ID(),
		Degree:   uint64(v.NumInEdges() + v.NumOutEdges()),
	}
}

// CombineMaxDegree keeps a unless b has a strictly larger degree.
func CombineMaxDegree(a, b DegreeRecord) DegreeRecord {
	if b.Degree > a.Degree {
		return b
	}
	return a
}

// MaxDegreeVertex returns the vertex with the most in+out edges. Ties go
// to the smallest id.
func MaxDegreeVertex(g *bagel.Graph[VertexData]) (DegreeRecord, error) {
	return bagel.MapReduceVertices(g, FindMaxDegreeVertex, CombineMaxDegree)
}
