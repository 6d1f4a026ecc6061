package bagel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// MapReduceVertices maps every vertex of g and folds the results with
// combine. Chunks are mapped in parallel but always folded in ascending
// vertex index (and so vertex id) order, so a combine that keeps its left
// operand on ties picks the smallest id.
//
// Every process of a distributed run holds the full topology, so the
// result is the same on each of them for functions of topology alone.
func MapReduceVertices[V, R any](g *Graph[V], mapFn func(Vertex[V]) R, combine func(a, b R) R) (R, error) {
	var zero R
	if !g.IsFinalized() {
		return zero, ErrNotFinalized
	}
	n := g.NumVertices()
	if n == 0 {
		return zero, ErrEmptyGraph
	}

	chunks := runtime.GOMAXPROCS(0)
	if chunks > n {
		chunks = n
	}
	size := (n + chunks - 1) / chunks
	chunks = (n + size - 1) / size
	partial := make([]R, chunks)

	var eg errgroup.Group
	for c := 0; c < chunks; c++ {
		lo, hi := c*size, (c+1)*size
		if hi > n {
			hi = n
		}
		eg.Go(func() error {
			acc := mapFn(Vertex[V]{g: g, idx: lo})
			for i := lo + 1; i < hi; i++ {
				acc = combine(acc, mapFn(Vertex[V]{g: g, idx: i}))
			}
			partial[c] = acc
			return nil
		})
	}
	eg.Wait()

	acc := partial[0]
	for _, r := range partial[1:] {
		acc = combine(acc, r)
	}
	return acc, nil
}
