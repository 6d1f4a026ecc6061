// Package database keeps graphs in external stores as one record per
// vertex, {ID, Edges, Hash}, and feeds them back into a bagel graph.
package database

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"bagelbfs/bagel"
	"bagelbfs/util"
)

const (
	CentralTableName = "bagel-db"
	DefaultRegion    = "us-east-2"
	MaxItemsPerBatch = 25
)

type Graph map[uint64][]uint64

// Vertex is the stored form of a vertex: its out-neighbours and the hash
// that decides which process owns it.
type Vertex struct {
	ID    uint64
	Edges []uint64
	Hash  uint64
}

// ParseInputGraph reads a "src dst" edge list ('#' comments) into vertex
// records sorted by id. Targets with no out-edges get empty records.
func ParseInputGraph(r io.Reader) ([]Vertex, error) {
	graph := make(Graph)
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		edge := strings.Fields(line)
		if len(edge) < 2 {
			return nil, fmt.Errorf("line %d: want \"src dst\", got %q", lineNo, line)
		}
		src, err := strconv.ParseUint(edge[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		dest, err := strconv.ParseUint(edge[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		graph[src] = append(graph[src], dest)
		if graph[dest] == nil {
			graph[dest] = []uint64{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading edge list")
	}
	return graphToVertices(graph), nil
}

func graphToVertices(graph Graph) []Vertex {
	vertices := make([]Vertex, 0, len(graph))
	for vertexId, edges := range graph {
		vertices = append(vertices, Vertex{
			ID:    vertexId,
			Edges: edges,
			Hash:  util.HashId(vertexId),
		})
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i].ID < vertices[j].ID })
	return vertices
}

// VertexSource is a graph store that can list every vertex it holds.
type VertexSource interface {
	Vertices(ctx context.Context) ([]Vertex, error)
}

// VertexSourceFunc adapts a listing function such as ScanVertices to a
// VertexSource.
type VertexSourceFunc func(ctx context.Context) ([]Vertex, error)

func (f VertexSourceFunc) Vertices(ctx context.Context) ([]Vertex, error) { return f(ctx) }

// LoadVertices reads the whole store into g.
func LoadVertices(ctx context.Context, g bagel.EdgeAdder, src VertexSource) error {
	vertices, err := src.Vertices(ctx)
	if err != nil {
		return errors.Wrap(err, "listing store vertices")
	}
	return AddVertices(g, vertices)
}

// AddVertices adds every record and its out-edges to g.
func AddVertices(g bagel.EdgeAdder, vertices []Vertex) error {
	for _, v := range vertices {
		if err := g.AddVertex(v.ID); err != nil {
			return err
		}
		for _, dst := range v.Edges {
			if err := g.AddEdge(v.ID, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteAdjacency writes vertices in the "vid n nbr1 ... nbrn" format
// bagel.FormatAdj reads.
func WriteAdjacency(w io.Writer, vertices []Vertex) error {
	bw := bufio.NewWriter(w)
	for _, v := range vertices {
		bw.WriteString(strconv.FormatUint(v.ID, 10))
		bw.WriteByte(' ')
		bw.WriteString(strconv.Itoa(len(v.Edges)))
		for _, e := range v.Edges {
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatUint(e, 10))
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Batches splits items into runs of at most size.
func Batches[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
