package bfs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"bagelbfs/bagel"
	"bagelbfs/comm"
	"bagelbfs/database"
)

type edge [2]uint64

func randomEdges(seed int64, n, m int) []edge {
	rng := rand.New(rand.NewSource(seed))
	edges := make([]edge, 0, m)
	for len(edges) < m {
		u, v := uint64(rng.Intn(n)), uint64(rng.Intn(n))
		if u != v {
			edges = append(edges, edge{u, v})
		}
	}
	return edges
}

func writeEdgeList(t *testing.T, edges []edge) string {
	t.Helper()
	var b strings.Builder
	for _, e := range edges {
		fmt.Fprintf(&b, "%d %d\n", e[0], e[1])
	}
	path := filepath.Join(t.TempDir(), "graph.tsv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func buildGraph(t *testing.T, edges []edge) *bagel.Graph[VertexData] {
	t.Helper()
	g := bagel.NewGraph(NewVertexData)
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	g.Finalize()
	return g
}

// oracleDepths is the hop distance from the nearest source, computed by
// gonum.
func oracleDepths(edges []edge, sources []uint64, directed bool) map[uint64]int {
	var g graph.Graph
	if directed {
		dg := simple.NewDirectedGraph()
		for _, e := range edges {
			dg.SetEdge(dg.NewEdge(simple.Node(e[0]), simple.Node(e[1])))
		}
		g = dg
	} else {
		ug := simple.NewUndirectedGraph()
		for _, e := range edges {
			ug.SetEdge(ug.NewEdge(simple.Node(e[0]), simple.Node(e[1])))
		}
		g = ug
	}

	depths := make(map[uint64]int)
	for _, src := range sources {
		var bf traverse.BreadthFirst
		bf.Walk(g, simple.Node(src), func(n graph.Node, d int) bool {
			id := uint64(n.ID())
			if old, ok := depths[id]; !ok || d < old {
				depths[id] = d
			}
			return false
		})
	}
	return depths
}

func parentsOf(g *bagel.Graph[VertexData]) map[uint64]uint64 {
	parents := make(map[uint64]uint64)
	for i := 0; i < g.NumVertices(); i++ {
		v := g.VertexAt(i)
		parents[v.ID()] = v.Data().Parent
	}
	return parents
}

// chainDepth follows parents to a self-root.
func chainDepth(t *testing.T, parents map[uint64]uint64, id uint64) int {
	t.Helper()
	depth := 0
	for parents[id] != id {
		require.NotEqual(t, NoParent, parents[id], "chain from %d hits an unreached vertex", id)
		id = parents[id]
		depth++
		require.LessOrEqual(t, depth, len(parents), "parent cycle")
	}
	return depth
}

func adjacency(edges []edge, directed bool) map[edge]bool {
	adj := make(map[edge]bool)
	for _, e := range edges {
		adj[e] = true
		if !directed {
			adj[edge{e[1], e[0]}] = true
		}
	}
	return adj
}

func runJob(t *testing.T, cfg Config) (*Job, Result) {
	t.Helper()
	job, err := Prepare(context.Background(), cfg)
	require.NoError(t, err)
	res, err := job.Run(context.Background())
	require.NoError(t, err)
	return job, res
}

func TestSynchronousParentsAreShortestPaths(t *testing.T) {
	for _, directed := range []bool{false, true} {
		t.Run(fmt.Sprintf("directed=%v", directed), func(t *testing.T) {
			edges := randomEdges(11, 300, 600)
			sources := []uint64{edges[0][0], edges[7][1]}
			job, res := runJob(t, Config{
				Graph: writeEdgeList(t, edges), Format: bagel.FormatTSV,
				Sources: sources, Directed: directed, Partitions: 4,
			})

			want := oracleDepths(edges, sources, directed)
			parents := parentsOf(job.Graph)
			adj := adjacency(edges, directed)

			assert.EqualValues(t, len(want), res.Reached)
			for id, parent := range parents {
				d, reachable := want[id]
				if !reachable {
					assert.Equal(t, NoParent, parent, "vertex %d", id)
					continue
				}
				assert.Equal(t, d, chainDepth(t, parents, id), "depth of %d", id)
				if parent != id {
					assert.True(t, adj[edge{parent, id}], "parent %d of %d is not a neighbour", parent, id)
				}
			}
			for _, src := range sources {
				assert.Equal(t, src, parents[src])
			}
		})
	}
}

func TestDirectedChain(t *testing.T) {
	path := writeEdgeList(t, []edge{{0, 1}, {1, 2}})

	tests := []struct {
		name       string
		source     uint64
		directed   bool
		want       map[uint64]uint64
		reached    uint64
		iterations int64
	}{
		{"undirected from 0", 0, false, map[uint64]uint64{0: 0, 1: 0, 2: 1}, 3, 3},
		{"directed from 2", 2, true, map[uint64]uint64{0: NoParent, 1: NoParent, 2: 2}, 1, 1},
		{"directed from 1", 1, true, map[uint64]uint64{0: NoParent, 1: 1, 2: 1}, 2, 2},
		{"undirected from 1", 1, false, map[uint64]uint64{0: 1, 1: 1, 2: 1}, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, res := runJob(t, Config{Graph: path, Format: bagel.FormatTSV, Sources: []uint64{tt.source}, Directed: tt.directed})
			assert.Equal(t, tt.want, parentsOf(job.Graph))
			assert.Equal(t, tt.reached, res.Reached)
			assert.Equal(t, tt.iterations, res.Iterations)
		})
	}
}

func TestMaxDegreeOnStar(t *testing.T) {
	// center 9 with four leaves of degree 1
	edges := []edge{{0, 9}, {1, 9}, {9, 2}, {9, 3}}
	g := buildGraph(t, edges)
	rec, err := MaxDegreeVertex(g)
	require.NoError(t, err)
	assert.Equal(t, DegreeRecord{VertexID: 9, Degree: 4}, rec)
	for _, leaf := range []uint64{0, 1, 2, 3} {
		v, err := g.Vertex(leaf)
		require.NoError(t, err)
		assert.Equal(t, DegreeRecord{VertexID: leaf, Degree: 1}, FindMaxDegreeVertex(v))
	}

	// the max-degree vertex is appended to the requested sources
	sources, err := ChooseSources(g, []uint64{3}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 9}, sources)

	sources, err = ChooseSources(g, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, sources)

	sources, err = ChooseSources(g, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, sources)

	_, err = ChooseSources(g, []uint64{99}, false)
	assert.ErrorIs(t, err, bagel.ErrVertexNotFound)

	_, err = MaxDegreeVertex(buildGraph(t, nil))
	assert.ErrorIs(t, err, bagel.ErrEmptyGraph)
}

func TestCombineMaxDegreeKeepsLeftOnTie(t *testing.T) {
	a := DegreeRecord{VertexID: 1, Degree: 3}
	b := DegreeRecord{VertexID: 2, Degree: 3}
	assert.Equal(t, a, CombineMaxDegree(a, b))
	assert.Equal(t, b, CombineMaxDegree(b, a))

	bigger := DegreeRecord{VertexID: 2, Degree: 4}
	assert.Equal(t, bigger, CombineMaxDegree(a, bigger))
	assert.Equal(t, bigger, CombineMaxDegree(bigger, a))
}

func TestSourceWithoutEdgesIsSelfRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.adj")
	require.NoError(t, os.WriteFile(path, []byte("7 0\n1 1 2\n"), 0644))

	job, res := runJob(t, Config{Graph: path, Sources: []uint64{7}})
	assert.Equal(t, map[uint64]uint64{1: NoParent, 2: NoParent, 7: 7}, parentsOf(job.Graph))
	assert.EqualValues(t, 1, res.Reached)
}

func TestApplyIsIdempotent(t *testing.T) {
	g := buildGraph(t, []edge{{0, 1}})
	v, err := g.Vertex(1)
	require.NoError(t, err)

	p := &Program{}
	p.Init(nil, v, 0)
	data := NewVertexData(1)
	p.Apply(nil, v, &data)
	once := data
	p.Apply(nil, v, &data)
	assert.Equal(t, once, data)
	assert.EqualValues(t, 0, data.Parent)
}

func TestCombineMessagesKeepsSmallerSender(t *testing.T) {
	assert.EqualValues(t, 3, CombineMessages(3, 9))
	assert.EqualValues(t, 3, CombineMessages(9, 3))
}

func TestSaveAndReadParentsRoundTrip(t *testing.T) {
	edges := randomEdges(3, 50, 80)
	prefix := filepath.Join(t.TempDir(), "bfs")
	job, res := runJob(t, Config{
		Graph: writeEdgeList(t, edges), Format: bagel.FormatTSV, SavePrefix: prefix,
		Sources: []uint64{edges[0][0]},
	})
	require.Equal(t, bagel.SaveFileName(prefix, 0, 1, false), res.SaveFile)

	f, err := os.Open(res.SaveFile)
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadParents(f)
	require.NoError(t, err)

	want := make(map[uint64]int64)
	for id, p := range parentsOf(job.Graph) {
		if p == NoParent {
			want[id] = -1
		} else {
			want[id] = int64(p)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parents after round trip (-want +got):\n%s", diff)
	}
}

func TestReadParentsRejectsGarbage(t *testing.T) {
	_, err := ReadParents(strings.NewReader("1 2\n"))
	assert.Error(t, err)
	_, err = ReadParents(strings.NewReader("1\tx\n"))
	assert.Error(t, err)
}

func TestAsynchronousReachability(t *testing.T) {
	edges := randomEdges(5, 200, 300)
	job, res := runJob(t, Config{
		Graph: writeEdgeList(t, edges), Format: bagel.FormatTSV,
		Sources: []uint64{edges[0][0]}, Mode: bagel.Asynchronous, Workers: 8,
	})

	src := edges[0][0]
	want := oracleDepths(edges, []uint64{src}, false)
	parents := parentsOf(job.Graph)
	adj := adjacency(edges, false)
	assert.EqualValues(t, len(want), res.Reached)
	assert.Equal(t, src, parents[src])
	for id, parent := range parents {
		_, reachable := want[id]
		assert.Equal(t, reachable, parent != NoParent, "vertex %d", id)
		if reachable && id != src {
			assert.True(t, adj[edge{parent, id}], "parent %d of %d is not a neighbour", parent, id)
			chainDepth(t, parents, id)
		}
	}
}

func TestDistributedRunMatchesSingleProcess(t *testing.T) {
	edges := randomEdges(21, 150, 300)
	path := writeEdgeList(t, edges)
	sources := []uint64{edges[0][0]}
	single, _ := runJob(t, Config{Graph: path, Format: bagel.FormatTSV, Sources: sources})
	want := parentsOf(single.Graph)

	const procs = 3
	prefix := filepath.Join(t.TempDir(), "dist")
	ctls := comm.NewLocalGroup(procs)
	jobs := make([]*Job, procs)
	for p, dc := range ctls {
		job, err := Prepare(context.Background(), Config{
			Graph: path, Format: bagel.FormatTSV, Sources: sources,
			Control: dc, Partitions: 2, ExchangeThreshold: 16, SavePrefix: prefix,
		})
		require.NoError(t, err)
		jobs[p] = job
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	files := make([]string, procs)
	for p, job := range jobs {
		eg.Go(func() error {
			res, err := job.Run(ctx)
			files[p] = res.SaveFile
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for p, job := range jobs {
		if diff := cmp.Diff(want, parentsOf(job.Graph)); diff != "" {
			t.Errorf("proc %d parents (-want +got):\n%s", p, diff)
		}
	}

	// the saved slices partition the vertex set
	merged := make(map[uint64]int64)
	for _, name := range files {
		f, err := os.Open(name)
		require.NoError(t, err)
		part, err := ReadParents(f)
		f.Close()
		require.NoError(t, err)
		for id, parent := range part {
			_, dup := merged[id]
			assert.False(t, dup, "vertex %d saved twice", id)
			merged[id] = parent
		}
	}
	assert.Len(t, merged, single.Graph.NumVertices())
}

func TestConfigValidation(t *testing.T) {
	_, err := Prepare(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = Prepare(context.Background(), Config{Graph: "x", Format: "metis"})
	assert.Error(t, err)

	_, err = Prepare(context.Background(), Config{Powerlaw: 100, Mode: "eventual"})
	assert.Error(t, err)
}

func TestStoreRunMatchesFile(t *testing.T) {
	edges := randomEdges(5, 80, 160)
	path := writeEdgeList(t, edges)
	sources := []uint64{edges[0][0]}
	fromFile, _ := runJob(t, Config{Graph: path, Format: bagel.FormatTSV, Sources: sources})

	f, err := os.Open(path)
	require.NoError(t, err)
	vertices, err := database.ParseInputGraph(f)
	f.Close()
	require.NoError(t, err)

	ctx := context.Background()
	store, err := database.OpenSQLGraph(database.DatabaseConfig{
		Driver:   database.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "graph.db"),
	})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.CreateTable(ctx))
	require.NoError(t, store.InsertVertices(ctx, vertices))

	fromStore, res := runJob(t, Config{Store: store, Sources: sources})
	assert.Equal(t, fromFile.Graph.NumEdges(), res.NumEdges)
	if diff := cmp.Diff(parentsOf(fromFile.Graph), parentsOf(fromStore.Graph)); diff != "" {
		t.Errorf("parents (-file +store):\n%s", diff)
	}

	broken := database.VertexSourceFunc(func(context.Context) ([]database.Vertex, error) {
		return nil, errors.New("table gone")
	})
	_, err = Prepare(ctx, Config{Store: broken})
	assert.ErrorContains(t, err, "table gone")
}

func TestPowerlawRun(t *testing.T) {
	_, res := runJob(t, Config{Powerlaw: 1000, Seed: 1})
	assert.Equal(t, 1000, res.NumVertices)
	assert.Equal(t, []uint64{0}, res.Sources)
	assert.GreaterOrEqual(t, res.Reached, uint64(1))
}
