package bagel

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, edges [][2]uint64) *Graph[int64] {
	t.Helper()
	g := NewGraph(func(uint64) int64 { return -1 })
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	g.Finalize()
	return g
}

func TestFinalizeSortsAndIndexes(t *testing.T) {
	g := newTestGraph(t, [][2]uint64{{5, 1}, {1, 3}, {3, 5}, {5, 3}, {7, 7}})

	var ids []uint64
	for i := 0; i < g.NumVertices(); i++ {
		ids = append(ids, g.VertexAt(i).ID())
	}
	if diff := cmp.Diff([]uint64{1, 3, 5, 7}, ids); diff != "" {
		t.Errorf("vertex order (-want +got):\n%s", diff)
	}
	// the self edge on 7 is dropped but the vertex stays
	assert.Equal(t, 4, g.NumEdges())

	v, err := g.Vertex(5)
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumOutEdges())
	assert.Equal(t, 1, v.NumInEdges())
	assert.EqualValues(t, -1, v.Data())

	_, err = g.Vertex(2)
	assert.ErrorIs(t, err, ErrVertexNotFound)

	assert.ErrorIs(t, g.AddEdge(1, 2), ErrFinalized)
	assert.ErrorIs(t, g.AddVertex(9), ErrFinalized)
}

func TestForEachEdgeDirections(t *testing.T) {
	g := newTestGraph(t, [][2]uint64{{0, 1}, {2, 1}, {1, 3}})
	v, err := g.Vertex(1)
	require.NoError(t, err)

	collect := func(dir EdgeDir) [][2]uint64 {
		var got [][2]uint64
		g.forEachEdge(v.idx, dir, func(e Edge[int64]) {
			got = append(got, [2]uint64{e.Source().ID(), e.Target().ID()})
		})
		return got
	}
	assert.Empty(t, collect(NoEdges))
	assert.ElementsMatch(t, [][2]uint64{{0, 1}, {2, 1}}, collect(InEdges))
	assert.Equal(t, [][2]uint64{{1, 3}}, collect(OutEdges))
	assert.Len(t, collect(AllEdges), 3)
}

func TestPartitionCoversEveryVertexOnce(t *testing.T) {
	g := NewGraph(func(uint64) int64 { return 0 })
	for id := uint64(0); id < 200; id++ {
		require.NoError(t, g.AddVertex(id))
	}
	g.Finalize()

	seen := make(map[int]int)
	for proc := 0; proc < 3; proc++ {
		for _, idx := range g.Partition(proc, 3) {
			seen[idx]++
			assert.Equal(t, proc, Owner(g.VertexAt(idx).ID(), 3))
		}
	}
	assert.Len(t, seen, 200)
	for idx, n := range seen {
		assert.Equal(t, 1, n, "index %d", idx)
	}
}

func TestMapReduceVertices(t *testing.T) {
	g := newTestGraph(t, [][2]uint64{{0, 1}, {0, 2}, {0, 3}, {4, 0}})
	degree := func(v Vertex[int64]) [2]uint64 {
		return [2]uint64{v.ID(), uint64(v.NumInEdges() + v.NumOutEdges())}
	}
	maxDeg := func(a, b [2]uint64) [2]uint64 {
		if b[1] > a[1] {
			return b
		}
		return a
	}
	got, err := MapReduceVertices(g, degree, maxDeg)
	require.NoError(t, err)
	assert.Equal(t, [2]uint64{0, 4}, got)

	// leaves tie on degree 1; the fold keeps the smallest id
	leaves := newTestGraph(t, [][2]uint64{{3, 4}, {1, 2}, {5, 6}})
	got, err = MapReduceVertices(leaves, degree, maxDeg)
	require.NoError(t, err)
	assert.Equal(t, [2]uint64{1, 1}, got)
}

func TestMapReduceVerticesErrors(t *testing.T) {
	g := NewGraph(func(uint64) int64 { return 0 })
	count := func(Vertex[int64]) int { return 1 }
	sum := func(a, b int) int { return a + b }

	_, err := MapReduceVertices(g, count, sum)
	assert.ErrorIs(t, err, ErrNotFinalized)

	g.Finalize()
	_, err = MapReduceVertices(g, count, sum)
	assert.ErrorIs(t, err, ErrEmptyGraph)
}

func binTSV4(edges ...[2]uint32) string {
	var b []byte
	for _, e := range edges {
		b = binary.LittleEndian.AppendUint32(b, e[0])
		b = binary.LittleEndian.AppendUint32(b, e[1])
	}
	return string(b)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		input  string
		edges  int
		verts  int
	}{
		{"tsv", FormatTSV, "0\t1\n1\t2\n", 2, 3},
		{"snap with comments", FormatSNAP, "# Directed graph\n# Nodes: 3\n0 1\n\n2 0\n", 2, 3},
		{"adj", FormatAdj, "0 2 1 2\n1 0\n3 1 0\n", 3, 4},
		{"bintsv4", FormatBinTSV4, binTSV4([2]uint32{0, 1}, [2]uint32{1, 2}, [2]uint32{4000000000, 0}), 3, 4},
		{"empty bintsv4", FormatBinTSV4, "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph(func(uint64) int64 { return 0 })
			require.NoError(t, Load(g, strings.NewReader(tt.input), tt.format))
			g.Finalize()
			assert.Equal(t, tt.edges, g.NumEdges())
			assert.Equal(t, tt.verts, g.NumVertices())
		})
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	g := NewGraph(func(uint64) int64 { return 0 })
	assert.ErrorIs(t, Load(g, strings.NewReader("0 1\n"), "metis"), ErrUnknownFormat)
	assert.Error(t, Load(g, strings.NewReader("0\n"), FormatTSV))
	assert.Error(t, Load(g, strings.NewReader("0 x\n"), FormatTSV))
	assert.Error(t, Load(g, strings.NewReader("0 3 1 2\n"), FormatAdj))
	assert.Error(t, Load(g, strings.NewReader(binTSV4([2]uint32{0, 1})+"\x02\x00"), FormatBinTSV4))
}

func TestLoadFormatDirectoryAndGzip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0"), []byte("0 1\n"), 0644))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("1 2\n2 3\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-1.gz"), buf.Bytes(), 0644))

	g := NewGraph(func(uint64) int64 { return 0 })
	require.NoError(t, LoadFormat(g, dir, FormatTSV))
	g.Finalize()
	assert.Equal(t, 3, g.NumEdges())
	assert.Equal(t, 4, g.NumVertices())

	assert.Error(t, LoadFormat(g, filepath.Join(dir, "missing"), FormatTSV))
}

func TestLoadSyntheticPowerlaw(t *testing.T) {
	build := func(seed int64) *Graph[int64] {
		g := NewGraph(func(uint64) int64 { return 0 })
		require.NoError(t, LoadSyntheticPowerlaw(g, 500, false, 2.0, 100000000, seed))
		g.Finalize()
		return g
	}
	a, b := build(7), build(7)
	assert.Equal(t, 500, a.NumVertices())
	assert.Equal(t, a.NumEdges(), b.NumEdges())
	assert.Greater(t, a.NumEdges(), 0)

	capped := NewGraph(func(uint64) int64 { return 0 })
	require.NoError(t, LoadSyntheticPowerlaw(capped, 2000, false, 2.0, 5, 3))
	capped.Finalize()
	for i := 0; i < capped.NumVertices(); i++ {
		d := capped.VertexAt(i).NumOutEdges()
		require.True(t, d >= 1 && d <= 5, "vertex %d has out-degree %d", capped.VertexAt(i).ID(), d)
	}

	single := NewGraph(func(uint64) int64 { return 0 })
	require.NoError(t, LoadSyntheticPowerlaw(single, 1, false, 2.0, 5, 3))
	single.Finalize()
	assert.Equal(t, 1, single.NumVertices())
	assert.Equal(t, 0, single.NumEdges())

	g := NewGraph(func(uint64) int64 { return 0 })
	assert.Error(t, LoadSyntheticPowerlaw(g, 10, false, 1.0, 10, 1))
}

type levelWriter struct{}

func (levelWriter) SaveVertex(v Vertex[int64]) string {
	return strconv.FormatUint(v.ID(), 10) + "\t" + strconv.FormatInt(v.Data(), 10) + "\n"
}

func (levelWriter) SaveEdge(e Edge[int64]) string {
	return strconv.FormatUint(e.Source().ID(), 10) + " " + strconv.FormatUint(e.Target().ID(), 10) + "\n"
}

func TestSaveWritesOwnedSlice(t *testing.T) {
	g := newTestGraph(t, [][2]uint64{{0, 1}, {1, 2}, {2, 3}, {3, 0}})
	prefix := filepath.Join(t.TempDir(), "out")

	total := 0
	for proc := 0; proc < 2; proc++ {
		name, err := Save[int64](g, prefix, levelWriter{}, SaveOptions{
			SaveVertices: true, SaveEdges: true, Gzip: proc == 1, Proc: proc, NumProcs: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, SaveFileName(prefix, proc, 2, proc == 1), name)

		f, err := os.Open(name)
		require.NoError(t, err)
		var data []byte
		if proc == 1 {
			zr, err := gzip.NewReader(f)
			require.NoError(t, err)
			data, err = io.ReadAll(zr)
			require.NoError(t, err)
		} else {
			data, err = io.ReadAll(f)
			require.NoError(t, err)
		}
		f.Close()
		total += strings.Count(string(data), "\n")
	}
	// four vertex lines and four edge lines across both files
	assert.Equal(t, 8, total)
	assert.True(t, strings.HasSuffix(SaveFileName("p", 1, 2, true), "p_2_of_2.gz"))
}
