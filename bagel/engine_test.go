package bagel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"bagelbfs/comm"
	"bagelbfs/wire"
)

// levelProgram labels each vertex with its hop count from the nearest
// seed, following out-edges.
type levelProgram struct {
	level int64
}

func (p *levelProgram) Init(c Context[int64], v Vertex[int64], msg int64) { p.level = msg }

func (p *levelProgram) GatherEdges(Context[int64], Vertex[int64]) EdgeDir { return NoEdges }

func (p *levelProgram) Apply(c Context[int64], v Vertex[int64], data *int64) { *data = p.level }

func (p *levelProgram) ScatterEdges(Context[int64], Vertex[int64]) EdgeDir { return OutEdges }

func (p *levelProgram) Scatter(c Context[int64], v Vertex[int64], e Edge[int64]) {
	if e.Target().Data() == -1 {
		c.Signal(e.Target().ID(), p.level+1)
	}
}

func levelAlgorithm() Algorithm[int64, int64] {
	return Algorithm[int64, int64]{
		New: func() VertexProgram[int64, int64] { return &levelProgram{} },
		Combine: func(a, b int64) int64 {
			if b < a {
				return b
			}
			return a
		},
		MessageCodec: wire.Int64{},
		DataCodec:    wire.Int64{},
	}
}

// chain 0->1->2->3, shortcut 0->3, island 9->8
var levelEdges = [][2]uint64{{0, 1}, {1, 2}, {2, 3}, {0, 3}, {9, 8}}

var wantLevels = map[uint64]int64{0: 0, 1: 1, 2: 2, 3: 1, 8: -1, 9: -1}

func levels(g *Graph[int64]) map[uint64]int64 {
	got := make(map[uint64]int64)
	for i := 0; i < g.NumVertices(); i++ {
		v := g.VertexAt(i)
		got[v.ID()] = v.Data()
	}
	return got
}

func TestSynchronousEngineLevels(t *testing.T) {
	g := newTestGraph(t, levelEdges)
	e, err := NewEngine(g, levelAlgorithm(), Config{Mode: Synchronous, Partitions: 3, Workers: 2})
	require.NoError(t, err)
	require.NoError(t, e.Signal(0, 0))
	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, wantLevels, levels(g))
	st := e.Status()
	// 0, then 1 and 3, then 2
	assert.EqualValues(t, 4, st.Activations)
	assert.EqualValues(t, 2, st.Superstep)
	assert.EqualValues(t, 3, st.Iterations)
	assert.False(t, st.Running)
	assert.NotEmpty(t, st.RunID)
	assert.GreaterOrEqual(t, e.ElapsedSeconds(), 0.0)
}

func TestAsynchronousEngineReachesSameSet(t *testing.T) {
	g := newTestGraph(t, levelEdges)
	e, err := NewEngine(g, levelAlgorithm(), Config{Mode: Asynchronous, Workers: 4})
	require.NoError(t, err)
	require.NoError(t, e.Signal(0, 0))
	require.NoError(t, e.Start(context.Background()))

	got := levels(g)
	assert.EqualValues(t, 0, got[0])
	for _, id := range []uint64{1, 2, 3} {
		assert.GreaterOrEqual(t, got[id], int64(1), "vertex %d", id)
	}
	assert.EqualValues(t, -1, got[8])
	assert.EqualValues(t, -1, got[9])
	assert.Zero(t, e.Status().Iterations)
}

func TestEngineWithNoSignalsIsQuiescent(t *testing.T) {
	for _, mode := range []Mode{Synchronous, Asynchronous} {
		g := newTestGraph(t, levelEdges)
		e, err := NewEngine(g, levelAlgorithm(), Config{Mode: mode})
		require.NoError(t, err)
		require.NoError(t, e.Start(context.Background()))
		assert.EqualValues(t, 0, e.Status().Activations, "mode %s", mode)
		assert.EqualValues(t, 0, e.Status().Iterations, "mode %s", mode)
	}
}

func TestNewEngineChecks(t *testing.T) {
	g := NewGraph(func(uint64) int64 { return -1 })
	require.NoError(t, g.AddEdge(0, 1))
	_, err := NewEngine(g, levelAlgorithm(), Config{})
	assert.ErrorIs(t, err, ErrNotFinalized)

	g.Finalize()
	_, err = NewEngine(g, levelAlgorithm(), Config{Mode: "eventual"})
	assert.Error(t, err)

	_, err = NewEngine(g, levelAlgorithm(), Config{Mode: Asynchronous, Control: comm.NewLocalGroup(2)[0]})
	assert.ErrorIs(t, err, ErrAsyncDistributed)

	e, err := NewEngine(g, levelAlgorithm(), Config{})
	require.NoError(t, err)
	assert.ErrorIs(t, e.Signal(42, 0), ErrVertexNotFound)
}

type gatherProgram struct{ levelProgram }

func (gatherProgram) GatherEdges(Context[int64], Vertex[int64]) EdgeDir { return InEdges }

func TestEngineRejectsGather(t *testing.T) {
	g := newTestGraph(t, levelEdges)
	alg := levelAlgorithm()
	alg.New = func() VertexProgram[int64, int64] { return &gatherProgram{} }
	e, err := NewEngine(g, alg, Config{})
	require.NoError(t, err)
	require.NoError(t, e.Signal(0, 0))
	assert.ErrorIs(t, e.Start(context.Background()), ErrGatherNotAllowed)
}

func TestDistributedSynchronousMatchesSingleProcess(t *testing.T) {
	const procs = 3
	ctls := comm.NewLocalGroup(procs)
	graphs := make([]*Graph[int64], procs)
	engines := make([]Engine[int64], procs)
	for p := range ctls {
		graphs[p] = newTestGraph(t, levelEdges)
		e, err := NewEngine(graphs[p], levelAlgorithm(), Config{
			Mode: Synchronous, Control: ctls[p], Partitions: 2, ExchangeThreshold: 1,
		})
		require.NoError(t, err)
		// every process gets the same seeds; non-owners drop them
		require.NoError(t, e.Signal(0, 0))
		engines[p] = e
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		g.Go(func() error { return e.Start(ctx) })
	}
	require.NoError(t, g.Wait())

	// replicas agree everywhere
	for p := range graphs {
		assert.Equal(t, wantLevels, levels(graphs[p]), "proc %d", p)
	}
	var activations uint64
	for _, e := range engines {
		activations += e.Status().Activations
	}
	assert.EqualValues(t, 4, activations)
}

func TestStatusRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newTestGraph(t, levelEdges)
	e, err := NewEngine(g, levelAlgorithm(), Config{})
	require.NoError(t, err)
	router := NewStatusRouter(e, RenderVertex[int64](g, levelWriter{}))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/api/status")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"synchronous"`)

	w = get("/api/vertex/3")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"record":"3\t-1\n"`)

	assert.Equal(t, http.StatusNotFound, get("/api/vertex/77").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/vertex/abc").Code)
	assert.Equal(t, http.StatusOK, get("/metrics").Code)
}

func TestStatusServerServesAPI(t *testing.T) {
	g := newTestGraph(t, levelEdges)
	e, err := NewEngine(g, levelAlgorithm(), Config{})
	require.NoError(t, err)
	srv, err := StartStatusServer("127.0.0.1:0", e, nil, 4)
	require.NoError(t, err)
	defer srv.Close(context.Background())

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	srv.SetServing(false)
}
