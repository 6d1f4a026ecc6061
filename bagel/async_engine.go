package bagel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"bagelbfs/telemetry"
)

type vertexState uint8

const (
	stateIdle vertexState = iota
	statePending
	stateRunning
	// a signal arrived while the vertex was running
	stateRunningPending
)

// asyncEngine runs activations as soon as signals arrive, with no
// barriers. At most one activation of a vertex is in flight; signals that
// land during it are combined and run afterwards.
//
// Scatter guards read whatever neighbour data is current, so a vertex can
// be claimed through a longer path than the shortest one.
type asyncEngine[V, M any] struct {
	g       *Graph[V]
	alg     Algorithm[V, M]
	workers int

	mu          sync.Mutex
	cond        *sync.Cond
	state       []vertexState
	msgs        []M
	queue       []int
	outstanding int
	done        bool

	stats *runStats
	log   zerolog.Logger
}

func newAsyncEngine[V, M any](g *Graph[V], alg Algorithm[V, M], cfg Config) *asyncEngine[V, M] {
	n := g.NumVertices()
	e := &asyncEngine[V, M]{
		g:       g,
		alg:     alg,
		workers: cfg.Workers,
		state:   make([]vertexState, n),
		msgs:    make([]M, n),
		stats:   newRunStats(Asynchronous, 0, 1),
		log:     log.With().Str("component", "engine").Logger(),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *asyncEngine[V, M]) Signal(id uint64, msg M) error {
	idx, ok := e.g.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrVertexNotFound, id)
	}
	e.signal(idx, msg)
	return nil
}

func (e *asyncEngine[V, M]) signal(idx int, msg M) {
	e.stats.signals.Add(1)
	telemetry.Signals.WithLabelValues(string(Asynchronous)).Inc()

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state[idx] {
	case stateIdle:
		e.msgs[idx] = msg
		e.state[idx] = statePending
		e.queue = append(e.queue, idx)
		e.outstanding++
		e.cond.Signal()
	case stateRunning:
		e.msgs[idx] = msg
		e.state[idx] = stateRunningPending
	case statePending, stateRunningPending:
		e.msgs[idx] = e.alg.combine(e.msgs[idx], true, msg)
	}
}

// next blocks for a runnable vertex. ok is false once nothing is pending
// or running, or the run was cancelled.
func (e *asyncEngine[V, M]) next() (idx int, msg M, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 && e.outstanding > 0 && !e.done {
		e.cond.Wait()
	}
	if len(e.queue) == 0 || e.done {
		return 0, msg, false
	}
	idx = e.queue[0]
	e.queue = e.queue[1:]
	msg = e.msgs[idx]
	var zero M
	e.msgs[idx] = zero
	e.state[idx] = stateRunning
	return idx, msg, true
}

func (e *asyncEngine[V, M]) finish(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state[idx] == stateRunningPending {
		e.state[idx] = statePending
		e.queue = append(e.queue, idx)
		e.cond.Signal()
		return
	}
	e.state[idx] = stateIdle
	e.outstanding--
	if e.outstanding == 0 {
		e.cond.Broadcast()
	}
}

func (e *asyncEngine[V, M]) stop() {
	e.mu.Lock()
	e.done = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

type asyncContext[V, M any] struct {
	e *asyncEngine[V, M]
}

func (c asyncContext[V, M]) Signal(target uint64, msg M) {
	if idx, ok := c.e.g.index[target]; ok {
		c.e.signal(idx, msg)
	}
}

// Superstep is always zero; the asynchronous engine has no rounds.
func (c asyncContext[V, M]) Superstep() int { return 0 }
func (c asyncContext[V, M]) ProcID() int    { return 0 }

func (e *asyncEngine[V, M]) ElapsedSeconds() float64 { return e.stats.elapsed() }

func (e *asyncEngine[V, M]) Status() Status {
	s := e.stats.status()
	e.mu.Lock()
	s.ActiveVertices = uint64(e.outstanding)
	e.mu.Unlock()
	return s
}

func (e *asyncEngine[V, M]) Start(ctx context.Context) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "bagel.run")
	span.SetAttributes(
		attribute.String("run_id", e.stats.runID),
		attribute.String("mode", string(Asynchronous)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.mu.Lock()
	e.done = false
	e.mu.Unlock()

	e.stats.begin()
	defer e.stats.end()
	e.log.Info().Str("run_id", e.stats.runID).Int("workers", e.workers).
		Msg("Start: asynchronous engine running")

	g, gctx := errgroup.WithContext(ctx)
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			e.stop()
		case <-stopWatch:
		}
	}()
	defer close(stopWatch)

	c := asyncContext[V, M]{e: e}
	for w := 0; w < e.workers; w++ {
		g.Go(func() error {
			for {
				idx, msg, ok := e.next()
				if !ok {
					return nil
				}
				if err := e.activate(c, idx, msg); err != nil {
					return err
				}
				e.finish(idx)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.log.Info().Float64("elapsed", e.stats.elapsed()).Uint64("activations", e.stats.activations.Load()).
		Msg("Start: quiescent")
	return nil
}

func (e *asyncEngine[V, M]) activate(c asyncContext[V, M], idx int, msg M) error {
	v := Vertex[V]{g: e.g, idx: idx}
	prog := e.alg.New()
	prog.Init(c, v, msg)
	if dir := prog.GatherEdges(c, v); dir != NoEdges {
		return fmt.Errorf("%w: vertex %d asked for %s edges", ErrGatherNotAllowed, v.ID(), dir)
	}
	l := e.g.lock(idx)
	l.Lock()
	prog.Apply(c, v, &e.g.data[idx])
	l.Unlock()
	e.g.forEachEdge(idx, prog.ScatterEdges(c, v), func(edge Edge[V]) {
		prog.Scatter(c, v, edge)
	})
	e.stats.activations.Add(1)
	telemetry.Activations.WithLabelValues(string(Asynchronous)).Inc()
	return nil
}
