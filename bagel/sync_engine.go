package bagel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bagelbfs/comm"
	"bagelbfs/telemetry"
	"bagelbfs/util"
	"bagelbfs/warp"
	"bagelbfs/wire"
)

const signalChannel = "bagel.signal"

// msgBuffer holds at most one combined message per vertex.
type msgBuffer[M any] struct {
	msgs  []M
	has   []bool
	locks [lockStripes]sync.Mutex
}

func newMsgBuffer[M any](n int) *msgBuffer[M] {
	return &msgBuffer[M]{msgs: make([]M, n), has: make([]bool, n)}
}

func (b *msgBuffer[M]) put(idx int, msg M, combine func(old M, hadOld bool, msg M) M) {
	l := &b.locks[idx%lockStripes]
	l.Lock()
	b.msgs[idx] = combine(b.msgs[idx], b.has[idx], msg)
	b.has[idx] = true
	l.Unlock()
}

func (b *msgBuffer[M]) take(idx int) M {
	l := &b.locks[idx%lockStripes]
	l.Lock()
	defer l.Unlock()
	var zero M
	m := b.msgs[idx]
	b.msgs[idx] = zero
	b.has[idx] = false
	return m
}

// syncEngine runs bulk synchronous supersteps. Every process holds the
// whole topology and a replica of all vertex data, but only activates the
// vertices it owns. A superstep is:
//
//	init+apply on active owned vertices, replicate changed data, barrier
//	scatter, ship remote signals, barrier
//
// and the run ends when the all-reduced count of pending messages is zero.
type syncEngine[V, M any] struct {
	g       *Graph[V]
	alg     Algorithm[V, M]
	dc      comm.Control
	workers int

	owner []int   // nil in a single-process run
	parts [][]int // owned vertex indices per partition

	cur, next *msgBuffer[M]
	exchange  *warp.Exchange[envelope[M]]

	stats *runStats
	log   zerolog.Logger
}

func newSyncEngine[V, M any](g *Graph[V], alg Algorithm[V, M], cfg Config, dc comm.Control) *syncEngine[V, M] {
	n := g.NumVertices()
	e := &syncEngine[V, M]{
		g:       g,
		alg:     alg,
		dc:      dc,
		workers: cfg.Workers,
		parts:   make([][]int, cfg.Partitions),
		cur:     newMsgBuffer[M](n),
		next:    newMsgBuffer[M](n),
		stats:   newRunStats(Synchronous, dc.ProcID(), dc.NumProcs()),
		log:     log.With().Str("component", "engine").Int("proc", dc.ProcID()).Logger(),
	}

	nprocs := dc.NumProcs()
	if nprocs > 1 {
		e.owner = make([]int, n)
		threshold := cfg.ExchangeThreshold
		if threshold == 0 {
			threshold = warp.DefaultFlushThreshold
		}
		e.exchange = warp.NewExchange[envelope[M]](dc, signalChannel,
			envelopeCodec[M]{msg: alg.MessageCodec}, warp.WithFlushThreshold(threshold))
	}
	for idx, id := range g.ids {
		if e.owner != nil {
			e.owner[idx] = util.Bucket(id, nprocs)
			if e.owner[idx] != dc.ProcID() {
				continue
			}
		}
		p := util.Bucket(id, cfg.Partitions)
		e.parts[p] = append(e.parts[p], idx)
	}
	return e
}

func (e *syncEngine[V, M]) owns(idx int) bool {
	return e.owner == nil || e.owner[idx] == e.dc.ProcID()
}

// Signal before Start ignores vertices owned by other processes, so every
// process may be seeded with the same list.
func (e *syncEngine[V, M]) Signal(id uint64, msg M) error {
	idx, ok := e.g.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrVertexNotFound, id)
	}
	if !e.owns(idx) {
		return nil
	}
	e.stats.signals.Add(1)
	e.cur.put(idx, msg, e.alg.combine)
	return nil
}

func (e *syncEngine[V, M]) ElapsedSeconds() float64 { return e.stats.elapsed() }

func (e *syncEngine[V, M]) Status() Status { return e.stats.status() }

func (e *syncEngine[V, M]) Start(ctx context.Context) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "bagel.run")
	span.SetAttributes(
		attribute.String("run_id", e.stats.runID),
		attribute.String("mode", string(Synchronous)),
		attribute.Int("proc", e.dc.ProcID()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	e.stats.begin()
	defer e.stats.end()
	e.log.Info().Str("run_id", e.stats.runID).Int("vertices", e.g.NumVertices()).
		Int("partitions", len(e.parts)).Msg("Start: synchronous engine running")

	for step := 0; ; step++ {
		active, count := e.activeVertices()
		total, err := e.dc.AllReduceSum(ctx, uint64(count))
		if err != nil {
			return fmt.Errorf("superstep %d: %w", step, err)
		}
		if total == 0 {
			e.log.Info().Int("supersteps", step).Float64("elapsed", e.stats.elapsed()).
				Uint64("signals", e.stats.signals.Load()).Msg("Start: quiescent")
			return nil
		}

		e.stats.superstep.Store(int64(step))
		e.stats.active.Store(total)
		telemetry.ActiveVertices.Set(float64(total))
		began := time.Now()

		if err := e.superstep(ctx, step, active, count); err != nil {
			return fmt.Errorf("superstep %d: %w", step, err)
		}

		e.stats.iterations.Store(int64(step + 1))
		telemetry.Supersteps.WithLabelValues(string(Synchronous)).Inc()
		telemetry.StepDuration.WithLabelValues(string(Synchronous)).Observe(time.Since(began).Seconds())
		e.log.Debug().Int("superstep", step).Uint64("active", total).
			Dur("took", time.Since(began)).Msg("superstep done")
	}
}

func (e *syncEngine[V, M]) activeVertices() ([][]int, int) {
	active := make([][]int, len(e.parts))
	count := 0
	for p, part := range e.parts {
		for _, idx := range part {
			if e.cur.has[idx] {
				active[p] = append(active[p], idx)
			}
		}
		count += len(active[p])
	}
	return active, count
}

type syncContext[V, M any] struct {
	ctx  context.Context
	e    *syncEngine[V, M]
	step int

	errOnce sync.Once
	err     error
}

func (c *syncContext[V, M]) Superstep() int { return c.step }
func (c *syncContext[V, M]) ProcID() int    { return c.e.dc.ProcID() }

func (c *syncContext[V, M]) Signal(target uint64, msg M) {
	e := c.e
	idx, ok := e.g.index[target]
	if !ok {
		c.setErr(fmt.Errorf("%w: %d", ErrVertexNotFound, target))
		return
	}
	e.stats.signals.Add(1)
	if e.owns(idx) {
		e.next.put(idx, msg, e.alg.combine)
		return
	}
	if err := e.exchange.Send(c.ctx, e.owner[idx], envelope[M]{Target: target, Msg: msg}); err != nil {
		c.setErr(err)
	}
}

func (c *syncContext[V, M]) setErr(err error) {
	c.errOnce.Do(func() { c.err = err })
}

func (e *syncEngine[V, M]) superstep(ctx context.Context, step int, active [][]int, count int) error {
	ctx, span := telemetry.Tracer().Start(ctx, "bagel.superstep")
	span.SetAttributes(attribute.Int("superstep", step), attribute.Int("active", count))
	defer span.End()

	c := &syncContext[V, M]{ctx: ctx, e: e, step: step}
	signalsBefore := e.stats.signals.Load()
	progs := make([][]VertexProgram[V, M], len(active))

	err := warp.ParFor(ctx, e.dc, len(active), func(ctx context.Context, p int) error {
		progs[p] = make([]VertexProgram[V, M], len(active[p]))
		for k, idx := range active[p] {
			v := Vertex[V]{g: e.g, idx: idx}
			prog := e.alg.New()
			prog.Init(c, v, e.cur.take(idx))
			if dir := prog.GatherEdges(c, v); dir != NoEdges {
				return fmt.Errorf("%w: vertex %d asked for %s edges", ErrGatherNotAllowed, v.ID(), dir)
			}
			l := e.g.lock(idx)
			l.Lock()
			prog.Apply(c, v, &e.g.data[idx])
			l.Unlock()
			progs[p][k] = prog
		}
		return nil
	}, warp.WithFibers(e.workers))
	if err != nil {
		return err
	}
	e.stats.activations.Add(uint64(count))
	telemetry.Activations.WithLabelValues(string(Synchronous)).Add(float64(count))

	if e.owner != nil {
		if err := e.replicate(ctx, active); err != nil {
			return err
		}
	}

	err = warp.ParFor(ctx, e.dc, len(active), func(ctx context.Context, p int) error {
		for k, idx := range active[p] {
			v := Vertex[V]{g: e.g, idx: idx}
			prog := progs[p][k]
			e.g.forEachEdge(idx, prog.ScatterEdges(c, v), func(edge Edge[V]) {
				prog.Scatter(c, v, edge)
			})
		}
		return nil
	}, warp.WithFibers(e.workers))
	if err != nil {
		return err
	}
	if c.err != nil {
		return c.err
	}

	if e.exchange != nil {
		if err := e.exchange.Flush(ctx); err != nil {
			return err
		}
		if err := e.dc.Barrier(ctx); err != nil {
			return err
		}
		batches, err := e.exchange.RecvAll()
		if err != nil {
			return err
		}
		for _, b := range batches {
			for _, env := range b.Values {
				idx, ok := e.g.index[env.Target]
				if !ok {
					return fmt.Errorf("%w: %d from proc %d", ErrVertexNotFound, env.Target, b.From)
				}
				e.next.put(idx, env.Msg, e.alg.combine)
			}
		}
	}

	telemetry.Signals.WithLabelValues(string(Synchronous)).Add(float64(e.stats.signals.Load() - signalsBefore))
	e.cur, e.next = e.next, e.cur
	return nil
}

// replicate sends the data of every vertex applied this superstep to all
// other processes and installs theirs.
func (e *syncEngine[V, M]) replicate(ctx context.Context, active [][]int) error {
	codec := vertexRecordCodec[V]{data: e.alg.DataCodec}
	var records []vertexRecord[V]
	for _, part := range active {
		for _, idx := range part {
			records = append(records, vertexRecord[V]{ID: e.g.ids[idx], Data: e.g.data[idx]})
		}
	}
	parts, err := e.dc.AllGather(ctx, wire.EncodeBatch[vertexRecord[V]](codec, records))
	if err != nil {
		return err
	}
	for proc, payload := range parts {
		if proc == e.dc.ProcID() {
			continue
		}
		recs, err := wire.DecodeBatch[vertexRecord[V]](codec, payload)
		if err != nil {
			return fmt.Errorf("replicas from proc %d: %w", proc, err)
		}
		for _, r := range recs {
			idx, ok := e.g.index[r.ID]
			if !ok {
				return fmt.Errorf("%w: %d from proc %d", ErrVertexNotFound, r.ID, proc)
			}
			e.g.setData(idx, r.Data)
		}
	}
	return nil
}
