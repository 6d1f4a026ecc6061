package bagel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bagelbfs/comm"
)

// Engine runs a vertex program over a finalized graph until quiescence.
type Engine[M any] interface {
	// Signal schedules vertex id with msg. The synchronous engine takes
	// outside signals only before Start; the asynchronous one at any time.
	Signal(id uint64, msg M) error
	// Start runs until no vertex has a pending signal.
	Start(ctx context.Context) error
	ElapsedSeconds() float64
	Status() Status
}

type Status struct {
	RunID          string  `json:"run_id"`
	Mode           Mode    `json:"mode"`
	ProcID         int     `json:"proc_id"`
	NumProcs       int     `json:"num_procs"`
	Running        bool    `json:"running"`
	Superstep      int64   `json:"superstep"`
	// Iterations counts completed supersteps. The asynchronous engine
	// has no rounds and reports zero.
	Iterations     int64   `json:"iterations"`
	ActiveVertices uint64  `json:"active_vertices"`
	Signals        uint64  `json:"signals"`
	Activations    uint64  `json:"activations"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// NewEngine checks the graph and configuration and builds the engine for
// cfg.Mode.
func NewEngine[V, M any](g *Graph[V], alg Algorithm[V, M], cfg Config) (Engine[M], error) {
	if !g.IsFinalized() {
		return nil, ErrNotFinalized
	}
	if alg.New == nil {
		return nil, errors.New("bagel: algorithm has no vertex program")
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = cfg.Workers
	}
	dc := cfg.Control
	if dc == nil {
		dc = comm.NewLocalGroup(1)[0]
	}

	if mode == Asynchronous {
		if dc.NumProcs() > 1 {
			return nil, ErrAsyncDistributed
		}
		return newAsyncEngine(g, alg, cfg), nil
	}
	if dc.NumProcs() > 1 && (alg.MessageCodec == nil || alg.DataCodec == nil) {
		return nil, fmt.Errorf("bagel: distributed run needs message and data codecs")
	}
	return newSyncEngine(g, alg, cfg, dc), nil
}

type runStats struct {
	runID  string
	mode   Mode
	proc   int
	nprocs int

	running     atomic.Bool
	superstep   atomic.Int64
	iterations  atomic.Int64
	active      atomic.Uint64
	signals     atomic.Uint64
	activations atomic.Uint64
	started     atomic.Int64
	finished    atomic.Int64
}

func newRunStats(mode Mode, proc, nprocs int) *runStats {
	return &runStats{runID: uuid.NewString(), mode: mode, proc: proc, nprocs: nprocs}
}

func (s *runStats) begin() {
	s.started.Store(time.Now().UnixNano())
	s.finished.Store(0)
	s.running.Store(true)
}

func (s *runStats) end() {
	s.finished.Store(time.Now().UnixNano())
	s.running.Store(false)
}

func (s *runStats) elapsed() float64 {
	start := s.started.Load()
	if start == 0 {
		return 0
	}
	end := s.finished.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	return time.Duration(end - start).Seconds()
}

func (s *runStats) status() Status {
	return Status{
		RunID:          s.runID,
		Mode:           s.mode,
		ProcID:         s.proc,
		NumProcs:       s.nprocs,
		Running:        s.running.Load(),
		Superstep:      s.superstep.Load(),
		Iterations:     s.iterations.Load(),
		ActiveVertices: s.active.Load(),
		Signals:        s.signals.Load(),
		Activations:    s.activations.Load(),
		ElapsedSeconds: s.elapsed(),
	}
}
