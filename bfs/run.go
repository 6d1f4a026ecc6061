package bfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"bagelbfs/bagel"
	"bagelbfs/comm"
	"bagelbfs/database"
	"bagelbfs/util"
)

const (
	powerlawAlpha    = 2.0
	powerlawTruncate = 100000000
)

var ErrNoInput = errors.New("bfs: need a graph path, a graph store or a powerlaw size")

type Config struct {
	Graph  string
	Format string `validate:"omitempty,oneof=tsv snap adj bintsv4"`

	// Store, when set and Graph is empty, supplies the graph instead of a
	// file.
	Store database.VertexSource `validate:"-"`

	Powerlaw uint64
	// Seed drives the synthetic generator.
	Seed int64

	Sources         []uint64
	MaxDegreeSource bool
	Directed        bool
	Mode            bagel.Mode `validate:"omitempty,oneof=synchronous asynchronous sync async"`

	Partitions        int `validate:"gte=0"`
	Workers           int `validate:"gte=0"`
	ExchangeThreshold int `validate:"gte=0"`

	SavePrefix string
	Gzip       bool

	// Control connects the processes of a distributed run. Nil runs on
	// one process.
	Control comm.Control `validate:"-"`
}

func (c *Config) Validate() error {
	if c.Graph == "" && c.Powerlaw == 0 && c.Store == nil {
		return ErrNoInput
	}
	return util.Validate(c)
}

type Result struct {
	NumVertices    int
	NumEdges       int
	Sources        []uint64
	Reached        uint64
	ElapsedSeconds float64
	// Iterations is the number of supersteps run; zero in asynchronous
	// mode.
	Iterations int64
	// SaveFile is the file this process wrote, if any.
	SaveFile string
}

// Job is a loaded graph with its engine, ready to run.
type Job struct {
	Graph   *bagel.Graph[VertexData]
	Engine  bagel.Engine[uint64]
	Sources []uint64

	cfg Config
}

// Prepare loads the graph, picks the sources and builds the engine. No
// distributed work happens until Run.
func Prepare(ctx context.Context, cfg Config) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Format == "" {
		cfg.Format = bagel.FormatAdj
	}

	g := bagel.NewGraph(NewVertexData)
	if cfg.Powerlaw > 0 {
		if err := bagel.LoadSyntheticPowerlaw(g, cfg.Powerlaw, false, powerlawAlpha, powerlawTruncate, cfg.Seed); err != nil {
			return nil, err
		}
	} else if cfg.Graph == "" {
		log.Info().Str("component", "bfs").Msg("Prepare: loading graph from store")
		if err := database.LoadVertices(ctx, g, cfg.Store); err != nil {
			return nil, err
		}
	} else {
		log.Info().Str("component", "bfs").Str("graph", cfg.Graph).Str("format", cfg.Format).Msg("Prepare: loading graph")
		if err := bagel.LoadFormat(g, cfg.Graph, cfg.Format); err != nil {
			return nil, err
		}
	}
	g.Finalize()
	log.Info().Str("component", "bfs").Int("#vertices", g.NumVertices()).Int("#edges", g.NumEdges()).
		Msg("Prepare: graph finalized")

	sources, err := ChooseSources(g, cfg.Sources, cfg.MaxDegreeSource)
	if err != nil {
		return nil, err
	}

	engine, err := bagel.NewEngine(g, NewAlgorithm(cfg.Directed), bagel.Config{
		Mode:              cfg.Mode,
		Partitions:        cfg.Partitions,
		Workers:           cfg.Workers,
		Control:           cfg.Control,
		ExchangeThreshold: cfg.ExchangeThreshold,
	})
	if err != nil {
		return nil, err
	}
	return &Job{Graph: g, Engine: engine, Sources: sources, cfg: cfg}, nil
}

// ChooseSources returns the traversal roots. With no ids and no max-degree
// request it picks vertex 0; the max-degree vertex is appended when asked
// for. Every root must exist.
func ChooseSources(g *bagel.Graph[VertexData], ids []uint64, maxDegree bool) ([]uint64, error) {
	sources := append([]uint64(nil), ids...)
	if len(sources) == 0 && !maxDegree {
		log.Info().Str("component", "bfs").Msg("ChooseSources: no source vertex provided, adding vertex 0")
		sources = append(sources, 0)
	}
	if maxDegree {
		rec, err := MaxDegreeVertex(g)
		if err != nil {
			return nil, err
		}
		log.Info().Str("component", "bfs").Uint64("vertex", rec.VertexID).Uint64("degree", rec.Degree).
			Msg("ChooseSources: using max degree vertex as source")
		sources = append(sources, rec.VertexID)
	}
	for _, id := range sources {
		if !g.HasVertex(id) {
			return nil, fmt.Errorf("source %d: %w", id, bagel.ErrVertexNotFound)
		}
	}
	return sources, nil
}

// Run seeds every source with its own id, runs the engine to quiescence
// and saves the parents when a prefix is set.
func (j *Job) Run(ctx context.Context) (Result, error) {
	res := Result{
		NumVertices: j.Graph.NumVertices(),
		NumEdges:    j.Graph.NumEdges(),
		Sources:     j.Sources,
	}
	for _, src := range j.Sources {
		if err := j.Engine.Signal(src, src); err != nil {
			return res, err
		}
	}
	if err := j.Engine.Start(ctx); err != nil {
		return res, err
	}
	res.ElapsedSeconds = j.Engine.ElapsedSeconds()
	res.Iterations = j.Engine.Status().Iterations

	reached, err := bagel.MapReduceVertices(j.Graph, func(v bagel.Vertex[VertexData]) uint64 {
		if v.Data().Reached() {
			return 1
		}
		return 0
	}, func(a, b uint64) uint64 { return a + b })
	if err != nil {
		return res, err
	}
	res.Reached = reached
	log.Info().Str("component", "bfs").Float64("elapsed", res.ElapsedSeconds).Uint64("reached", reached).
		Msg("Run: finished")

	if j.cfg.SavePrefix != "" {
		opts := bagel.SaveOptions{Gzip: j.cfg.Gzip, SaveVertices: true}
		if dc := j.cfg.Control; dc != nil {
			opts.Proc, opts.NumProcs = dc.ProcID(), dc.NumProcs()
		}
		name, err := bagel.Save(j.Graph, j.cfg.SavePrefix, ParentWriter{}, opts)
		if err != nil {
			return res, err
		}
		res.SaveFile = name
	}
	return res, nil
}

// Run prepares and runs a job.
func Run(ctx context.Context, cfg Config) (Result, error) {
	job, err := Prepare(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	return job.Run(ctx)
}
