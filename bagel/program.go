package bagel

import (
	"fmt"

	"bagelbfs/comm"
	"bagelbfs/wire"
)

// Context is handed to every vertex program call.
type Context[M any] interface {
	// Signal schedules target with msg. Signals to the same vertex in one
	// superstep are merged with the algorithm's Combine.
	Signal(target uint64, msg M)
	Superstep() int
	ProcID() int
}

// VertexProgram runs once per activation of a vertex. A fresh program is
// made for every activation so fields carry state from Init to Scatter.
//
// Apply gets the vertex data by pointer and must not call v.Data.
type VertexProgram[V, M any] interface {
	Init(c Context[M], v Vertex[V], msg M)
	GatherEdges(c Context[M], v Vertex[V]) EdgeDir
	Apply(c Context[M], v Vertex[V], data *V)
	ScatterEdges(c Context[M], v Vertex[V]) EdgeDir
	Scatter(c Context[M], v Vertex[V], e Edge[V])
}

// Algorithm bundles a vertex program with what the engine needs to move
// its messages and data between processes.
type Algorithm[V, M any] struct {
	New          func() VertexProgram[V, M]
	Combine      func(a, b M) M
	MessageCodec wire.Codec[M]
	DataCodec    wire.Codec[V]
}

func (a Algorithm[V, M]) combine(old M, hadOld bool, msg M) M {
	if !hadOld {
		return msg
	}
	if a.Combine == nil {
		return old
	}
	return a.Combine(old, msg)
}

type Mode string

const (
	Synchronous  Mode = "synchronous"
	Asynchronous Mode = "asynchronous"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Synchronous, "sync", "":
		return Synchronous, nil
	case Asynchronous, "async":
		return Asynchronous, nil
	}
	return "", fmt.Errorf("bagel: unknown engine %q (want synchronous or asynchronous)", s)
}

type Config struct {
	Mode Mode
	// Partitions splits each process's vertices for the synchronous
	// engine. Zero means one per worker.
	Partitions int
	// Workers bounds the goroutines running vertex programs. Zero means
	// GOMAXPROCS.
	Workers int
	// Control connects the processes of a distributed run. Nil means a
	// single process.
	Control comm.Control
	// ExchangeThreshold is the flush threshold for remote signals.
	ExchangeThreshold int
}
