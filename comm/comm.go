// Package comm is the distributed control layer: process identity,
// barriers, all-gathers and point-to-point delivery of opaque payloads on
// named channels.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"bagelbfs/wire"
)

var (
	ErrPeerFailed = errors.New("comm: peer failed")
	ErrNoHandler  = errors.New("comm: no handler for channel")
	ErrClosed     = errors.New("comm: control closed")
	ErrBadProc    = errors.New("comm: process id out of range")
)

// Handler consumes a payload sent by process from. The payload is owned by
// the handler. An error is returned to the sender.
type Handler func(from int, payload []byte) error

type Stats struct {
	BytesSent uint64
	CallsSent uint64
}

// Control is one process's handle on a group of cooperating processes.
// Collective calls (Barrier, AllGather, AllReduceSum) must be made by every
// process in the same order.
type Control interface {
	ProcID() int
	NumProcs() int
	Barrier(ctx context.Context) error
	AllGather(ctx context.Context, payload []byte) ([][]byte, error)
	AllReduceSum(ctx context.Context, v uint64) (uint64, error)
	Send(ctx context.Context, proc int, channel string, payload []byte) error
	Handle(channel string, h Handler)
	Stats() Stats
	Close() error
}

type handlerTable struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (t *handlerTable) set(channel string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers == nil {
		t.handlers = make(map[string]Handler)
	}
	t.handlers[channel] = h
}

func (t *handlerTable) dispatch(channel string, from int, payload []byte) error {
	t.mu.RLock()
	h, ok := t.handlers[channel]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrNoHandler, channel)
	}
	return h(from, payload)
}

type counters struct {
	bytes atomic.Uint64
	calls atomic.Uint64
}

func (c *counters) add(n int) {
	c.bytes.Add(uint64(n))
	c.calls.Add(1)
}

func (c *counters) snapshot() Stats {
	return Stats{BytesSent: c.bytes.Load(), CallsSent: c.calls.Load()}
}

func allReduceSum(ctx context.Context, gather func(context.Context, []byte) ([][]byte, error), v uint64) (uint64, error) {
	parts, err := gather(ctx, wire.Uint64{}.Append(nil, v))
	if err != nil {
		return 0, err
	}
	var sum uint64
	for proc, b := range parts {
		x, _, err := wire.Uint64{}.Consume(b)
		if err != nil {
			return 0, fmt.Errorf("all-reduce from proc %d: %w", proc, err)
		}
		sum += x
	}
	return sum, nil
}
