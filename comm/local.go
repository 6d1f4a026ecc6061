package comm

import (
	"context"
	"fmt"
)

// localControl is one member of an in-process group. Sends call the
// target's handler directly on the sender's goroutine.
type localControl struct {
	id      int
	members []*localControl
	coll    *collector
	gen     uint64

	handlers handlerTable
	stats    counters
}

// NewLocalGroup returns n controls sharing one address space. It is used
// for single-process runs and tests.
func NewLocalGroup(n int) []Control {
	coll := newCollector(n)
	members := make([]*localControl, n)
	for i := range members {
		members[i] = &localControl{id: i, members: members, coll: coll}
	}
	out := make([]Control, n)
	for i, m := range members {
		out[i] = m
	}
	return out
}

func (c *localControl) ProcID() int   { return c.id }
func (c *localControl) NumProcs() int { return len(c.members) }

func (c *localControl) Barrier(ctx context.Context) error {
	_, err := c.AllGather(ctx, nil)
	return err
}

// AllGather must not be called concurrently on the same control.
func (c *localControl) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	gen := c.gen
	c.gen++
	return c.coll.collect(ctx, gen, c.id, payload)
}

func (c *localControl) AllReduceSum(ctx context.Context, v uint64) (uint64, error) {
	return allReduceSum(ctx, c.AllGather, v)
}

func (c *localControl) Send(ctx context.Context, proc int, channel string, payload []byte) error {
	if proc < 0 || proc >= len(c.members) {
		return fmt.Errorf("%w: %d", ErrBadProc, proc)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.coll.failure(); err != nil {
		return err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.stats.add(len(payload))
	return c.members[proc].handlers.dispatch(channel, c.id, cp)
}

func (c *localControl) Handle(channel string, h Handler) { c.handlers.set(channel, h) }

func (c *localControl) Stats() Stats { return c.stats.snapshot() }

// Close fails the group so that peers blocked in a collective return.
func (c *localControl) Close() error {
	c.coll.fail(fmt.Errorf("%w: proc %d closed", ErrClosed, c.id))
	return nil
}
