package comm

import (
	"context"
	"sync"
)

// collector gathers one payload from each of n processes per generation
// and releases everyone once the last one arrives.
type collector struct {
	n int

	mu     sync.Mutex
	rounds map[uint64]*round
	err    error
	failCh chan struct{}
}

type round struct {
	payloads [][]byte
	seen     []bool
	arrived  int
	departed int
	done     chan struct{}
}

func newCollector(n int) *collector {
	return &collector{
		n:      n,
		rounds: make(map[uint64]*round),
		failCh: make(chan struct{}),
	}
}

func (c *collector) collect(ctx context.Context, gen uint64, proc int, payload []byte) ([][]byte, error) {
	if proc < 0 || proc >= c.n {
		return nil, ErrBadProc
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	r, ok := c.rounds[gen]
	if !ok {
		r = &round{
			payloads: make([][]byte, c.n),
			seen:     make([]bool, c.n),
			done:     make(chan struct{}),
		}
		c.rounds[gen] = r
	}
	if !r.seen[proc] {
		r.seen[proc] = true
		r.payloads[proc] = payload
		r.arrived++
		if r.arrived == c.n {
			close(r.done)
		}
	}
	c.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
	case <-c.failCh:
	}
	// a round that completed before a failure or cancellation still counts
	select {
	case <-r.done:
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, c.failure()
	}

	c.mu.Lock()
	r.departed++
	if r.departed == c.n {
		delete(c.rounds, gen)
	}
	c.mu.Unlock()
	return r.payloads, nil
}

// fail releases every waiter, now and later, with err.
func (c *collector) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.failCh)
}

func (c *collector) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
