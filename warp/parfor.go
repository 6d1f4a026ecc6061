// Package warp provides the fiber-style primitives the engine and the
// benchmarks are built on: a barrier-bracketed parallel for loop and a
// buffered all-to-all exchange.
package warp

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"bagelbfs/comm"
	"bagelbfs/telemetry"
)

const DefaultFibers = 10000

type parForOptions struct {
	fibers    int
	stackSize int
}

type ParForOption func(*parForOptions)

// WithFibers sets how many goroutines share the loop. Values below one
// mean one.
func WithFibers(n int) ParForOption {
	return func(o *parForOptions) { o.fibers = n }
}

// WithStackSize records the requested fiber stack size. Goroutine stacks
// grow on demand so the value is only reported.
func WithStackSize(bytes int) ParForOption {
	return func(o *parForOptions) { o.stackSize = bytes }
}

// ParFor runs body(ctx, i) exactly once for every i in [0, n). All
// processes of dc enter and leave together: there is a barrier before the
// first body runs and another after the last one returns. Bodies are free
// to block; only the calling goroutine parks.
//
// The first body error stops the remaining fibers from taking new indices
// and is returned after the exit barrier.
func ParFor(ctx context.Context, dc comm.Control, n int, body func(ctx context.Context, i int) error, opts ...ParForOption) error {
	o := parForOptions{fibers: DefaultFibers}
	for _, opt := range opts {
		opt(&o)
	}
	fibers := o.fibers
	if fibers > n {
		fibers = n
	}
	if fibers < 1 {
		fibers = 1
	}
	if o.stackSize > 0 {
		log.Debug().Str("component", "parfor").Int("fibers", fibers).Int("stack_size", o.stackSize).
			Msg("goroutine stacks grow on demand, ignoring requested stack size")
	}

	if err := dc.Barrier(ctx); err != nil {
		return err
	}

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for f := 0; f < fibers; f++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := body(gctx, i); err != nil {
					return err
				}
				telemetry.ParForItems.Inc()
			}
		})
	}
	loopErr := g.Wait()
	if loopErr == nil {
		loopErr = ctx.Err()
	}

	// peers still expect us at the exit barrier even if the loop failed
	if err := dc.Barrier(ctx); err != nil && loopErr == nil {
		return err
	}
	return loopErr
}
