package warp

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"golang.org/x/sync/errgroup"

	"bagelbfs/comm"
	"bagelbfs/telemetry"
	"bagelbfs/wire"
)

const DefaultFlushThreshold = 4096

type exchangeOptions struct {
	threshold int
	compress  bool
}

type ExchangeOption func(*exchangeOptions)

// WithFlushThreshold sets how many values a peer buffer holds before Send
// ships it.
func WithFlushThreshold(n int) ExchangeOption {
	return func(o *exchangeOptions) { o.threshold = n }
}

// WithCompression snappy-compresses every batch. Both ends must agree.
func WithCompression(on bool) ExchangeOption {
	return func(o *exchangeOptions) { o.compress = on }
}

// Batch is one shipment of values from process From.
type Batch[T any] struct {
	From   int
	Values []T
}

type peerBuffer[T any] struct {
	mu   sync.Mutex
	vals []T
}

// Exchange buffers values per destination process and ships them in
// batches over one comm channel. Batches arrive in no particular order.
type Exchange[T any] struct {
	dc      comm.Control
	channel string
	codec   wire.Codec[T]
	opts    exchangeOptions
	bufs    []*peerBuffer[T]

	mu    sync.Mutex
	inbox []Batch[T]
	err   error
}

// NewExchange registers the exchange as the handler for channel on dc.
// Every process must create its exchange before any peer sends on it.
func NewExchange[T any](dc comm.Control, channel string, codec wire.Codec[T], opts ...ExchangeOption) *Exchange[T] {
	o := exchangeOptions{threshold: DefaultFlushThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	if o.threshold < 1 {
		o.threshold = 1
	}
	x := &Exchange[T]{
		dc:      dc,
		channel: channel,
		codec:   codec,
		opts:    o,
		bufs:    make([]*peerBuffer[T], dc.NumProcs()),
	}
	for i := range x.bufs {
		x.bufs[i] = &peerBuffer[T]{}
	}
	dc.Handle(channel, x.receive)
	return x
}

// Send queues v for proc, shipping the buffer if it reached the flush
// threshold. Safe for concurrent use.
func (x *Exchange[T]) Send(ctx context.Context, proc int, v T) error {
	if proc < 0 || proc >= len(x.bufs) {
		return fmt.Errorf("%w: %d", comm.ErrBadProc, proc)
	}
	b := x.bufs[proc]
	b.mu.Lock()
	b.vals = append(b.vals, v)
	var full []T
	if len(b.vals) >= x.opts.threshold {
		full = b.vals
		b.vals = make([]T, 0, x.opts.threshold)
	}
	b.mu.Unlock()

	if full == nil {
		return nil
	}
	return x.ship(ctx, proc, full)
}

// Flush ships every non-empty buffer and returns once each shipment has
// been accepted by its destination.
func (x *Exchange[T]) Flush(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for proc, b := range x.bufs {
		b.mu.Lock()
		vals := b.vals
		b.vals = nil
		b.mu.Unlock()
		if len(vals) == 0 {
			continue
		}
		g.Go(func() error { return x.ship(gctx, proc, vals) })
	}
	return g.Wait()
}

func (x *Exchange[T]) ship(ctx context.Context, proc int, vals []T) error {
	payload := wire.EncodeBatch(x.codec, vals)
	if x.opts.compress {
		payload = snappy.Encode(nil, payload)
	}
	telemetry.ExchangeBytes.WithLabelValues(x.channel).Add(float64(len(payload)))
	telemetry.ExchangeBatches.WithLabelValues(x.channel).Inc()
	return x.dc.Send(ctx, proc, x.channel, payload)
}

func (x *Exchange[T]) receive(from int, payload []byte) error {
	if x.opts.compress {
		var err error
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return x.recordErr(fmt.Errorf("exchange %s: from proc %d: %w", x.channel, from, err))
		}
	}
	vals, err := wire.DecodeBatch(x.codec, payload)
	if err != nil {
		return x.recordErr(fmt.Errorf("exchange %s: from proc %d: %w", x.channel, from, err))
	}
	x.mu.Lock()
	x.inbox = append(x.inbox, Batch[T]{From: from, Values: vals})
	x.mu.Unlock()
	return nil
}

func (x *Exchange[T]) recordErr(err error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err == nil {
		x.err = err
	}
	return err
}

// Recv pops one received batch. ok is false when the inbox is empty.
func (x *Exchange[T]) Recv() (batch Batch[T], ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.inbox) == 0 {
		return batch, false
	}
	batch = x.inbox[0]
	x.inbox[0] = Batch[T]{}
	x.inbox = x.inbox[1:]
	return batch, true
}

// RecvAll drains the inbox. It also reports the first batch that could not
// be decoded since the last call.
func (x *Exchange[T]) RecvAll() ([]Batch[T], error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	batches := x.inbox
	x.inbox = nil
	err := x.err
	x.err = nil
	return batches, err
}
