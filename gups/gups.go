// Package gups is a giga-updates-per-second style benchmark for the warp
// primitives: every process fires random increments at a table spread
// over all processes and counts the traffic it took.
package gups

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"bagelbfs/comm"
	"bagelbfs/util"
	"bagelbfs/warp"
	"bagelbfs/wire"
)

const (
	updateChannel = "gups.update"
	gigabyte      = 1 << 30
	DefaultSeed   = 12345
)

type Config struct {
	// Log2SizeA is the log2 size of the target table A.
	Log2SizeA int `validate:"min=1,max=40"`
	// Log2SizeB is the log2 size of the index array B, the update count.
	Log2SizeB int `validate:"min=0,max=40"`

	Fibers         int `validate:"gte=0"`
	FlushThreshold int `validate:"gte=0"`
	Compress       bool
	Seed           int64
}

type Result struct {
	BytesSent      uint64
	GBSent         float64
	MessagesSent   uint64
	ElapsedSeconds float64
	// SumA is the sum of A over every process. It equals 2^Log2SizeB when
	// no update was lost.
	SumA uint64
}

// block is an even split of size entries over nprocs processes; the last
// process also takes the remainder.
type block struct {
	size   uint64
	per    uint64
	nprocs int
}

func newBlock(size uint64, nprocs int) block {
	return block{size: size, per: size / uint64(nprocs), nprocs: nprocs}
}

func (b block) owner(i uint64) int {
	if b.per == 0 {
		return b.nprocs - 1
	}
	p := int(i / b.per)
	if p >= b.nprocs {
		p = b.nprocs - 1
	}
	return p
}

func (b block) start(proc int) uint64 { return uint64(proc) * b.per }

func (b block) len(proc int) uint64 {
	if proc == b.nprocs-1 {
		return b.size - b.start(proc)
	}
	return b.per
}

// Run executes the benchmark on this process. Every process of dc must
// call Run with the same Config.
func Run(ctx context.Context, dc comm.Control, cfg Config) (Result, error) {
	var res Result
	if err := util.Validate(&cfg); err != nil {
		return res, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	proc, nprocs := dc.ProcID(), dc.NumProcs()
	logger := log.With().Str("component", "gups").Int("proc", proc).Logger()

	blockA := newBlock(uint64(1)<<cfg.Log2SizeA, nprocs)
	blockB := newBlock(uint64(1)<<cfg.Log2SizeB, nprocs)
	localA := make([]int64, blockA.len(proc))
	localB := make([]uint64, blockB.len(proc))

	rng := rand.New(rand.NewSource(cfg.Seed + int64(proc)))
	for i := range localB {
		localB[i] = uint64(rng.Int63()) % blockA.size
	}

	var xopts []warp.ExchangeOption
	if cfg.FlushThreshold > 0 {
		xopts = append(xopts, warp.WithFlushThreshold(cfg.FlushThreshold))
	}
	xopts = append(xopts, warp.WithCompression(cfg.Compress))
	xchg := warp.NewExchange[uint64](dc, updateChannel, wire.Uint64{}, xopts...)

	before, err := allReduceStats(ctx, dc)
	if err != nil {
		return res, err
	}
	logger.Info().Uint64("sizeA", blockA.size).Uint64("sizeB", blockB.size).Msg("Run: starting updates")

	began := time.Now()
	var popts []warp.ParForOption
	if cfg.Fibers > 0 {
		popts = append(popts, warp.WithFibers(cfg.Fibers))
	}
	err = warp.ParFor(ctx, dc, len(localB), func(ctx context.Context, i int) error {
		idx := localB[i]
		return xchg.Send(ctx, blockA.owner(idx), idx)
	}, popts...)
	if err != nil {
		return res, err
	}
	if err := xchg.Flush(ctx); err != nil {
		return res, err
	}
	if err := dc.Barrier(ctx); err != nil {
		return res, err
	}

	batches, err := xchg.RecvAll()
	if err != nil {
		return res, err
	}
	offset := blockA.start(proc)
	for _, b := range batches {
		for _, idx := range b.Values {
			if blockA.owner(idx) != proc {
				return res, fmt.Errorf("gups: proc %d got index %d owned by %d", proc, idx, blockA.owner(idx))
			}
			localA[idx-offset]++
		}
	}
	res.ElapsedSeconds = time.Since(began).Seconds()

	after, err := allReduceStats(ctx, dc)
	if err != nil {
		return res, err
	}
	res.BytesSent = after.BytesSent - before.BytesSent
	res.MessagesSent = after.CallsSent - before.CallsSent
	res.GBSent = float64(res.BytesSent) / gigabyte

	var sum uint64
	for _, v := range localA {
		sum += uint64(v)
	}
	if res.SumA, err = dc.AllReduceSum(ctx, sum); err != nil {
		return res, err
	}
	logger.Info().Float64("total_gb_sent", res.GBSent).Uint64("total_msgs_sent", res.MessagesSent).
		Float64("elapsed", res.ElapsedSeconds).Uint64("sum_a", res.SumA).Msg("Run: finished")
	return res, nil
}

func allReduceStats(ctx context.Context, dc comm.Control) (comm.Stats, error) {
	local := dc.Stats()
	bytes, err := dc.AllReduceSum(ctx, local.BytesSent)
	if err != nil {
		return comm.Stats{}, err
	}
	calls, err := dc.AllReduceSum(ctx, local.CallsSent)
	if err != nil {
		return comm.Stats{}, err
	}
	return comm.Stats{BytesSent: bytes, CallsSent: calls}, nil
}
