package gups

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"bagelbfs/comm"
)

func runGroup(t *testing.T, nprocs int, cfg Config) []Result {
	t.Helper()
	ctls := comm.NewLocalGroup(nprocs)
	results := make([]Result, nprocs)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for p, dc := range ctls {
		g.Go(func() error {
			res, err := Run(ctx, dc, cfg)
			results[p] = res
			return err
		})
	}
	require.NoError(t, g.Wait())
	return results
}

func TestEveryUpdateLands(t *testing.T) {
	tests := []struct {
		name   string
		nprocs int
		cfg    Config
	}{
		{"single", 1, Config{Log2SizeA: 10, Log2SizeB: 12}},
		{"three procs", 3, Config{Log2SizeA: 10, Log2SizeB: 12, FlushThreshold: 64, Fibers: 16}},
		{"compressed", 4, Config{Log2SizeA: 8, Log2SizeB: 10, Compress: true}},
		// more processes than table entries per block
		{"tiny table", 3, Config{Log2SizeA: 1, Log2SizeB: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := runGroup(t, tt.nprocs, tt.cfg)
			for p, res := range results {
				assert.EqualValues(t, uint64(1)<<tt.cfg.Log2SizeB, res.SumA, "proc %d", p)
				assert.Greater(t, res.MessagesSent, uint64(0))
				assert.Greater(t, res.BytesSent, uint64(0))
				// every process sees the same all-reduced totals
				assert.Equal(t, results[0].BytesSent, res.BytesSent)
			}
		})
	}
}

func TestRejectsBadConfig(t *testing.T) {
	dc := comm.NewLocalGroup(1)[0]
	_, err := Run(context.Background(), dc, Config{Log2SizeA: 0, Log2SizeB: 4})
	assert.Error(t, err)
}

func TestBlockSplit(t *testing.T) {
	b := newBlock(10, 3)
	var total uint64
	for p := 0; p < 3; p++ {
		total += b.len(p)
		for i := b.start(p); i < b.start(p)+b.len(p); i++ {
			assert.Equal(t, p, b.owner(i), "index %d", i)
		}
	}
	assert.EqualValues(t, 10, total)

	// fewer entries than processes: the last one owns them all
	tiny := newBlock(2, 3)
	assert.Equal(t, 2, tiny.owner(0))
	assert.EqualValues(t, 2, tiny.len(2))
	assert.EqualValues(t, 0, tiny.len(0))
}
