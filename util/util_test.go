package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIdStable(t *testing.T) {
	assert.Equal(t, HashId(42), HashId(42))
	assert.NotEqual(t, HashId(1), HashId(2))
}

func TestBucketSpreadsIds(t *testing.T) {
	counts := make([]int, 4)
	for id := uint64(0); id < 4000; id++ {
		b := Bucket(id, 4)
		require.True(t, b >= 0 && b < 4)
		assert.Equal(t, int(HashId(id)%4), b)
		counts[b]++
	}
	for b, n := range counts {
		assert.Greater(t, n, 500, "bucket %d", b)
	}
}

func TestGenerateClusterConfig(t *testing.T) {
	cfg, err := GenerateClusterConfig(3, "127.0.0.1", 7001, 8001)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:7001", "127.0.0.1:7002", "127.0.0.1:7003"}, cfg.Procs)
	assert.Equal(t, []string{"127.0.0.1:8001", "127.0.0.1:8002", "127.0.0.1:8003"}, cfg.HeartbeatAddrs)
	assert.EqualValues(t, DefaultLostMsgsThresh, cfg.LostMsgsThresh)

	_, err = GenerateClusterConfig(0, "127.0.0.1", 7001, 0)
	assert.Error(t, err)
}

func TestClusterConfigValidate(t *testing.T) {
	bad := ClusterConfig{Procs: []string{"not an address"}}
	assert.Error(t, bad.Validate())

	mismatch := ClusterConfig{
		Procs:          []string{"127.0.0.1:1", "127.0.0.1:2"},
		HeartbeatAddrs: []string{"127.0.0.1:3"},
	}
	assert.Error(t, mismatch.Validate())
}

func TestSynchronizeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.json")
	require.NoError(t, WriteJSONConfig(path, ClusterConfig{
		Procs: []string{"127.0.0.1:7001", "127.0.0.1:7002"},
	}))
	require.NoError(t, SynchronizeConfig(path, 1000))

	cfg, err := ReadClusterConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:8001", "127.0.0.1:8002"}, cfg.HeartbeatAddrs)
	assert.EqualValues(t, DefaultLostMsgsThresh, cfg.LostMsgsThresh)
}

func TestIPEmptyPortOnly(t *testing.T) {
	addr, err := IPEmptyPortOnly("10.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, ":9000", addr)
}
