package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchRoundTripUint64(t *testing.T) {
	in := []uint64{0, 1, 127, 128, 300, math.MaxUint64}
	out, err := DecodeBatch[uint64](Uint64{}, EncodeBatch[uint64](Uint64{}, in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBatchRoundTripInt64(t *testing.T) {
	in := []int64{0, -1, 1, math.MinInt64, math.MaxInt64}
	out, err := DecodeBatch[int64](Int64{}, EncodeBatch[int64](Int64{}, in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmptyBatch(t *testing.T) {
	b := EncodeBatch[uint64](Uint64{}, nil)
	assert.Equal(t, []byte{0}, b)

	out, err := DecodeBatch[uint64](Uint64{}, b)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeBatchRejectsBadInput(t *testing.T) {
	// count says 3, only one value follows
	_, err := DecodeBatch[uint64](Uint64{}, []byte{3, 1})
	assert.Error(t, err)

	// truncated varint
	_, err = DecodeBatch[uint64](Uint64{}, []byte{1, 0x80})
	assert.Error(t, err)

	_, err = DecodeBatch[uint64](Uint64{}, []byte{1, 5, 6})
	assert.ErrorIs(t, err, ErrTrailingBytes)
}
