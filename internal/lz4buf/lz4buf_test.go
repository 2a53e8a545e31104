package lz4buf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/internal/lz4buf"
)

const (
	deltaTestSize  = 1000
	deltaBenchSize = 100000
	sortStep       = 3
)

func TestCompressDecompressUInt32Slice(t *testing.T) {
	t.Parallel()

	data := make([]uint32, deltaTestSize)
	for idx := range data {
		data[idx] = 7
	}

	packed, err := lz4buf.CompressUInt32Slice(data)
	require.NoError(t, err)
	require.NotEmpty(t, packed)

	restored := make([]uint32, len(data))
	require.NoError(t, lz4buf.DecompressUInt32Slice(packed, restored))
	assert.Equal(t, data, restored)
}

func TestCompressDecompressUInt64Slice(t *testing.T) {
	t.Parallel()

	data := make([]uint64, deltaTestSize)
	for idx := range data {
		data[idx] = uint64(idx) << 32
	}

	packed, err := lz4buf.CompressUInt64Slice(data)
	require.NoError(t, err)

	restored := make([]uint64, len(data))
	require.NoError(t, lz4buf.DecompressUInt64Slice(packed, restored))
	assert.Equal(t, data, restored)
}

// Too-small payloads fall back to the raw marker and must still round-trip.
func TestIncompressiblePayloadStoredRaw(t *testing.T) {
	t.Parallel()

	data := []uint64{0xdeadbeefcafebabe, 42}

	packed, err := lz4buf.CompressUInt64Slice(data)
	require.NoError(t, err)
	assert.Len(t, packed, 1+len(data)*8)

	restored := make([]uint64, len(data))
	require.NoError(t, lz4buf.DecompressUInt64Slice(packed, restored))
	assert.Equal(t, data, restored)
}

func TestCompressEmptySlice(t *testing.T) {
	t.Parallel()

	packed, err := lz4buf.CompressUInt64Slice(nil)
	require.NoError(t, err)

	require.NoError(t, lz4buf.DecompressUInt64Slice(packed, []uint64{}))
}

func TestDecompressErrors(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, lz4buf.DecompressUInt32Slice(nil, make([]uint32, 1)), lz4buf.ErrTruncated)
	assert.ErrorIs(t, lz4buf.DecompressUInt32Slice([]byte{0xff, 1, 2}, make([]uint32, 1)), lz4buf.ErrUnknownMarker)

	packed, err := lz4buf.CompressUInt32Slice([]uint32{1, 2, 3})
	require.NoError(t, err)
	assert.ErrorIs(t, lz4buf.DecompressUInt32Slice(packed, make([]uint32, 5)), lz4buf.ErrLengthMismatch)
}

func TestDeltaEncodeSortedAscending(t *testing.T) {
	t.Parallel()

	original := make([]uint64, deltaTestSize)
	for i := range original {
		original[i] = uint64(i * sortStep)
	}

	data := make([]uint64, len(original))
	copy(data, original)

	lz4buf.DeltaEncodeUInt64Slice(data)

	assert.Equal(t, original[0], data[0])

	for i := 1; i < len(data); i++ {
		assert.Equal(t, uint64(sortStep), data[i], "delta at index %d", i)
	}

	lz4buf.DeltaDecodeUInt64Slice(data)
	assert.Equal(t, original, data)
}

func TestDeltaEncodeAllSame(t *testing.T) {
	t.Parallel()

	original := make([]uint32, deltaTestSize)
	for i := range original {
		original[i] = 7
	}

	data := make([]uint32, len(original))
	copy(data, original)

	lz4buf.DeltaEncodeUInt32Slice(data)

	assert.Equal(t, uint32(7), data[0])

	for i := 1; i < len(data); i++ {
		assert.Zero(t, data[i], "delta at index %d should be 0", i)
	}

	lz4buf.DeltaDecodeUInt32Slice(data)
	assert.Equal(t, original, data)
}

func TestDeltaEncodeEmptyAndSingle(t *testing.T) {
	t.Parallel()

	var empty []uint64

	lz4buf.DeltaEncodeUInt64Slice(empty)
	lz4buf.DeltaDecodeUInt64Slice(empty)
	assert.Nil(t, empty)

	single := []uint32{42}

	lz4buf.DeltaEncodeUInt32Slice(single)
	assert.Equal(t, uint32(42), single[0])

	lz4buf.DeltaDecodeUInt32Slice(single)
	assert.Equal(t, uint32(42), single[0])
}

// Overflow wraps and must still round-trip.
func TestDeltaEncodeMaxValues(t *testing.T) {
	t.Parallel()

	original := []uint64{0, 1, ^uint64(0), ^uint64(0) - 1, 0}

	data := make([]uint64, len(original))
	copy(data, original)

	lz4buf.DeltaEncodeUInt64Slice(data)
	lz4buf.DeltaDecodeUInt64Slice(data)

	assert.Equal(t, original, data)
}

func TestDeltaEncodeRandom(t *testing.T) {
	t.Parallel()

	rng := newTestRNG(42)

	original := make([]uint64, deltaTestSize)
	for i := range original {
		original[i] = rng.next()
	}

	data := make([]uint64, len(original))
	copy(data, original)

	lz4buf.DeltaEncodeUInt64Slice(data)
	lz4buf.DeltaDecodeUInt64Slice(data)

	assert.Equal(t, original, data)
}

// Delta encoding should improve the LZ4 ratio on sorted address columns.
func TestDeltaEncodeCompressionImprovement(t *testing.T) {
	t.Parallel()

	data := make([]uint64, deltaBenchSize)
	for i := range data {
		data[i] = uint64(i * 4096)
	}

	plainCompressed, err := lz4buf.CompressUInt64Slice(data)
	require.NoError(t, err)

	deltaData := make([]uint64, len(data))
	copy(deltaData, data)

	lz4buf.DeltaEncodeUInt64Slice(deltaData)

	deltaCompressed, err := lz4buf.CompressUInt64Slice(deltaData)
	require.NoError(t, err)

	assert.Less(t, len(deltaCompressed), len(plainCompressed),
		"delta-encoded data should compress better than plain for sorted addresses")
}

// testRNG is a splitmix64 PRNG for deterministic tests.
type testRNG struct {
	state uint64
}

func newTestRNG(seed uint64) *testRNG {
	return &testRNG{state: seed}
}

func (r *testRNG) next() uint64 {
	r.state += 0x9e3779b97f4a7c15

	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb

	return z ^ (z >> 31)
}

func BenchmarkCompressPlain(b *testing.B) {
	data := make([]uint64, deltaBenchSize)
	for i := range data {
		data[i] = uint64(i * sortStep)
	}

	b.ResetTimer()

	for range b.N {
		buf := make([]uint64, len(data))
		copy(buf, data)

		_, _ = lz4buf.CompressUInt64Slice(buf)
	}
}

func BenchmarkCompressDeltaEncoded(b *testing.B) {
	data := make([]uint64, deltaBenchSize)
	for i := range data {
		data[i] = uint64(i * sortStep)
	}

	b.ResetTimer()

	for range b.N {
		buf := make([]uint64, len(data))
		copy(buf, data)

		lz4buf.DeltaEncodeUInt64Slice(buf)
		_, _ = lz4buf.CompressUInt64Slice(buf)
	}
}
