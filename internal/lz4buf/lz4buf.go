// Package lz4buf packs integer columns into LZ4 blocks, with in-place delta
// transforms that turn sorted sequences into small, repetitive values that
// compress well. Columns that do not compress are stored raw behind a
// one-byte marker so every payload round-trips.
package lz4buf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const (
	uint32ByteSize = 4
	uint64ByteSize = 8
)

// Block markers.
const (
	blockRaw byte = iota
	blockLZ4
)

var (
	// ErrTruncated reports a packed block too short to carry its marker.
	ErrTruncated = errors.New("lz4buf: truncated block")

	// ErrUnknownMarker reports a packed block with an unrecognized marker.
	ErrUnknownMarker = errors.New("lz4buf: unknown block marker")

	// ErrLengthMismatch reports a block that decoded to a different element
	// count than the caller expected.
	ErrLengthMismatch = errors.New("lz4buf: decoded length mismatch")
)

// CompressUInt32Slice packs a slice of uint32-s.
func CompressUInt32Slice(data []uint32) ([]byte, error) {
	raw := new(bytes.Buffer)

	if err := binary.Write(raw, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("lz4buf: encode uint32 column: %w", err)
	}

	return compressBytes(raw.Bytes())
}

// DecompressUInt32Slice unpacks a block produced by CompressUInt32Slice.
// `result` must be preallocated to the element count recorded by the caller.
func DecompressUInt32Slice(packed []byte, result []uint32) error {
	decompressed, err := decompressBytes(packed, len(result)*uint32ByteSize)
	if err != nil {
		return err
	}

	if err := binary.Read(bytes.NewReader(decompressed), binary.LittleEndian, result); err != nil {
		return fmt.Errorf("lz4buf: decode uint32 column: %w", err)
	}

	return nil
}

// CompressUInt64Slice packs a slice of uint64-s.
func CompressUInt64Slice(data []uint64) ([]byte, error) {
	raw := new(bytes.Buffer)

	if err := binary.Write(raw, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("lz4buf: encode uint64 column: %w", err)
	}

	return compressBytes(raw.Bytes())
}

// DecompressUInt64Slice unpacks a block produced by CompressUInt64Slice.
// `result` must be preallocated to the element count recorded by the caller.
func DecompressUInt64Slice(packed []byte, result []uint64) error {
	decompressed, err := decompressBytes(packed, len(result)*uint64ByteSize)
	if err != nil {
		return err
	}

	if err := binary.Read(bytes.NewReader(decompressed), binary.LittleEndian, result); err != nil {
		return fmt.Errorf("lz4buf: decode uint64 column: %w", err)
	}

	return nil
}

// CompressBytes packs an opaque byte column.
func CompressBytes(raw []byte) ([]byte, error) {
	return compressBytes(raw)
}

// DecompressBytes unpacks a block produced by CompressBytes. `rawLen` is the
// original byte count recorded by the caller. The result may alias packed.
func DecompressBytes(packed []byte, rawLen int) ([]byte, error) {
	return decompressBytes(packed, rawLen)
}

func compressBytes(raw []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4buf: compress block: %w", err)
	}

	if written == 0 || written >= len(raw) {
		packed := make([]byte, 1+len(raw))
		packed[0] = blockRaw
		copy(packed[1:], raw)

		return packed, nil
	}

	packed := make([]byte, 1+written)
	packed[0] = blockLZ4
	copy(packed[1:], compressed[:written])

	return packed, nil
}

func decompressBytes(packed []byte, want int) ([]byte, error) {
	if len(packed) < 1 {
		return nil, ErrTruncated
	}

	payload := packed[1:]

	switch packed[0] {
	case blockRaw:
		if len(payload) != want {
			return nil, ErrLengthMismatch
		}

		return payload, nil

	case blockLZ4:
		decompressed := make([]byte, want)

		read, err := lz4.UncompressBlock(payload, decompressed)
		if err != nil {
			return nil, fmt.Errorf("lz4buf: uncompress block: %w", err)
		}

		if read != want {
			return nil, ErrLengthMismatch
		}

		return decompressed, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMarker, packed[0])
	}
}

// DeltaEncodeUInt32Slice replaces each element with the difference from its
// predecessor, in place. The first element is left unchanged.
func DeltaEncodeUInt32Slice(data []uint32) {
	for i := len(data) - 1; i > 0; i-- {
		data[i] -= data[i-1]
	}
}

// DeltaDecodeUInt32Slice performs a prefix-sum to restore original values
// from deltas produced by DeltaEncodeUInt32Slice, in place.
func DeltaDecodeUInt32Slice(data []uint32) {
	for i := 1; i < len(data); i++ {
		data[i] += data[i-1]
	}
}

// DeltaEncodeUInt64Slice replaces each element with the difference from its
// predecessor, in place. The first element is left unchanged.
func DeltaEncodeUInt64Slice(data []uint64) {
	for i := len(data) - 1; i > 0; i-- {
		data[i] -= data[i-1]
	}
}

// DeltaDecodeUInt64Slice performs a prefix-sum to restore original values
// from deltas produced by DeltaEncodeUInt64Slice, in place.
func DeltaDecodeUInt64Slice(data []uint64) {
	for i := 1; i < len(data); i++ {
		data[i] += data[i-1]
	}
}
