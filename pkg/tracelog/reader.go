package tracelog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pierrec/lz4/v4"
)

// lz4FrameMagic opens every LZ4 frame, stored little-endian.
const lz4FrameMagic = 0x184D2204

// Read loads, validates and decodes the trace document at path. LZ4-framed
// files are detected by content, not by file name.
func Read(path string) (*Trace, error) {
	return ReadCapped(path, 0)
}

// ReadCapped reads like Read but fails with ErrTraceTooLarge once the
// decoded document grows past maxBytes. The cap counts decompressed bytes,
// guarding against decompression bombs in untrusted traces. Zero means no
// cap.
func ReadCapped(path string, maxBytes uint64) (*Trace, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tracelog: open %s: %w", path, err)
	}
	defer file.Close()

	return readFrom(file, maxBytes)
}

// ReadFrom validates and decodes a trace document from r, transparently
// unwrapping an LZ4 frame when its magic number opens the stream.
func ReadFrom(r io.Reader) (*Trace, error) {
	return readFrom(r, 0)
}

func readFrom(r io.Reader, maxBytes uint64) (*Trace, error) {
	data, err := readDocument(r, maxBytes)
	if err != nil {
		return nil, err
	}

	return Decode(data)
}

// ReadRaw returns the decompressed document bytes at path without decoding
// them, unwrapping an LZ4 frame when its magic number opens the file.
// maxBytes caps the decompressed size as in ReadCapped; zero means no cap.
func ReadRaw(path string, maxBytes uint64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tracelog: open %s: %w", path, err)
	}
	defer file.Close()

	return readDocument(file, maxBytes)
}

func readDocument(r io.Reader, maxBytes uint64) ([]byte, error) {
	buffered := bufio.NewReaderSize(r, ioBufferSize)

	var src io.Reader = buffered

	magic, err := buffered.Peek(4)
	if err == nil && binary.LittleEndian.Uint32(magic) == lz4FrameMagic {
		src = lz4.NewReader(buffered)
	}

	if maxBytes > 0 && maxBytes < uint64(math.MaxInt64) {
		src = io.LimitReader(src, int64(maxBytes)+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("tracelog: read trace: %w", err)
	}

	if maxBytes > 0 && uint64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrTraceTooLarge, maxBytes)
	}

	return data, nil
}

// Decode checks the document version, validates data against the embedded
// schema and unmarshals the trace.
func Decode(data []byte) (*Trace, error) {
	var head struct {
		Version int `json:"version"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("tracelog: decode trace header: %w", err)
	}

	if head.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, head.Version)
	}

	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	var trace Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("tracelog: decode trace: %w", err)
	}

	return &trace, nil
}
