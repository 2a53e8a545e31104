package baseline

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Sumatoshi-tech/vmtrack/internal/lz4buf"
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/safeconv"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// Codec serializes baselines.
type Codec interface {
	Encode(w io.Writer, base *Baseline) error
	Decode(r io.Reader) (*Baseline, error)
	// Extension is the file suffix Save appends, dot included.
	Extension() string
}

// Errors reported by the codecs.
var (
	ErrUnsupportedVersion = errors.New("baseline: unsupported baseline version")
	ErrInvalidEnvelope    = errors.New("baseline: invalid binary envelope")
	ErrPayloadTooLarge    = errors.New("baseline: binary payload too large")
)

// JSONCodec reads and writes baselines as JSON documents.
type JSONCodec struct {
	// Indent pretty-prints encoded output.
	Indent bool
}

// Encode implements Codec.
func (c JSONCodec) Encode(w io.Writer, base *Baseline) error {
	enc := json.NewEncoder(w)
	if c.Indent {
		enc.SetIndent("", "  ")
	}

	if err := enc.Encode(base); err != nil {
		return fmt.Errorf("baseline: encode json: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (JSONCodec) Decode(r io.Reader) (*Baseline, error) {
	var base Baseline
	if err := json.NewDecoder(r).Decode(&base); err != nil {
		return nil, fmt.Errorf("baseline: decode json: %w", err)
	}

	if base.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, base.Version)
	}

	return &base, nil
}

// Extension implements Codec.
func (JSONCodec) Extension() string {
	return ".json"
}

const (
	// binaryMagic marks vmtrack binary baseline envelopes.
	binaryMagic = "VMB1"
	// envelopeSize is magic bytes plus payload length bytes.
	envelopeSize = 8

	// Decode sanity caps. Baselines beyond these are corrupt, not big.
	maxRegions   = 1 << 24
	maxFrameRefs = 1 << 26
)

// BinaryCodec packs baselines columnar: region fields become parallel
// columns, address columns are delta-encoded, and every column is LZ4 block
// compressed. Call stack frames are interned into one shared table.
type BinaryCodec struct{}

// binaryHeader is the uncompressed JSON blob opening a binary payload. It
// carries everything whose length the column decoder cannot derive.
type binaryHeader struct {
	Version        int                  `json:"version"`
	Session        string               `json:"session,omitempty"`
	TakenAt        time.Time            `json:"taken_at"`
	Totals         []vmtracker.TagUsage `json:"totals"`
	RegionCount    int                  `json:"region_count"`
	FrameTableSize int                  `json:"frame_table_size"`
}

// Encode implements Codec.
func (BinaryCodec) Encode(w io.Writer, base *Baseline) error {
	payload, err := encodeColumns(base)
	if err != nil {
		return err
	}

	if len(payload) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	envelope := make([]byte, envelopeSize)
	copy(envelope[:4], binaryMagic)
	binary.LittleEndian.PutUint32(envelope[4:], safeconv.MustIntToUint32(len(payload)))

	if _, err := w.Write(envelope); err != nil {
		return fmt.Errorf("baseline: write envelope: %w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("baseline: write payload: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (BinaryCodec) Decode(r io.Reader) (*Baseline, error) {
	payload, err := readEnvelope(r)
	if err != nil {
		return nil, err
	}

	return decodeColumns(payload)
}

// Extension implements Codec.
func (BinaryCodec) Extension() string {
	return ".vmb"
}

func readEnvelope(r io.Reader) ([]byte, error) {
	envelope := make([]byte, envelopeSize)
	if _, err := io.ReadFull(r, envelope); err != nil {
		return nil, errors.Join(ErrInvalidEnvelope, err)
	}

	if !bytes.Equal(envelope[:4], []byte(binaryMagic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidEnvelope)
	}

	payload := make([]byte, binary.LittleEndian.Uint32(envelope[4:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Join(ErrInvalidEnvelope, err)
	}

	return payload, nil
}

// frameTable interns call stack frames during encoding.
type frameTable struct {
	index map[string]uint32
	table []string
}

func (f *frameTable) intern(frame string) uint32 {
	if idx, ok := f.index[frame]; ok {
		return idx
	}

	idx := safeconv.MustIntToUint32(len(f.table))
	f.index[frame] = idx
	f.table = append(f.table, frame)

	return idx
}

func encodeColumns(base *Baseline) ([]byte, error) {
	count := len(base.Regions)

	bases := make([]uint64, count)
	sizes := make([]uint64, count)
	tags := make([]uint32, count)
	stackDepths := make([]uint32, count)
	runCounts := make([]uint32, count)

	var (
		stackFrames []uint32
		runBases    []uint64
		runSizes    []uint64
		runDepths   []uint32
		runFrames   []uint32
	)

	frames := &frameTable{index: make(map[string]uint32)}

	for i, rgn := range base.Regions {
		bases[i] = rgn.Base
		sizes[i] = rgn.Size
		tags[i] = uint32(rgn.Tag)
		stackDepths[i] = safeconv.MustIntToUint32(len(rgn.Stack))
		runCounts[i] = safeconv.MustIntToUint32(len(rgn.Committed))

		for _, frame := range rgn.Stack {
			stackFrames = append(stackFrames, frames.intern(frame))
		}

		for _, run := range rgn.Committed {
			runBases = append(runBases, run.Base)
			runSizes = append(runSizes, run.Size)
			runDepths = append(runDepths, safeconv.MustIntToUint32(len(run.Stack)))

			for _, frame := range run.Stack {
				runFrames = append(runFrames, frames.intern(frame))
			}
		}
	}

	// Region and run bases ascend, so deltas compress far better than the
	// raw addresses. The slices are local copies; mutating is fine.
	lz4buf.DeltaEncodeUInt64Slice(bases)
	lz4buf.DeltaEncodeUInt64Slice(runBases)

	tableJSON, err := json.Marshal(frames.table)
	if err != nil {
		return nil, fmt.Errorf("baseline: encode frame table: %w", err)
	}

	headerJSON, err := json.Marshal(binaryHeader{
		Version:        base.Version,
		Session:        base.Session,
		TakenAt:        base.TakenAt,
		Totals:         base.Totals,
		RegionCount:    count,
		FrameTableSize: len(tableJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("baseline: encode header: %w", err)
	}

	buf := new(bytes.Buffer)
	writeBlob(buf, headerJSON)

	for _, pack := range []func() ([]byte, error){
		func() ([]byte, error) { return lz4buf.CompressUInt64Slice(bases) },
		func() ([]byte, error) { return lz4buf.CompressUInt64Slice(sizes) },
		func() ([]byte, error) { return lz4buf.CompressUInt32Slice(tags) },
		func() ([]byte, error) { return lz4buf.CompressUInt32Slice(stackDepths) },
		func() ([]byte, error) { return lz4buf.CompressUInt32Slice(stackFrames) },
		func() ([]byte, error) { return lz4buf.CompressUInt32Slice(runCounts) },
		func() ([]byte, error) { return lz4buf.CompressUInt64Slice(runBases) },
		func() ([]byte, error) { return lz4buf.CompressUInt64Slice(runSizes) },
		func() ([]byte, error) { return lz4buf.CompressUInt32Slice(runDepths) },
		func() ([]byte, error) { return lz4buf.CompressUInt32Slice(runFrames) },
		func() ([]byte, error) { return lz4buf.CompressBytes(tableJSON) },
	} {
		packed, err := pack()
		if err != nil {
			return nil, fmt.Errorf("baseline: pack column: %w", err)
		}

		writeBlob(buf, packed)
	}

	return buf.Bytes(), nil
}

func writeBlob(buf *bytes.Buffer, blob []byte) {
	var length [4]byte

	binary.LittleEndian.PutUint32(length[:], safeconv.MustIntToUint32(len(blob)))
	buf.Write(length[:])
	buf.Write(blob)
}

// blobCursor walks length-prefixed blobs inside a payload.
type blobCursor struct {
	data []byte
	off  int
}

func (c *blobCursor) next() ([]byte, error) {
	if c.off+4 > len(c.data) {
		return nil, fmt.Errorf("%w: truncated blob length", ErrInvalidEnvelope)
	}

	length := int(binary.LittleEndian.Uint32(c.data[c.off:]))
	c.off += 4

	if c.off+length > len(c.data) {
		return nil, fmt.Errorf("%w: truncated blob", ErrInvalidEnvelope)
	}

	blob := c.data[c.off : c.off+length]
	c.off += length

	return blob, nil
}

func (c *blobCursor) column64(count int) ([]uint64, error) {
	blob, err := c.next()
	if err != nil {
		return nil, err
	}

	column := make([]uint64, count)
	if err := lz4buf.DecompressUInt64Slice(blob, column); err != nil {
		return nil, errors.Join(ErrInvalidEnvelope, err)
	}

	return column, nil
}

func (c *blobCursor) column32(count int) ([]uint32, error) {
	blob, err := c.next()
	if err != nil {
		return nil, err
	}

	column := make([]uint32, count)
	if err := lz4buf.DecompressUInt32Slice(blob, column); err != nil {
		return nil, errors.Join(ErrInvalidEnvelope, err)
	}

	return column, nil
}

func sumColumn(column []uint32, limit uint64) (int, error) {
	var sum uint64
	for _, v := range column {
		sum += uint64(v)
	}

	if sum > limit {
		return 0, fmt.Errorf("%w: implausible column total %d", ErrInvalidEnvelope, sum)
	}

	return int(sum), nil //nolint:gosec // bounded by the limit just checked
}

func decodeColumns(payload []byte) (*Baseline, error) {
	cur := &blobCursor{data: payload}

	headerJSON, err := cur.next()
	if err != nil {
		return nil, err
	}

	var header binaryHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("baseline: decode header: %w", err)
	}

	if header.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}

	if header.RegionCount < 0 || header.RegionCount > maxRegions {
		return nil, fmt.Errorf("%w: implausible region count %d", ErrInvalidEnvelope, header.RegionCount)
	}

	if header.FrameTableSize < 0 || header.FrameTableSize > maxFrameRefs {
		return nil, fmt.Errorf("%w: implausible frame table size %d", ErrInvalidEnvelope, header.FrameTableSize)
	}

	count := header.RegionCount

	bases, err := cur.column64(count)
	if err != nil {
		return nil, err
	}

	sizes, err := cur.column64(count)
	if err != nil {
		return nil, err
	}

	tags, err := cur.column32(count)
	if err != nil {
		return nil, err
	}

	stackDepths, err := cur.column32(count)
	if err != nil {
		return nil, err
	}

	frameCount, err := sumColumn(stackDepths, maxFrameRefs)
	if err != nil {
		return nil, err
	}

	stackFrames, err := cur.column32(frameCount)
	if err != nil {
		return nil, err
	}

	runCounts, err := cur.column32(count)
	if err != nil {
		return nil, err
	}

	totalRuns, err := sumColumn(runCounts, maxFrameRefs)
	if err != nil {
		return nil, err
	}

	runBases, err := cur.column64(totalRuns)
	if err != nil {
		return nil, err
	}

	runSizes, err := cur.column64(totalRuns)
	if err != nil {
		return nil, err
	}

	runDepths, err := cur.column32(totalRuns)
	if err != nil {
		return nil, err
	}

	runFrameCount, err := sumColumn(runDepths, maxFrameRefs)
	if err != nil {
		return nil, err
	}

	runFrames, err := cur.column32(runFrameCount)
	if err != nil {
		return nil, err
	}

	tableBlob, err := cur.next()
	if err != nil {
		return nil, err
	}

	tableJSON, err := lz4buf.DecompressBytes(tableBlob, header.FrameTableSize)
	if err != nil {
		return nil, errors.Join(ErrInvalidEnvelope, err)
	}

	var table []string
	if err := json.Unmarshal(tableJSON, &table); err != nil {
		return nil, fmt.Errorf("baseline: decode frame table: %w", err)
	}

	lz4buf.DeltaDecodeUInt64Slice(bases)
	lz4buf.DeltaDecodeUInt64Slice(runBases)

	regions := make([]Region, count)
	framePos := 0
	runPos := 0
	runFramePos := 0

	for i := range regions {
		if tags[i] >= uint32(memtag.Count) {
			return nil, fmt.Errorf("%w: unknown tag value %d", ErrInvalidEnvelope, tags[i])
		}

		stack, err := resolveFrames(table, stackFrames, framePos, int(stackDepths[i]))
		if err != nil {
			return nil, err
		}

		framePos += int(stackDepths[i])

		rgn := Region{
			Base:  bases[i],
			Size:  sizes[i],
			Tag:   memtag.Tag(tags[i]),
			Stack: stack,
		}

		for r := 0; r < int(runCounts[i]); r++ {
			runStack, err := resolveFrames(table, runFrames, runFramePos, int(runDepths[runPos]))
			if err != nil {
				return nil, err
			}

			runFramePos += int(runDepths[runPos])

			rgn.Committed = append(rgn.Committed, Run{
				Base:  runBases[runPos],
				Size:  runSizes[runPos],
				Stack: runStack,
			})
			runPos++
		}

		regions[i] = rgn
	}

	return &Baseline{
		Version: header.Version,
		Session: header.Session,
		TakenAt: header.TakenAt,
		Totals:  header.Totals,
		Regions: regions,
	}, nil
}

func resolveFrames(table []string, refs []uint32, pos, depth int) ([]string, error) {
	if depth == 0 {
		return nil, nil
	}

	stack := make([]string, depth)

	for i := range stack {
		ref := refs[pos+i]
		if int(ref) >= len(table) {
			return nil, fmt.Errorf("%w: frame reference %d outside table", ErrInvalidEnvelope, ref)
		}

		stack[i] = table[ref]
	}

	return stack, nil
}
