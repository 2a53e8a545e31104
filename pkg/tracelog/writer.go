package tracelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/vmtrack/pkg/units"
)

// CompressedExtension marks trace files wrapped in an LZ4 frame.
const CompressedExtension = ".lz4"

// ioBufferSize sizes the buffered writer between the encoder and the sink.
// Trace documents run to megabytes of small events.
const ioBufferSize = 64 * units.KiB

// Writer streams a trace document to a sink one event at a time, assigning
// sequence numbers in append order. It is not safe for concurrent use.
type Writer struct {
	sink   io.Closer // owned file, nil when wrapping a caller-managed writer
	frame  *lz4.Writer
	buf    *bufio.Writer
	seq    uint64
	closed bool
}

// Create opens path for writing and starts a trace document on it.
// A path ending in .lz4 wraps the document in an LZ4 frame.
func Create(path, session string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("tracelog: create %s: %w", path, err)
	}

	writer, err := newWriter(file, file, session, strings.HasSuffix(path, CompressedExtension))
	if err != nil {
		file.Close()

		return nil, err
	}

	return writer, nil
}

// NewWriter starts a trace document on out. Closing the Writer finishes the
// document but leaves out open.
func NewWriter(out io.Writer, session string, compress bool) (*Writer, error) {
	return newWriter(out, nil, session, compress)
}

func newWriter(out io.Writer, sink io.Closer, session string, compress bool) (*Writer, error) {
	writer := &Writer{sink: sink}

	if compress {
		writer.frame = lz4.NewWriter(out)
		out = writer.frame
	}

	writer.buf = bufio.NewWriterSize(out, ioBufferSize)

	if err := writer.writeHeader(session); err != nil {
		return nil, err
	}

	return writer, nil
}

func (w *Writer) writeHeader(session string) error {
	head, err := json.Marshal(struct {
		Version   int       `json:"version"`
		Session   string    `json:"session,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}{
		Version:   Version,
		Session:   session,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("tracelog: encode header: %w", err)
	}

	// Splice the events array into the header object.
	head = append(head[:len(head)-1], `,"events":[`...)

	if _, err := w.buf.Write(head); err != nil {
		return fmt.Errorf("tracelog: write header: %w", err)
	}

	return nil
}

// Append writes one event, overwriting its Seq with the next sequence number.
func (w *Writer) Append(event Event) error {
	if w.closed {
		return ErrWriterClosed
	}

	event.Seq = w.seq

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("tracelog: encode event %d: %w", event.Seq, err)
	}

	if w.seq > 0 {
		if err := w.buf.WriteByte(','); err != nil {
			return fmt.Errorf("tracelog: write event %d: %w", event.Seq, err)
		}
	}

	if _, err := w.buf.Write(raw); err != nil {
		return fmt.Errorf("tracelog: write event %d: %w", event.Seq, err)
	}

	w.seq++

	return nil
}

// Len reports how many events have been appended.
func (w *Writer) Len() int {
	return int(w.seq)
}

// Close finishes the document, flushes buffered output and closes the owned
// file, if any. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	var errs []error

	if _, err := w.buf.WriteString("]}"); err != nil {
		errs = append(errs, fmt.Errorf("tracelog: finish document: %w", err))
	}

	if err := w.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("tracelog: flush: %w", err))
	}

	if w.frame != nil {
		if err := w.frame.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tracelog: close lz4 frame: %w", err))
		}
	}

	if w.sink != nil {
		if err := w.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tracelog: close file: %w", err))
		}
	}

	return errors.Join(errs...)
}

// WriteTrace writes a complete trace to path in one call, preserving the
// trace's own header fields and event sequence numbers.
func WriteTrace(path string, trace *Trace) error {
	if trace.Events == nil {
		// The schema wants an array, not null.
		clone := *trace
		clone.Events = []Event{}
		trace = &clone
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tracelog: create %s: %w", path, err)
	}

	var out io.Writer = file

	var frame *lz4.Writer

	if strings.HasSuffix(path, CompressedExtension) {
		frame = lz4.NewWriter(file)
		out = frame
	}

	encodeErr := json.NewEncoder(out).Encode(trace)

	var errs []error

	if encodeErr != nil {
		errs = append(errs, fmt.Errorf("tracelog: encode trace: %w", encodeErr))
	}

	if frame != nil {
		if err := frame.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tracelog: close lz4 frame: %w", err))
		}
	}

	if err := file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("tracelog: close file: %w", err))
	}

	return errors.Join(errs...)
}
