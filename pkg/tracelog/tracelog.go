// Package tracelog records and replays virtual memory operation traces.
//
// A trace is a JSON document carrying an ordered list of events, one per
// tracker mutation. Traces written with an .lz4 suffix are wrapped in an
// LZ4 frame; Read sniffs the frame magic and decompresses transparently.
// Every trace read from disk is validated against the embedded JSON schema
// before it is decoded.
package tracelog

import (
	"errors"
	"time"

	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
)

// Version is the trace document version this package writes and accepts.
const Version = 1

// Op identifies one kind of tracker mutation.
type Op string

// Operations recognised in trace events.
const (
	OpReserve  Op = "reserve"
	OpCommit   Op = "commit"
	OpUncommit Op = "uncommit"
	OpRelease  Op = "release"
	OpSetTag   Op = "set-tag"
	OpSplit    Op = "split"
)

// Event is a single recorded tracker mutation.
//
// Addr and Size describe the affected range for every operation. Tag names
// the memory tag for reserve and split events, ToTag the new tag for set-tag
// events and the tag of the upper half for split events. Split holds the
// offset of the split point relative to Addr. Stack carries the recording
// call site, innermost frame first.
type Event struct {
	Seq   uint64     `json:"seq"`
	Op    Op         `json:"op"`
	Addr  uint64     `json:"addr"`
	Size  uint64     `json:"size"`
	Tag   memtag.Tag `json:"tag,omitempty"`
	Stack []string   `json:"stack,omitempty"`
	Split uint64     `json:"split,omitempty"`
	ToTag memtag.Tag `json:"to_tag,omitempty"`
}

// Trace is a complete recorded session.
type Trace struct {
	Version   int       `json:"version"`
	Session   string    `json:"session,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Events    []Event   `json:"events"`
}

// Errors reported by trace readers and the replayer.
var (
	ErrInvalidTrace       = errors.New("tracelog: trace violates schema")
	ErrUnsupportedVersion = errors.New("tracelog: unsupported trace version")
	ErrTraceTooLarge      = errors.New("tracelog: trace too large")
	ErrWriterClosed       = errors.New("tracelog: writer is closed")
	ErrUnknownOp          = errors.New("tracelog: unknown operation")
	ErrBadEvent           = errors.New("tracelog: malformed event")
	ErrNoReservation      = errors.New("tracelog: no reservation encloses event range")
)
