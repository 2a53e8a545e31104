// Package memtag defines the coarse memory-usage categories used to
// attribute tracked address ranges and aggregate accounting totals.
package memtag

import (
	"errors"
	"fmt"
)

// Tag is a memory-usage category. Every tracked byte range carries exactly
// one tag; per-tag totals are what summary reports aggregate.
type Tag uint8

// Memory usage categories. TagNone is the zero value so an untagged range
// needs no explicit initialization.
const (
	TagNone Tag = iota
	TagHeap
	TagThreadStack
	TagCode
	TagGC
	TagCompiler
	TagInternal
	TagSymbols
	TagRuntime
	TagArena
	TagMetadata
	TagTracking
	TagLogging
	TagArguments
	TagSynchronization
	TagTest
	TagOther

	tagLimit
)

// Count is the number of defined tags, for sizing per-tag arrays.
const Count = int(tagLimit)

// ErrUnknownTag is returned when parsing an unrecognized tag name.
var ErrUnknownTag = errors.New("unknown memory tag")

var tagNames = [Count]string{
	TagNone:            "none",
	TagHeap:            "heap",
	TagThreadStack:     "thread-stack",
	TagCode:            "code",
	TagGC:              "gc",
	TagCompiler:        "compiler",
	TagInternal:        "internal",
	TagSymbols:         "symbols",
	TagRuntime:         "runtime",
	TagArena:           "arena",
	TagMetadata:        "metadata",
	TagTracking:        "tracking",
	TagLogging:         "logging",
	TagArguments:       "arguments",
	TagSynchronization: "synchronization",
	TagTest:            "test",
	TagOther:           "other",
}

// String returns the lowercase name of the tag.
func (t Tag) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("tag(%d)", uint8(t))
	}

	return tagNames[t]
}

// IsValid reports whether t is one of the defined categories.
func (t Tag) IsValid() bool {
	return t < tagLimit
}

// MarshalText implements encoding.TextMarshaler so tags serialize as names.
func (t Tag) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: value %d", ErrUnknownTag, uint8(t))
	}

	return []byte(tagNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tag) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}

// Parse resolves a tag name produced by [Tag.String].
func Parse(name string) (Tag, error) {
	for idx, candidate := range tagNames {
		if candidate == name {
			return Tag(idx), nil //nolint:gosec // idx < Count fits uint8
		}
	}

	return TagNone, fmt.Errorf("%w: %q", ErrUnknownTag, name)
}

// All returns every defined tag in enumeration order. The result is a fresh
// slice the caller may modify.
func All() []Tag {
	tags := make([]Tag, Count)
	for idx := range tags {
		tags[idx] = Tag(idx) //nolint:gosec // idx < Count fits uint8
	}

	return tags
}
