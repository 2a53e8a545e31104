package tracelog

import (
	"time"

	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
)

// SynthSpec configures Synthesize. Zero values select the defaults.
type SynthSpec struct {
	Session string
	Seed    uint64
	// Regions is the number of reservations laid out before churn starts.
	Regions int
	// Churn is the number of mutation rounds run across those reservations.
	Churn int
}

const (
	defaultSynthRegions = 8
	defaultSynthChurn   = 64

	synthPage uint64 = 0x1000
	synthSlot uint64 = 0x200000
	synthBase uint64 = 0x7f0000000000

	synthMinPages = 4
	synthMaxPages = 32
)

// synthTags is the tag palette reservations cycle through.
var synthTags = []memtag.Tag{
	memtag.TagHeap,
	memtag.TagCode,
	memtag.TagGC,
	memtag.TagArena,
	memtag.TagThreadStack,
	memtag.TagMetadata,
	memtag.TagRuntime,
	memtag.TagInternal,
}

var synthFrames = [][]string{
	{"os_reserve_memory", "virtual_space_expand", "main"},
	{"os_commit_memory", "arena_grow", "main"},
	{"heap_region_allocate", "collector_setup", "main"},
	{"codecache_expand", "compiler_thread", "main"},
	{"stack_guard_pages", "thread_start", "main"},
}

// splitmix64 is a fast, non-cryptographic PRNG giving Synthesize stable
// output for a given seed. It avoids math/rand which triggers gosec G404.
type splitmix64 struct {
	state uint64
}

// splitmix64 mixing constants.
const (
	splitmixInc    = 0x9e3779b97f4a7c15
	splitmixMix1   = 0xbf58476d1ce4e5b9
	splitmixMix2   = 0x94d049bb133111eb
	splitmixShift1 = 30
	splitmixShift2 = 27
	splitmixShift3 = 31
)

func (r *splitmix64) next() uint64 {
	r.state += splitmixInc

	z := r.state
	z = (z ^ (z >> splitmixShift1)) * splitmixMix1
	z = (z ^ (z >> splitmixShift2)) * splitmixMix2

	return z ^ (z >> splitmixShift3)
}

// intn returns a pseudo-random int in [0, n).
func (r *splitmix64) intn(n int) int {
	return int(r.next()>>1) % n
}

// synthRegion mirrors one live reservation while the generator runs.
type synthRegion struct {
	base uint64
	size uint64
	tag  memtag.Tag
}

// Synthesize builds a deterministic well-formed trace: reservations first,
// then churn rounds of commits, uncommits, retags, splits and
// release-and-reserve cycles, each landing inside a live reservation.
func Synthesize(spec SynthSpec) *Trace {
	if spec.Regions <= 0 {
		spec.Regions = defaultSynthRegions
	}

	if spec.Churn <= 0 {
		spec.Churn = defaultSynthChurn
	}

	if spec.Session == "" {
		spec.Session = "synthetic"
	}

	gen := &synthesizer{rng: splitmix64{state: spec.Seed}}

	for slot := range spec.Regions {
		gen.reserveSlot(slot)
	}

	for range spec.Churn {
		gen.churn()
	}

	return &Trace{
		Version:   Version,
		Session:   spec.Session,
		CreatedAt: time.Unix(0, 0).UTC(),
		Events:    gen.events,
	}
}

type synthesizer struct {
	rng     splitmix64
	regions []synthRegion
	events  []Event
}

func (g *synthesizer) emit(event Event) {
	event.Seq = uint64(len(g.events)) //nolint:gosec // event counts are non-negative
	g.events = append(g.events, event)
}

func (g *synthesizer) stack() []string {
	return synthFrames[g.rng.intn(len(synthFrames))]
}

func (g *synthesizer) tag() memtag.Tag {
	return synthTags[g.rng.intn(len(synthTags))]
}

// reserveSlot lays a fresh reservation into slot and records it.
func (g *synthesizer) reserveSlot(slot int) {
	pages := synthMinPages + g.rng.intn(synthMaxPages-synthMinPages+1)
	rgn := synthRegion{
		base: synthBase + uint64(slot)*synthSlot, //nolint:gosec // slot is small and non-negative
		size: uint64(pages) * synthPage,          //nolint:gosec // pages is small and positive
		tag:  g.tag(),
	}

	g.regions = append(g.regions, rgn)
	g.emit(Event{Op: OpReserve, Addr: rgn.base, Size: rgn.size, Tag: rgn.tag, Stack: g.stack()})
}

// pageRange picks a page-aligned subrange of rgn.
func (g *synthesizer) pageRange(rgn synthRegion) (addr, size uint64) {
	pages := int(rgn.size / synthPage)
	start := g.rng.intn(pages)
	length := 1 + g.rng.intn(pages-start)

	return rgn.base + uint64(start)*synthPage, uint64(length) * synthPage //nolint:gosec // page counts are small
}

func (g *synthesizer) churn() {
	idx := g.rng.intn(len(g.regions))
	rgn := g.regions[idx]
	roll := g.rng.intn(100)

	switch {
	case roll < 55:
		addr, size := g.pageRange(rgn)
		g.emit(Event{Op: OpCommit, Addr: addr, Size: size, Stack: g.stack()})
	case roll < 75:
		addr, size := g.pageRange(rgn)
		g.emit(Event{Op: OpUncommit, Addr: addr, Size: size})
	case roll < 85:
		next := g.tag()
		g.regions[idx].tag = next
		g.emit(Event{Op: OpSetTag, Addr: rgn.base, Size: rgn.size, ToTag: next})
	case roll < 95 && rgn.size >= 2*synthPage:
		g.split(idx)
	default:
		g.recycle(idx)
	}
}

// split cuts the region in two at a page boundary. Both halves become plain
// reservations again, so no local commit bookkeeping is needed.
func (g *synthesizer) split(idx int) {
	rgn := g.regions[idx]
	pages := int(rgn.size / synthPage)
	offset := uint64(1+g.rng.intn(pages-1)) * synthPage //nolint:gosec // page counts are small

	upperTag := g.tag()
	g.emit(Event{Op: OpSplit, Addr: rgn.base, Size: rgn.size, Split: offset, Tag: rgn.tag, ToTag: upperTag})

	g.regions[idx].size = offset
	g.regions = append(g.regions, synthRegion{base: rgn.base + offset, size: rgn.size - offset, tag: upperTag})
}

// recycle releases the region and reserves its range again. The fresh
// reservation never outgrows the released one, so neighbouring regions
// produced by earlier splits stay untouched.
func (g *synthesizer) recycle(idx int) {
	rgn := g.regions[idx]
	g.emit(Event{Op: OpRelease, Addr: rgn.base, Size: rgn.size})

	pages := 1 + g.rng.intn(int(rgn.size/synthPage))
	fresh := synthRegion{
		base: rgn.base,
		size: uint64(pages) * synthPage, //nolint:gosec // pages is small and positive
		tag:  g.tag(),
	}

	g.regions[idx] = fresh
	g.emit(Event{Op: OpReserve, Addr: fresh.base, Size: fresh.size, Tag: fresh.tag, Stack: g.stack()})
}
