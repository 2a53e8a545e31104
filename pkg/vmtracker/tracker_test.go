package vmtracker

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/pkg/callstack"
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/regions"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmatree"
)

func debugLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	return logger, buf
}

func TestAddReservedRegionAccounts(t *testing.T) {
	t.Parallel()

	tracker := New(true, nil)

	delta := tracker.AddReservedRegion(1000, 100, callstack.NewStack("mmap"), memtag.TagHeap)

	assert.Equal(t, vmatree.TagDelta{Reserved: 100, Committed: 0}, delta.Tag(memtag.TagHeap))

	vm := tracker.Summary().ByTag(memtag.TagHeap)
	assert.Equal(t, int64(100), vm.Reserved())
	assert.Zero(t, vm.Committed())
	assert.Zero(t, vm.PeakCommitted())
}

func TestCommitAndUncommitTrackPeak(t *testing.T) {
	t.Parallel()

	tracker := New(true, nil)
	tracker.AddReservedRegion(1000, 100, callstack.NewStack("mmap"), memtag.TagHeap)

	tracker.AddCommittedRegion(1010, 40, callstack.NewStack("commit"))

	vm := tracker.Summary().ByTag(memtag.TagHeap)
	assert.Equal(t, int64(40), vm.Committed())
	assert.Equal(t, int64(40), vm.PeakCommitted())

	tracker.RemoveUncommittedRegion(1010, 40)
	assert.Zero(t, vm.Committed())
	assert.Equal(t, int64(40), vm.PeakCommitted())

	tracker.AddCommittedRegion(1010, 10, callstack.NewStack("commit"))
	assert.Equal(t, int64(10), vm.Committed())
	assert.Equal(t, int64(40), vm.PeakCommitted())

	tracker.AddCommittedRegion(1020, 60, callstack.NewStack("commit"))
	assert.Equal(t, int64(70), vm.Committed())
	assert.Equal(t, int64(70), vm.PeakCommitted())
}

func TestReleaseRestoresSummary(t *testing.T) {
	t.Parallel()

	logger, buf := debugLogger()
	tracker := New(true, logger)

	tracker.AddReservedRegion(1000, 100, callstack.NewStack("mmap"), memtag.TagHeap)
	tracker.AddCommittedRegion(1020, 30, callstack.NewStack("commit"))
	tracker.RemoveReleasedRegion(1000, 100)

	vm := tracker.Summary().ByTag(memtag.TagHeap)
	assert.Zero(t, vm.Reserved())
	assert.Zero(t, vm.Committed())
	assert.Equal(t, int64(30), vm.PeakCommitted())
	assert.Zero(t, tracker.BreakpointCount())
	assert.NotContains(t, buf.String(), "summary mismatch")
}

func TestSetReservedRegionTagMovesCounters(t *testing.T) {
	t.Parallel()

	logger, buf := debugLogger()
	tracker := New(true, logger)

	tracker.AddReservedRegion(1000, 100, callstack.NewStack("mmap"), memtag.TagHeap)
	tracker.AddCommittedRegion(1020, 30, callstack.NewStack("commit"))

	delta := tracker.SetReservedRegionTag(1000, 100, memtag.TagCode)

	assert.Equal(t, vmatree.TagDelta{Reserved: -100, Committed: -30}, delta.Tag(memtag.TagHeap))
	assert.Equal(t, vmatree.TagDelta{Reserved: 100, Committed: 30}, delta.Tag(memtag.TagCode))

	heap := tracker.Summary().ByTag(memtag.TagHeap)
	code := tracker.Summary().ByTag(memtag.TagCode)
	assert.Zero(t, heap.Reserved())
	assert.Zero(t, heap.Committed())
	assert.Equal(t, int64(30), heap.PeakCommitted())
	assert.Equal(t, int64(100), code.Reserved())
	assert.Equal(t, int64(30), code.Committed())
	assert.Equal(t, int64(30), code.PeakCommitted())
	assert.NotContains(t, buf.String(), "summary mismatch")

	// The retag must not fragment the region.
	captured := tracker.CaptureRegions()
	require.Len(t, captured, 1)
	assert.Equal(t, memtag.TagCode, captured[0].Region.Tag)
	assert.Equal(t, uint64(100), captured[0].Region.Size)
}

func TestSplitReservedRegionPreservesTotals(t *testing.T) {
	t.Parallel()

	tracker := New(true, nil)
	tracker.AddReservedRegion(1000, 100, callstack.NewStack("mmap"), memtag.TagHeap)

	tracker.SplitReservedRegion(1000, 100, 60, memtag.TagHeap, memtag.TagThreadStack)

	assert.Equal(t, int64(60), tracker.Summary().ByTag(memtag.TagHeap).Reserved())
	assert.Equal(t, int64(40), tracker.Summary().ByTag(memtag.TagThreadStack).Reserved())

	captured := tracker.CaptureRegions()
	require.Len(t, captured, 2)
	assert.Equal(t, regions.ReservedRegion{Base: 1000, Size: 60, Tag: memtag.TagHeap, Stack: callstack.EmptyStack()}, captured[0].Region)
	assert.Equal(t, regions.ReservedRegion{Base: 1060, Size: 40, Tag: memtag.TagThreadStack, Stack: callstack.EmptyStack()}, captured[1].Region)
}

func TestCaptureRegionsPairsCommittedRuns(t *testing.T) {
	t.Parallel()

	tracker := New(true, nil)
	tracker.AddReservedRegion(1000, 100, callstack.NewStack("mmap a"), memtag.TagHeap)
	tracker.AddReservedRegion(2000, 100, callstack.NewStack("mmap b"), memtag.TagCode)
	tracker.AddCommittedRegion(1010, 20, callstack.NewStack("commit a"))
	tracker.AddCommittedRegion(2050, 50, callstack.NewStack("commit b"))

	captured := tracker.CaptureRegions()
	require.Len(t, captured, 2)

	require.Len(t, captured[0].Committed, 1)
	assert.Equal(t, uint64(1010), captured[0].Committed[0].Base)
	assert.Equal(t, uint64(20), captured[0].Committed[0].Size)

	require.Len(t, captured[1].Committed, 1)
	assert.Equal(t, uint64(2050), captured[1].Committed[0].Base)
	assert.Equal(t, uint64(50), captured[1].Committed[0].Size)
}

func TestPrintContainingRegion(t *testing.T) {
	t.Parallel()

	tracker := New(true, nil)
	tracker.AddReservedRegion(0x1000, 0x100, callstack.NewStack("mmap", "arena_init"), memtag.TagArena)

	var sb strings.Builder

	require.True(t, tracker.PrintContainingRegion(0x1050, &sb))
	assert.Equal(t,
		"0x1050 in mmap'd memory region [0x1000 - 0x1100], tag arena\n"+
			"\tmmap\n"+
			"\tarena_init\n",
		sb.String())

	sb.Reset()
	assert.False(t, tracker.PrintContainingRegion(0x5000, &sb))
	assert.Empty(t, sb.String())
}

func TestPrintContainingRegionSummaryMode(t *testing.T) {
	t.Parallel()

	tracker := New(false, nil)
	tracker.AddReservedRegion(0x1000, 0x100, callstack.NewStack("mmap"), memtag.TagArena)

	var sb strings.Builder

	require.True(t, tracker.PrintContainingRegion(0x1050, &sb))
	assert.Equal(t, "0x1050 in mmap'd memory region [0x1000 - 0x1100], tag arena\n", sb.String())
}

func TestSummaryMismatchLogsAndSkips(t *testing.T) {
	t.Parallel()

	t.Run("release underflow", func(t *testing.T) {
		t.Parallel()

		logger, buf := debugLogger()
		tracker := New(true, logger)

		scratch := vmatree.New()
		scratch.ReserveMapping(1000, 100, vmatree.EmptyRegionData())
		release := scratch.ReleaseMapping(1000, 100)

		tracker.applySummaryDelta(release)

		assert.Zero(t, tracker.Summary().ByTag(memtag.TagNone).Reserved())
		assert.Contains(t, buf.String(), "summary mismatch")
		assert.Contains(t, buf.String(), "at=release")
	})

	t.Run("commit past reservation", func(t *testing.T) {
		t.Parallel()

		logger, buf := debugLogger()
		tracker := New(true, logger)

		scratch := vmatree.New()
		scratch.ReserveMapping(1000, 100, vmatree.EmptyRegionData())
		commit := scratch.CommitMapping(1000, 100, vmatree.EmptyRegionData())

		tracker.applySummaryDelta(commit)

		assert.Zero(t, tracker.Summary().ByTag(memtag.TagNone).Committed())
		assert.Contains(t, buf.String(), "at=commit")
	})

	t.Run("uncommit underflow", func(t *testing.T) {
		t.Parallel()

		logger, buf := debugLogger()
		tracker := New(true, logger)
		tracker.AddReservedRegion(1000, 100, callstack.EmptyStack(), memtag.TagNone)

		scratch := vmatree.New()
		scratch.ReserveMapping(1000, 100, vmatree.EmptyRegionData())
		scratch.CommitMapping(1000, 100, vmatree.EmptyRegionData())
		uncommit := scratch.ReserveMapping(1000, 100, vmatree.EmptyRegionData())

		tracker.applySummaryDelta(uncommit)

		assert.Zero(t, tracker.Summary().ByTag(memtag.TagNone).Committed())
		assert.Contains(t, buf.String(), "at=uncommit")
	})
}

func TestConcurrentUseIsSerialized(t *testing.T) {
	t.Parallel()

	tracker := New(false, nil)

	var wg sync.WaitGroup

	for g := range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			base := uint64(0x10000 * (g + 1))
			for i := range 50 {
				addr := base + uint64(i)*0x100
				tracker.AddReservedRegion(addr, 0x80, callstack.EmptyStack(), memtag.TagTest)
				tracker.AddCommittedRegion(addr, 0x40, callstack.EmptyStack())
				_ = tracker.SummarySnapshot()
			}
		}()
	}

	wg.Wait()

	vm := tracker.Summary().ByTag(memtag.TagTest)
	assert.Equal(t, int64(4*50*0x80), vm.Reserved())
	assert.Equal(t, int64(4*50*0x40), vm.Committed())
	assert.Equal(t, int64(4*50*0x40), vm.PeakCommitted())
}

func TestSummarySnapshotHelpers(t *testing.T) {
	t.Parallel()

	tracker := New(true, nil)
	tracker.AddReservedRegion(1000, 100, callstack.EmptyStack(), memtag.TagHeap)
	tracker.AddReservedRegion(2000, 50, callstack.EmptyStack(), memtag.TagCode)
	tracker.AddCommittedRegion(1000, 25, callstack.EmptyStack())

	snapshot := tracker.SummarySnapshot()

	require.Len(t, snapshot.Tags, memtag.Count)
	assert.Equal(t, int64(150), snapshot.TotalReserved())
	assert.Equal(t, int64(25), snapshot.TotalCommitted())
	assert.Equal(t, int64(100), snapshot.ByTag(memtag.TagHeap).Reserved)
	assert.Zero(t, snapshot.ByTag(memtag.TagGC).Reserved)

	nonZero := snapshot.NonZero()
	require.Len(t, nonZero, 2)
	assert.Equal(t, memtag.TagHeap, nonZero[0].Tag)
	assert.Equal(t, memtag.TagCode, nonZero[1].Tag)
}

func TestDumpBreakpoints(t *testing.T) {
	t.Parallel()

	tracker := New(true, nil)
	tracker.AddReservedRegion(0x1000, 0x100, callstack.EmptyStack(), memtag.TagHeap)

	var sb strings.Builder

	tracker.DumpBreakpoints(&sb)

	assert.Contains(t, sb.String(), "pos: 0x1000")
	assert.Contains(t, sb.String(), "pos: 0x1100")
}
