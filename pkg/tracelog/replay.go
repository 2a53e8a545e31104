package tracelog

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/vmtrack/pkg/callstack"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmatree"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// Hooks observes replay progress. All fields are optional.
type Hooks struct {
	// AfterEvent runs after each applied event with the summary delta that
	// event produced. Split events report a zero delta.
	AfterEvent func(event Event, delta vmatree.SummaryDelta)
}

// ReplayStats aggregates one replay run.
type ReplayStats struct {
	// Events counts successfully applied events.
	Events int
	// ByOp counts applied events per operation.
	ByOp map[Op]int
	// Delta is the merged summary movement of the whole run.
	Delta vmatree.SummaryDelta
}

// Replay applies every trace event to tracker in order, checking ctx between
// events. A malformed event aborts the replay; the returned stats cover the
// events applied up to that point.
func Replay(ctx context.Context, tracker *vmtracker.Tracker, trace *Trace, hooks Hooks) (ReplayStats, error) {
	stats := ReplayStats{ByOp: make(map[Op]int, 6)}

	for _, event := range trace.Events {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("tracelog: replay interrupted at event %d: %w", event.Seq, err)
		}

		delta, err := applyEvent(tracker, event)
		if err != nil {
			return stats, err
		}

		stats.Events++
		stats.ByOp[event.Op]++
		stats.Delta.Merge(&delta)

		if hooks.AfterEvent != nil {
			hooks.AfterEvent(event, delta)
		}
	}

	return stats, nil
}

// applyEvent routes one event through the tracker facade. Events are checked
// first: the tracker treats impossible requests as programmer errors and
// panics, while a trace file is outside input and must fail softly.
func applyEvent(tracker *vmtracker.Tracker, event Event) (vmatree.SummaryDelta, error) {
	if err := checkEvent(tracker, event); err != nil {
		return vmatree.SummaryDelta{}, err
	}

	stack := callstack.NewStack(event.Stack...)

	switch event.Op {
	case OpReserve:
		return tracker.AddReservedRegion(event.Addr, event.Size, stack, event.Tag), nil
	case OpCommit:
		return tracker.AddCommittedRegion(event.Addr, event.Size, stack), nil
	case OpUncommit:
		return tracker.RemoveUncommittedRegion(event.Addr, event.Size), nil
	case OpRelease:
		return tracker.RemoveReleasedRegion(event.Addr, event.Size), nil
	case OpSetTag:
		return tracker.SetReservedRegionTag(event.Addr, event.Size, event.ToTag), nil
	case OpSplit:
		tracker.SplitReservedRegion(event.Addr, event.Size, event.Split, event.Tag, event.ToTag)

		return vmatree.SummaryDelta{}, nil
	default:
		return vmatree.SummaryDelta{}, fmt.Errorf("%w: %q at event %d", ErrUnknownOp, event.Op, event.Seq)
	}
}

func checkEvent(tracker *vmtracker.Tracker, event Event) error {
	if event.Size == 0 {
		return fmt.Errorf("%w: event %d has zero size", ErrBadEvent, event.Seq)
	}

	if event.Addr+event.Size < event.Addr {
		return fmt.Errorf("%w: event %d wraps the address space", ErrBadEvent, event.Seq)
	}

	switch event.Op {
	case OpCommit, OpUncommit:
		rgn := tracker.FindReservedRegion(event.Addr)
		if !rgn.IsValid() || event.Addr+event.Size > rgn.End() {
			return fmt.Errorf("%w: event %d [0x%x, 0x%x)",
				ErrNoReservation, event.Seq, event.Addr, event.Addr+event.Size)
		}
	case OpSplit:
		if event.Split == 0 || event.Split >= event.Size {
			return fmt.Errorf("%w: event %d split offset %d outside (0, %d)",
				ErrBadEvent, event.Seq, event.Split, event.Size)
		}
	case OpReserve, OpRelease, OpSetTag:
	}

	return nil
}
