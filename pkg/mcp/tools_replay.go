package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/vmtrack/pkg/report"
	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// handleReplay processes vmtrack_replay tool calls.
func handleReplay(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ReplayInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	err := validateFilePath(input.TracePath, ErrEmptyTracePath)
	if err != nil {
		return errorResult(err)
	}

	tracker, trace, stats, err := replayTrace(ctx, input.TracePath, input.Detailed)
	if err != nil {
		return errorResult(err)
	}

	rep := report.FromSnapshot(trace.Session, tracker.SummarySnapshot()).WithReplay(stats)

	return jsonResult(rep)
}

// replayTrace loads the trace document at path and replays it into a fresh
// tracker. The decompressed document size is capped at MaxTraceBytes.
func replayTrace(
	ctx context.Context,
	path string,
	detailed bool,
) (*vmtracker.Tracker, *tracelog.Trace, tracelog.ReplayStats, error) {
	trace, err := tracelog.ReadCapped(path, MaxTraceBytes)
	if err != nil {
		return nil, nil, tracelog.ReplayStats{}, fmt.Errorf("read trace: %w", err)
	}

	tracker := vmtracker.New(detailed, nil)

	stats, err := tracelog.Replay(ctx, tracker, trace, tracelog.Hooks{})
	if err != nil {
		return nil, nil, tracelog.ReplayStats{}, fmt.Errorf("replay trace: %w", err)
	}

	return tracker, trace, stats, nil
}
