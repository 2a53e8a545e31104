package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/vmtrack/pkg/regions"
)

// RegionResult is the structured output of the vmtrack_find_region tool.
// Addresses are rendered in hex to match the trace document format.
type RegionResult struct {
	Addr           string            `json:"addr"`
	Base           string            `json:"base"`
	End            string            `json:"end"`
	Size           uint64            `json:"size"`
	Tag            string            `json:"tag"`
	Stack          []string          `json:"stack,omitempty"`
	Committed      []CommittedResult `json:"committed,omitempty"`
	CommittedBytes uint64            `json:"committed_bytes"`
}

// CommittedResult is one committed run inside the found region.
type CommittedResult struct {
	Base string `json:"base"`
	End  string `json:"end"`
	Size uint64 `json:"size"`
}

// handleFindRegion processes vmtrack_find_region tool calls.
func handleFindRegion(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input FindRegionInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	err := validateFilePath(input.TracePath, ErrEmptyTracePath)
	if err != nil {
		return errorResult(err)
	}

	addr, err := parseAddress(input.Addr)
	if err != nil {
		return errorResult(err)
	}

	// Region attribution is the point of the tool, so always retain stacks.
	tracker, _, _, err := replayTrace(ctx, input.TracePath, true)
	if err != nil {
		return errorResult(err)
	}

	rgn := tracker.FindReservedRegion(addr)
	if !rgn.Contains(addr) {
		return errorResult(fmt.Errorf("no reserved region contains 0x%x", addr))
	}

	result := RegionResult{
		Addr: hexAddr(addr),
		Base: hexAddr(rgn.Base),
		End:  hexAddr(rgn.End()),
		Size: rgn.Size,
		Tag:  rgn.Tag.String(),
	}

	if !rgn.Stack.IsEmpty() {
		result.Stack = rgn.Stack.Frames()
	}

	tracker.VisitCommittedRegions(rgn, func(run regions.CommittedRegion) bool {
		result.Committed = append(result.Committed, CommittedResult{
			Base: hexAddr(run.Base),
			End:  hexAddr(run.End()),
			Size: run.Size,
		})
		result.CommittedBytes += run.Size

		return true
	})

	return jsonResult(result)
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}
