package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
)

// handleDiff processes vmtrack_diff tool calls.
func handleDiff(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input DiffInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateFilePath(input.OldPath, ErrEmptyBaselinePath); err != nil {
		return errorResult(err)
	}

	if err := validateFilePath(input.NewPath, ErrEmptyBaselinePath); err != nil {
		return errorResult(err)
	}

	oldBase, err := baseline.ReadFile(input.OldPath, baseline.CodecForPath(input.OldPath))
	if err != nil {
		return errorResult(fmt.Errorf("read old baseline: %w", err))
	}

	newBase, err := baseline.ReadFile(input.NewPath, baseline.CodecForPath(input.NewPath))
	if err != nil {
		return errorResult(fmt.Errorf("read new baseline: %w", err))
	}

	return jsonResult(baseline.Compare(oldBase, newBase))
}
