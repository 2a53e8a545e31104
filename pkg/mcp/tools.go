package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/vmtrack/pkg/units"
)

// Tool name constants.
const (
	ToolNameReplay     = "vmtrack_replay"
	ToolNameFindRegion = "vmtrack_find_region"
	ToolNameDiff       = "vmtrack_diff"
)

// Input size limits.
const (
	// MaxTraceBytes caps the decompressed size of a replayed trace document (256 MiB).
	MaxTraceBytes = 256 * units.MiB
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyTracePath indicates the trace_path parameter is empty.
	ErrEmptyTracePath = errors.New("trace_path parameter is required and must not be empty")
	// ErrEmptyBaselinePath indicates old_path or new_path is empty.
	ErrEmptyBaselinePath = errors.New("old_path and new_path parameters are required and must not be empty")
	// ErrPathNotAbsolute indicates a file path parameter is not absolute.
	ErrPathNotAbsolute = errors.New("path must be absolute")
	// ErrFileNotFound indicates a file path parameter does not exist.
	ErrFileNotFound = errors.New("file does not exist")
	// ErrBadAddress indicates the addr parameter is not a parseable address.
	ErrBadAddress = errors.New("addr must be a hex (0x-prefixed) or decimal address")
)

// Input types (auto-generate JSON schemas via struct tags).

// ReplayInput is the input schema for the vmtrack_replay tool.
type ReplayInput struct {
	Detailed  bool   `json:"detailed,omitempty" jsonschema:"retain full call stacks per region (default: summary only)"`
	TracePath string `json:"trace_path"         jsonschema:"absolute path to a trace document (.json, .json.lz4)"`
}

// FindRegionInput is the input schema for the vmtrack_find_region tool.
type FindRegionInput struct {
	Addr      string `json:"addr"       jsonschema:"address to look up, hex (e.g. 0x7f0000001000) or decimal"`
	TracePath string `json:"trace_path" jsonschema:"absolute path to a trace document to replay"`
}

// DiffInput is the input schema for the vmtrack_diff tool.
type DiffInput struct {
	NewPath string `json:"new_path" jsonschema:"absolute path to the newer baseline file (.json or .vmb)"`
	OldPath string `json:"old_path" jsonschema:"absolute path to the older baseline file (.json or .vmb)"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// validateFilePath checks that path names an existing absolute regular file.
func validateFilePath(path string, emptyErr error) error {
	if path == "" {
		return emptyErr
	}

	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrPathNotAbsolute, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}

	return nil
}

// parseAddress parses a hex (0x-prefixed) or decimal address parameter.
func parseAddress(addr string) (uint64, error) {
	if addr == "" {
		return 0, ErrBadAddress
	}

	value, err := strconv.ParseUint(addr, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}

	return value, nil
}
