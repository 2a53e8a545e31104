package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
	"github.com/Sumatoshi-tech/vmtrack/pkg/callstack"
	"github.com/Sumatoshi-tech/vmtrack/pkg/memtag"
	"github.com/Sumatoshi-tech/vmtrack/pkg/vmtracker"
)

// writeSampleBaseline captures one small tracker into a baseline file.
func writeSampleBaseline(t *testing.T, name, session string) string {
	t.Helper()

	tracker := vmtracker.New(true, nil)
	tracker.AddReservedRegion(0x10000, 0x4000, callstack.NewStack("mmap", "main"), memtag.TagHeap)
	tracker.AddCommittedRegion(0x10000, 0x1000, callstack.NewStack("touch"))

	path := filepath.Join(t.TempDir(), name)
	base := baseline.Capture(tracker, session)
	require.NoError(t, baseline.WriteFile(path, baseline.CodecForPath(path), base))

	return path
}

func TestReportCommand_Table(t *testing.T) {
	t.Parallel()

	path := writeSampleBaseline(t, "base.json", "report-table")

	out, _, err := executeCommand(NewReportCommand(), path)
	require.NoError(t, err)

	assert.Contains(t, out, "session report-table")
	assert.Contains(t, out, "heap")
	assert.Contains(t, out, "16 KiB")
	assert.Contains(t, out, "4.0 KiB")
}

func TestReportCommand_BinaryCodecFromExtension(t *testing.T) {
	t.Parallel()

	path := writeSampleBaseline(t, "base.vmb", "report-binary")

	out, _, err := executeCommand(NewReportCommand(), path)
	require.NoError(t, err)

	assert.Contains(t, out, "session report-binary")
	assert.Contains(t, out, "heap")
}

func TestReportCommand_YAML(t *testing.T) {
	t.Parallel()

	path := writeSampleBaseline(t, "base.json", "report-yaml")

	out, _, err := executeCommand(NewReportCommand(), path, "--format", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "session: report-yaml")
	assert.Contains(t, out, "tag: heap")
}

func TestReportCommand_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	path := writeSampleBaseline(t, "base.json", "report-bad")

	_, _, err := executeCommand(NewReportCommand(), path, "--format", "xml")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReportCommand_MissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := executeCommand(NewReportCommand(), filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
