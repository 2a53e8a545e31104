package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/pkg/baseline"
	"github.com/Sumatoshi-tech/vmtrack/pkg/report"
	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
)

// writeSynthTrace writes a small deterministic trace and returns its path
// alongside the document itself.
func writeSynthTrace(t *testing.T, name, session string) (string, *tracelog.Trace) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	trace := tracelog.Synthesize(tracelog.SynthSpec{Session: session, Seed: 5, Regions: 4, Churn: 32})
	require.NoError(t, tracelog.WriteTrace(path, trace))

	return path, trace
}

// executeCommand runs cmd with args, capturing stdout and stderr separately.
func executeCommand(cmd *cobra.Command, args ...string) (string, string, error) {
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)

	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), errOut.String(), err
}

func TestReplayCommand_Flags(t *testing.T) {
	t.Parallel()

	cmd := NewReplayCommand()
	require.NotNil(t, cmd)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	for name, def := range map[string]string{
		"format":   formatTable,
		"baseline": "",
		"detail":   "false",
		"listen":   "",
		"detailed": "false",
	} {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, "flag %s", name)
		assert.Equal(t, def, flag.DefValue, "flag %s", name)
	}
}

func TestReplayCommand_JSONReport(t *testing.T) {
	t.Parallel()

	tracePath, trace := writeSynthTrace(t, "app.json.lz4", "cli-replay")

	out, errOut, err := executeCommand(NewReplayCommand(), tracePath, "--format", "json")
	require.NoError(t, err)

	var rep report.SummaryReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))

	assert.Equal(t, "cli-replay", rep.Session)
	assert.Positive(t, rep.TotalReserved)

	require.NotNil(t, rep.Replay)
	assert.Equal(t, len(trace.Events), rep.Replay.Events)

	assert.Contains(t, errOut, "progress: replay started")
	assert.Contains(t, errOut, "progress: replayed")
}

func TestReplayCommand_TableIsDefault(t *testing.T) {
	t.Parallel()

	tracePath, _ := writeSynthTrace(t, "app.json", "cli-table")

	out, _, err := executeCommand(NewReplayCommand(), tracePath)
	require.NoError(t, err)

	assert.Contains(t, out, "session cli-table")
	assert.Contains(t, out, "TOTAL")
}

func TestReplayCommand_DetailDumpsRegions(t *testing.T) {
	t.Parallel()

	tracePath, _ := writeSynthTrace(t, "app.json", "cli-detail")

	out, _, err := executeCommand(NewReplayCommand(), tracePath, "--detail")
	require.NoError(t, err)

	assert.Contains(t, out, "reserved regions:")
	assert.Contains(t, out, "\tfrom ")
}

func TestReplayCommand_SavesBaselineFile(t *testing.T) {
	t.Parallel()

	tracePath, _ := writeSynthTrace(t, "app.json", "cli-baseline")
	basePath := filepath.Join(t.TempDir(), "after.json")

	_, errOut, err := executeCommand(NewReplayCommand(), tracePath, "--baseline", basePath)
	require.NoError(t, err)
	assert.Contains(t, errOut, "baseline saved to "+basePath)

	base, err := baseline.ReadFile(basePath, baseline.CodecForPath(basePath))
	require.NoError(t, err)
	assert.Equal(t, "cli-baseline", base.Session)
	assert.NotEmpty(t, base.Regions)
}

func TestReplayCommand_SavesNamedBaselineToConfiguredDir(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "snaps")
	t.Setenv("VMTRACK_BASELINE_DIRECTORY", baseDir)
	t.Setenv("VMTRACK_BASELINE_FORMAT", "json")

	tracePath, _ := writeSynthTrace(t, "app.json", "cli-named")

	_, errOut, err := executeCommand(NewReplayCommand(), tracePath, "--baseline", "release-1")
	require.NoError(t, err)
	assert.Contains(t, errOut, "baseline saved to ")

	base, err := baseline.Load(baseDir, "release-1", baseline.JSONCodec{})
	require.NoError(t, err)
	assert.Equal(t, "cli-named", base.Session)
}

func TestReplayCommand_ListenServesDiagnostics(t *testing.T) {
	t.Parallel()

	tracePath, _ := writeSynthTrace(t, "app.json", "cli-listen")

	_, errOut, err := executeCommand(NewReplayCommand(), tracePath, "--listen", "127.0.0.1:0")
	require.NoError(t, err)

	assert.Contains(t, errOut, "diagnostics listening on 127.0.0.1:")
}

func TestReplayCommand_MissingTraceFile(t *testing.T) {
	t.Parallel()

	_, _, err := executeCommand(NewReplayCommand(), filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
