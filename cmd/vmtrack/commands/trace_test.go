package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
)

func TestTraceSynthCommand_WritesReplayableTrace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "synth.json.lz4")

	_, errOut, err := executeCommand(NewTraceCommand(),
		"synth", "-o", path, "--session", "synthcheck", "--seed", "9", "--regions", "6", "--churn", "80")
	require.NoError(t, err)
	assert.Contains(t, errOut, "synthesized")

	trace, err := tracelog.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "synthcheck", trace.Session)
	assert.NotEmpty(t, trace.Events)
}

func TestTraceSynthCommand_SameSeedSameDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.json")

	_, _, err := executeCommand(NewTraceCommand(), "synth", "-o", first, "--seed", "21")
	require.NoError(t, err)

	_, _, err = executeCommand(NewTraceCommand(), "synth", "-o", second, "--seed", "21")
	require.NoError(t, err)

	firstBytes, err := os.ReadFile(first)
	require.NoError(t, err)

	secondBytes, err := os.ReadFile(second)
	require.NoError(t, err)

	assert.Equal(t, firstBytes, secondBytes)
}

func TestTraceValidateCommand_ValidDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "valid.json.lz4")
	trace := tracelog.Synthesize(tracelog.SynthSpec{Session: "validated", Seed: 2, Regions: 3, Churn: 20})
	require.NoError(t, tracelog.WriteTrace(path, trace))

	out, _, err := executeCommand(NewTraceCommand(), "validate", path)
	require.NoError(t, err)

	assert.Contains(t, out, "trace is valid")
	assert.Contains(t, out, "session: validated")
	assert.Contains(t, out, "events:")
}

func TestTraceValidateCommand_InvalidDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 1}`), 0o600))

	out, _, err := executeCommand(NewTraceCommand(), "validate", path)
	require.ErrorIs(t, err, tracelog.ErrInvalidTrace)

	assert.Contains(t, out, "trace validation failed")
	assert.Contains(t, out, "events")
}

func TestTraceValidateCommand_CustomSchema(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "anything.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type": "object"}`), 0o600))

	tracePath := filepath.Join(dir, "minimal.json")
	require.NoError(t, os.WriteFile(tracePath, []byte(`{"version": 1, "events": []}`), 0o600))

	out, _, err := executeCommand(NewTraceCommand(), "validate", "--schema", schemaPath, tracePath)
	require.NoError(t, err)

	assert.Contains(t, out, "trace is valid")
	assert.Contains(t, out, "events: 0")
}

func TestTraceCommand_Subcommands(t *testing.T) {
	t.Parallel()

	cmd := NewTraceCommand()

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.Contains(t, names, "validate")
	assert.Contains(t, names, "synth")
}
