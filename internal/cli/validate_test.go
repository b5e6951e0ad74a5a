package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, "http://localhost:1")

	out, err := runCommand(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "config: ok")
}

func TestValidateConfigAndFeed(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, "http://localhost:1")
	feedPath := writeTestFeed(t, dir, testFeed)

	out, err := runCommand(t, "validate", "--config", cfgPath, "--format", "json", feedPath)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, true, dataField(t, resp, "config_valid"))
	assert.Equal(t, true, dataField(t, resp, "feed_valid"))
	assert.Equal(t, float64(2), dataField(t, resp, "releases"))
}

func TestValidateRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_level: loud\n"), 0o644))

	out, err := runCommand(t, "validate", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E002")
}

func TestValidateRejectsBadFeed(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, "http://localhost:1")
	feedPath := writeTestFeed(t, dir, "releases: [{work_id: 0}]\n")

	out, err := runCommand(t, "validate", "--config", cfgPath, feedPath)
	require.Error(t, err)
	assert.Contains(t, out, "E005")
}

func TestValidateDefaultsWithoutFile(t *testing.T) {
	// No --config: built-in defaults are themselves valid.
	out, err := runCommand(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "config: ok")
}
