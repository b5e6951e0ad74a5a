package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedriveAllThenResync(t *testing.T) {
	cal := newCalendarServer(t)
	cal.FailCreates(100)
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, cal.URL())
	feedPath := writeTestFeed(t, dir, testFeed)

	_, err := runCommand(t, "import", "--config", cfgPath, feedPath)
	require.NoError(t, err)
	_, err = runCommand(t, "sync", "--config", cfgPath)
	require.Error(t, err)

	out, err := runCommand(t, "redrive", "--config", cfgPath, "--format", "json", "--all")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, float64(2), dataField(t, resp, "count"))

	// Service recovered: the re-armed releases sync cleanly.
	cal.FailCreates(0)
	out, err = runCommand(t, "sync", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	resp = decodeResponse(t, out)
	assert.Equal(t, float64(2), dataField(t, resp, "created"))
	assert.Equal(t, 2, cal.EventCount())
}

func TestRedriveSingleRelease(t *testing.T) {
	cal := newCalendarServer(t)
	cal.FailCreates(100)
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, cal.URL())
	feedPath := writeTestFeed(t, dir, testFeed)

	_, err := runCommand(t, "import", "--config", cfgPath, feedPath)
	require.NoError(t, err)
	_, err = runCommand(t, "sync", "--config", cfgPath)
	require.Error(t, err)

	out, err := runCommand(t, "redrive", "--config", cfgPath, "12:episode:5:crunchyroll:2026-04-18")
	require.NoError(t, err)
	assert.Contains(t, out, "re-drove 12:episode:5:crunchyroll:2026-04-18")
}

func TestRedriveRejectsNonFailed(t *testing.T) {
	cal := newCalendarServer(t)
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, cal.URL())
	feedPath := writeTestFeed(t, dir, testFeed)

	importAndSync(t, cfgPath, feedPath)

	out, err := runCommand(t, "redrive", "--config", cfgPath, "12:episode:5:crunchyroll:2026-04-18")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E006")
}

func TestRedriveUnknownRelease(t *testing.T) {
	cal := newCalendarServer(t)
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, cal.URL())

	out, err := runCommand(t, "redrive", "--config", cfgPath, "no:such:release")
	require.Error(t, err)
	assert.Contains(t, out, "E007")
}

func TestRedriveArgValidation(t *testing.T) {
	_, err := runCommand(t, "redrive", "--all", "some-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one release id or --all")

	_, err = runCommand(t, "redrive")
	require.Error(t, err)
}
