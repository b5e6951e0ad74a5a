package cli

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relwatch/relwatch/internal/store"
)

func TestImportFeed(t *testing.T) {
	dir := t.TempDir()
	cfgPath, dbPath := writeTestConfig(t, dir, "http://localhost:1")
	feedPath := writeTestFeed(t, dir, testFeed)

	out, err := runCommand(t, "import", "--config", cfgPath, "--format", "json", feedPath)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, float64(1), dataField(t, resp, "works"))
	assert.Equal(t, float64(2), dataField(t, resp, "releases"))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	p, err := st.GetRelease(context.Background(), "12:episode:5:crunchyroll:2026-04-18")
	require.NoError(t, err)
	assert.Equal(t, "The Village of the Sword", p.Release.Title)
	assert.Equal(t, "Frieren: Beyond Journey's End", p.Work.Title)
}

func TestImportIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfgPath, dbPath := writeTestConfig(t, dir, "http://localhost:1")
	feedPath := writeTestFeed(t, dir, testFeed)

	_, err := runCommand(t, "import", "--config", cfgPath, feedPath)
	require.NoError(t, err)
	_, err = runCommand(t, "import", "--config", cfgPath, feedPath)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	pending, err := st.NextPending(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestImportDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	cfgPath, dbPath := writeTestConfig(t, dir, "http://localhost:1")
	feedPath := writeTestFeed(t, dir, testFeed)

	out, err := runCommand(t, "import", "--config", cfgPath, "--format", "json", "--dry-run", feedPath)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, true, dataField(t, resp, "dry_run"))

	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "dry run must not create the database")
}

func TestImportRejectsUnknownWork(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, "http://localhost:1")
	feedPath := writeTestFeed(t, dir, `works:
  - id: 1
    title: "Some Work"
releases:
  - work_id: 99
    type: episode
    number: 1
    platform: hidive
    date: 2026-05-01
`)

	out, err := runCommand(t, "import", "--config", cfgPath, feedPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E005")
	assert.Contains(t, err.Error(), "work 99 not in feed")
}

func TestImportRejectsBadDate(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, "http://localhost:1")
	feedPath := writeTestFeed(t, dir, `works:
  - id: 1
    title: "Some Work"
releases:
  - work_id: 1
    type: episode
    number: 1
    platform: hidive
    date: "18 April 2026"
`)

	_, err := runCommand(t, "import", "--config", cfgPath, feedPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad date")
}

func TestImportMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeTestConfig(t, dir, "http://localhost:1")

	_, err := runCommand(t, "import", "--config", cfgPath, dir+"/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
