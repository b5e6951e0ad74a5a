package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relwatch/relwatch/internal/calendar"
)

// calendarServer is an in-memory calendar service for command tests.
type calendarServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	nextID int
	events map[string]calendar.EventPayload

	// failCreates makes the next N create calls answer 500.
	failCreates int
}

func newCalendarServer(t *testing.T) *calendarServer {
	t.Helper()
	cs := &calendarServer{events: make(map[string]calendar.EventPayload)}
	cs.srv = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *calendarServer) URL() string { return cs.srv.URL }

func (cs *calendarServer) EventCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.events)
}

func (cs *calendarServer) FailCreates(n int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.failCreates = n
}

func (cs *calendarServer) handle(w http.ResponseWriter, r *http.Request) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/events/lookup":
		fp := r.URL.Query().Get("fingerprint")
		for id, p := range cs.events {
			if p.Fingerprint == fp {
				json.NewEncoder(w).Encode(map[string]string{"id": id})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})

	case r.Method == http.MethodPost && r.URL.Path == "/events":
		if cs.failCreates > 0 {
			cs.failCreates--
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "backend down"})
			return
		}
		var p calendar.EventPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cs.nextID++
		id := fmt.Sprintf("evt-%d", cs.nextID)
		cs.events[id] = p
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": id})

	case strings.HasPrefix(r.URL.Path, "/events/"):
		id := strings.TrimPrefix(r.URL.Path, "/events/")
		switch r.Method {
		case http.MethodPut:
			if _, ok := cs.events[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var p calendar.EventPayload
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			cs.events[id] = p
		case http.MethodDelete:
			if _, ok := cs.events[id]; !ok {
				w.WriteHeader(http.StatusGone)
				return
			}
			delete(cs.events, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// writeTestConfig writes a config file pointing at a temp database and the
// given calendar URL, with fast backoffs and no rate limit.
func writeTestConfig(t *testing.T, dir, baseURL string) (cfgPath, dbPath string) {
	t.Helper()
	dbPath = filepath.Join(dir, "relwatch.db")
	cfgPath = filepath.Join(dir, "relwatch.yaml")

	cfg := fmt.Sprintf(`database:
  path: %q
calendar:
  base_url: %q
  token: test-token
  timeout: 5s
retry:
  max_retries: 3
  base_backoff: 1ms
  max_backoff: 5ms
  cooldown: 1ms
rate_limit:
  max_calls: 0
scheduler:
  batch_size: 10
  concurrency: 2
log_level: error
`, dbPath, baseURL)

	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, dbPath
}

const testFeed = `works:
  - id: 12
    title: "Frieren: Beyond Journey's End"
    kind: anime
releases:
  - work_id: 12
    type: episode
    number: 5
    platform: Crunchyroll
    date: 2026-04-18
    title: "The Village of the Sword"
    source_url: https://example.com/frieren/5
  - work_id: 12
    type: episode
    number: 6
    platform: Crunchyroll
    date: 2026-04-25
`

func writeTestFeed(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "feed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runCommand executes the CLI with the given args and returns stdout along
// with Execute's error.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &strings.Builder{}
	errBuf := &strings.Builder{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// decodeResponse unmarshals a JSON-format CLI response.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

// dataField digs a field out of resp.Data (a decoded JSON object).
func dataField(t *testing.T, resp CLIResponse, key string) any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m[key]
}
