package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden-file shape of a scenario run: the deterministic
// audit trail plus the final statuses and calendar size.
type Snapshot struct {
	Scenario   string            `json:"scenario"`
	Trail      []TrailEvent      `json:"trail"`
	Statuses   map[string]string `json:"statuses"`
	EventCount int               `json:"event_count"`
}

// RunWithGolden executes a scenario, fails the test on any unmet
// expectation, and compares the trail snapshot against
// testdata/golden/<name>.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) {
	t.Helper()

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}
	for _, msg := range res.Errors {
		t.Errorf("scenario %s: %s", sc.Name, msg)
	}

	AssertGolden(t, sc.Name, res)
}

// AssertGolden compares an already-collected result against the named
// golden file.
func AssertGolden(t *testing.T, name string, res *Result) {
	t.Helper()

	snap := Snapshot{
		Scenario:   name,
		Trail:      res.Trail,
		Statuses:   res.Statuses,
		EventCount: res.EventCount,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// String renders a result for failure messages.
func (r *Result) String() string {
	if r.Pass {
		return fmt.Sprintf("pass (%d trail records, %d events)", len(r.Trail), r.EventCount)
	}
	return fmt.Sprintf("fail: %v", r.Errors)
}
