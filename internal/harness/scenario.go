package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relwatch/relwatch/internal/release"
)

// Scenario is one declarative conformance test.
type Scenario struct {
	// Name identifies the scenario; it doubles as the golden file name.
	Name string `yaml:"name"`

	// Description explains what behavior the scenario pins down.
	Description string `yaml:"description"`

	// Works lists the tracked titles the releases belong to.
	Works []ScenarioWork `yaml:"works"`

	// Cycles are executed in order. Each cycle may first upsert
	// releases (new ones or mutated versions of earlier ones) and
	// script calendar failures, then runs one full scheduler cycle.
	Cycles []CycleStep `yaml:"cycles"`

	// Assertions are checked after the last cycle.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ScenarioWork mirrors release.Work in YAML form.
type ScenarioWork struct {
	ID    int64  `yaml:"id"`
	Title string `yaml:"title"`
	Kind  string `yaml:"kind"`
}

// ScenarioRelease is a release record in YAML form. Re-listing a release
// with the same identity in a later cycle upserts its attributes, which is
// how scenarios express retitles, content changes, and cancellations.
type ScenarioRelease struct {
	WorkID    int64  `yaml:"work_id"`
	Type      string `yaml:"type"`
	Number    int    `yaml:"number"`
	Platform  string `yaml:"platform"`
	Date      string `yaml:"date"` // yyyy-mm-dd
	Title     string `yaml:"title"`
	SourceURL string `yaml:"source_url"`
	// RFC 3339, optional.
	ContentChangedAt string `yaml:"content_changed_at"`
	CancelledAt      string `yaml:"cancelled_at"`
}

// CycleStep is one scheduler cycle plus its preconditions.
type CycleStep struct {
	// Token is the fixed cycle token; audit records correlate on it.
	Token string `yaml:"token"`

	// Releases are upserted before the cycle runs.
	Releases []ScenarioRelease `yaml:"releases,omitempty"`

	// Failures are scripted into the fake calendar before the cycle.
	Failures []Failure `yaml:"failures,omitempty"`

	// Expect checks the cycle report. Nil skips the check.
	Expect *ExpectReport `yaml:"expect,omitempty"`
}

// Failure scripts calendar misbehavior for upcoming calls.
type Failure struct {
	// Op is the operation to fail: create, update, delete, or lookup.
	Op string `yaml:"op"`

	// Fail names the failure mode: an HTTP status ("500", "429", "404",
	// "410", "400") or "timeout" / "timeout-landed". The landed variant
	// returns a timeout while the side effect goes through, simulating a
	// response lost in flight.
	Fail string `yaml:"fail"`

	// Times repeats the failure for that many consecutive calls.
	// Defaults to 1.
	Times int `yaml:"times,omitempty"`
}

// ExpectReport is a subset check of one cycle report. Only non-nil fields
// are compared.
type ExpectReport struct {
	Pending *int `yaml:"pending,omitempty"`
	Created *int `yaml:"created,omitempty"`
	Adopted *int `yaml:"adopted,omitempty"`
	Updated *int `yaml:"updated,omitempty"`
	Deleted *int `yaml:"deleted,omitempty"`
	Failed  *int `yaml:"failed,omitempty"`
	Skipped *int `yaml:"skipped,omitempty"`
}

// Assertion validates final state after the last cycle.
type Assertion struct {
	// Type is one of the Assert* constants below.
	Type string `yaml:"type"`

	// Release is the canonical release id (status, trail_count).
	Release string `yaml:"release,omitempty"`

	// Expect is the expected status (status).
	Expect string `yaml:"expect,omitempty"`

	// Count is the expected number (event_count, trail_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	// AssertStatus checks a release's final sync status.
	AssertStatus = "status"
	// AssertEventCount checks how many events the calendar holds.
	AssertEventCount = "event_count"
	// AssertTrailCount checks how many audit records a release has.
	AssertTrailCount = "trail_count"
)

var failureModes = map[string]bool{
	"500": true, "429": true, "404": true, "410": true, "400": true,
	"timeout": true, "timeout-landed": true,
}

var failureOps = map[string]bool{
	"create": true, "update": true, "delete": true, "lookup": true,
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// LoadScenarios reads every *.yaml scenario in a directory, sorted by
// file name so suites run in a stable order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	scenarios := make([]*Scenario, 0, len(matches))
	for _, path := range matches {
		sc, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// Validate checks structural soundness before anything executes.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Cycles) == 0 {
		return fmt.Errorf("at least one cycle is required")
	}

	known := make(map[int64]bool, len(s.Works))
	for i, w := range s.Works {
		if w.ID <= 0 {
			return fmt.Errorf("work[%d]: id must be positive", i)
		}
		if w.Title == "" {
			return fmt.Errorf("work[%d]: title is required", i)
		}
		known[w.ID] = true
	}

	seen := make(map[string]bool, len(s.Cycles))
	for i, c := range s.Cycles {
		if c.Token == "" {
			return fmt.Errorf("cycle[%d]: token is required", i)
		}
		if seen[c.Token] {
			return fmt.Errorf("cycle[%d]: duplicate token %q", i, c.Token)
		}
		seen[c.Token] = true

		for j, sr := range c.Releases {
			r, err := sr.toRelease()
			if err != nil {
				return fmt.Errorf("cycle[%d] release[%d]: %w", i, j, err)
			}
			if !known[r.WorkID] {
				return fmt.Errorf("cycle[%d] release[%d]: work %d not declared", i, j, r.WorkID)
			}
		}
		for j, f := range c.Failures {
			if !failureOps[f.Op] {
				return fmt.Errorf("cycle[%d] failure[%d]: unknown op %q", i, j, f.Op)
			}
			if !failureModes[f.Fail] {
				return fmt.Errorf("cycle[%d] failure[%d]: unknown mode %q", i, j, f.Fail)
			}
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertStatus:
			if a.Release == "" || a.Expect == "" {
				return fmt.Errorf("assertion[%d]: status needs release and expect", i)
			}
		case AssertEventCount:
		case AssertTrailCount:
			if a.Release == "" {
				return fmt.Errorf("assertion[%d]: trail_count needs release", i)
			}
		default:
			return fmt.Errorf("assertion[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}

func (sr ScenarioRelease) toRelease() (release.Release, error) {
	date, err := time.ParseInLocation("2006-01-02", sr.Date, time.UTC)
	if err != nil {
		return release.Release{}, fmt.Errorf("bad date %q: %w", sr.Date, err)
	}

	r := release.Release{
		WorkID:    sr.WorkID,
		Type:      release.Type(sr.Type),
		Number:    sr.Number,
		Platform:  sr.Platform,
		Date:      date,
		Title:     sr.Title,
		SourceURL: sr.SourceURL,
	}
	if sr.ContentChangedAt != "" {
		t, err := time.Parse(time.RFC3339, sr.ContentChangedAt)
		if err != nil {
			return release.Release{}, fmt.Errorf("bad content_changed_at: %w", err)
		}
		r.ContentChangedAt = &t
	}
	if sr.CancelledAt != "" {
		t, err := time.Parse(time.RFC3339, sr.CancelledAt)
		if err != nil {
			return release.Release{}, fmt.Errorf("bad cancelled_at: %w", err)
		}
		r.CancelledAt = &t
	}
	return r, r.Validate()
}
