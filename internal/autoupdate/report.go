package autoupdate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrReportCorrupted is returned when a report file cannot be parsed
var ErrReportCorrupted = errors.New("report file is corrupted")

// Outcome is the result of one update attempt for one app.
type Outcome string

// Outcome constants
const (
	OutcomeUpToDate       Outcome = "up-to-date"
	OutcomeUpdated        Outcome = "updated"
	OutcomeHashRefreshed  Outcome = "hash-refreshed"
	OutcomeCheckFailed    Outcome = "check-failed"
	OutcomeDownloadFailed Outcome = "download-failed"
	OutcomeHashFailed     Outcome = "hash-failed"
	OutcomeParseFailed    Outcome = "parse-failed"
	OutcomeWriteFailed    Outcome = "write-failed"
	OutcomeSkipped        Outcome = "skipped"
)

// ValidOutcomes returns all outcomes in reporting order
func ValidOutcomes() []Outcome {
	return []Outcome{
		OutcomeUpdated, OutcomeHashRefreshed, OutcomeUpToDate, OutcomeSkipped, OutcomeCheckFailed,
		OutcomeDownloadFailed, OutcomeHashFailed, OutcomeParseFailed, OutcomeWriteFailed,
	}
}

// IsValidOutcome checks if an outcome is known
func IsValidOutcome(o Outcome) bool {
	for _, valid := range ValidOutcomes() {
		if o == valid {
			return true
		}
	}
	return false
}

// Failed reports whether the outcome counts as a failure
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeCheckFailed, OutcomeDownloadFailed, OutcomeHashFailed, OutcomeParseFailed, OutcomeWriteFailed:
		return true
	default:
		return false
	}
}

// Result is the per-app record of a run.
type Result struct {
	// App is the manifest name
	App string `json:"app"`
	// Outcome is what happened to the manifest
	Outcome Outcome `json:"outcome"`
	// Current is the version found in the manifest before the run
	Current string `json:"current_version,omitempty"`
	// Latest is the discovered upstream version, when the check succeeded
	Latest string `json:"latest_version,omitempty"`
	// Error is the failure message for failed outcomes
	Error string `json:"error,omitempty"`
	// Err is the failure itself, for errors.Is classification
	Err error `json:"-"`
}

// Summary aggregates the results of one run, sorted by app name.
type Summary struct {
	RunID      string
	Bucket     string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
}

// sortResults orders results by app name so output is independent of scheduling
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].App < results[j].App
	})
}

// Counts returns how many apps ended in each outcome
func (s *Summary) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, r := range s.Results {
		counts[r.Outcome]++
	}
	return counts
}

// Failures returns the number of failed apps
func (s *Summary) Failures() int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome.Failed() {
			n++
		}
	}
	return n
}

// Updated returns the names of apps whose manifest changed, either to a new
// version or to a corrected hash
func (s *Summary) Updated() []string {
	var names []string
	for _, r := range s.Results {
		if r.Outcome == OutcomeUpdated || r.Outcome == OutcomeHashRefreshed {
			names = append(names, r.App)
		}
	}
	return names
}

// Get returns the result for an app
func (s *Summary) Get(app string) (Result, bool) {
	for _, r := range s.Results {
		if r.App == app {
			return r, true
		}
	}
	return Result{}, false
}

// Report is the JSON document written after a run.
type Report struct {
	RunID      string          `json:"run_id"`
	Bucket     string          `json:"bucket"`
	DryRun     bool            `json:"dry_run"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Counts     map[Outcome]int `json:"counts"`
	Results    []Result        `json:"results"`
}

// NewReport builds the report of a summary
func NewReport(s *Summary) *Report {
	results := s.Results
	if results == nil {
		results = []Result{}
	}
	return &Report{
		RunID:      s.RunID,
		Bucket:     s.Bucket,
		DryRun:     s.DryRun,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Counts:     s.Counts(),
		Results:    results,
	}
}

// Save writes the report to path atomically (temp file then rename).
func (r *Report) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Save
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReportCorrupted, err)
	}
	for _, res := range r.Results {
		if !IsValidOutcome(res.Outcome) {
			return nil, fmt.Errorf("%w: unknown outcome %q for %s", ErrReportCorrupted, res.Outcome, res.App)
		}
	}
	return &r, nil
}
