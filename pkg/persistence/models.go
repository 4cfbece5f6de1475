package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run represents one harness invocation.
//
//nolint:govet // struct alignment optimization not critical for this type
type Run struct {
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	HarnessVersion string     `json:"harness_version,omitempty"`
	ScenarioCount  int        `json:"scenario_count"`
}

// ScenarioResult represents the measurements for one scenario within a
// run. Durations are stored in seconds; a nil duration means the phase
// did not complete (or was not part of the scenario).
//
//nolint:govet // struct alignment optimization not critical for this type
type ScenarioResult struct {
	RecordedAt      time.Time `json:"recorded_at"`
	CleanSeconds    *float64  `json:"clean_seconds,omitempty"`
	SecondSeconds   *float64  `json:"second_seconds,omitempty"`
	HotpatchSeconds *float64  `json:"hotpatch_seconds,omitempty"`
	RunID           string    `json:"run_id"`
	Slug            string    `json:"slug"`
	Status          string    `json:"status"`
	Detail          string    `json:"detail,omitempty"`
}

// RunSummary is a Run with its recorded result counts, as listed by
// RecentRuns.
type RunSummary struct {
	Run
	Recorded  int `json:"recorded"`
	Succeeded int `json:"succeeded"`
}

// Run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Scenario result status constants.
const (
	ResultStatusOK     = "ok"
	ResultStatusFailed = "failed"
)

// GenerateRunID generates a new UUID for a run.
func GenerateRunID() string {
	return uuid.New().String()
}

// Seconds converts a measured duration into the stored representation.
func Seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

// Timestamps are stored as fixed-width RFC 3339 text so rows stay
// readable in the sqlite shell and sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}
