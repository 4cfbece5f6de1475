// Package eventlog provides a JSONL transcript of a benchmark run: one
// file per run, one event per line, written as the run progresses so a
// crashed run still leaves a usable record.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one transcript entry.
//
//nolint:govet // Field order mirrors the serialized layout.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"type"`
	Slug      string    `json:"slug,omitempty"`
	Label     string    `json:"label,omitempty"`
	Stream    string    `json:"stream,omitempty"`
	Line      string    `json:"line,omitempty"`
	Seconds   *float64  `json:"seconds,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Event type constants.
const (
	TypeRunStarted       = "run_started"
	TypeScenarioStarted  = "scenario_started"
	TypeBuildFinished    = "build_finished"
	TypeServerLine       = "server_line"
	TypeHotpatchFinished = "hotpatch_finished"
	TypeScenarioFinished = "scenario_finished"
	TypeRunFinished      = "run_finished"
)

// Writer appends events to a single run transcript.
type Writer struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewWriter creates the transcript file for a run inside logDir,
// creating the directory if needed.
func NewWriter(logDir, runID string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, fmt.Sprintf("events-%s.jsonl", runID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	return &Writer{path: path, file: file}, nil
}

// Write appends one event to the transcript. A zero timestamp is
// filled in with the current time.
func (w *Writer) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("event log is closed")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if _, err := w.file.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if _, err := w.file.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

// Path returns the transcript file path.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the transcript file. Further writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}
	return nil
}

// ReadEvents reads and parses all events from a transcript file.
func ReadEvents(path string) ([]*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var events []*Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				return nil, fmt.Errorf("failed to parse event: %w", err)
			}
			events = append(events, &event)
		}
	}
	return events, nil
}

// ListTranscripts returns all run transcripts in the log directory.
func ListTranscripts(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}
