package persistence

import (
	"database/sql"
	"fmt"
)

// BeginRun inserts a new run row in the running state.
func (s *Store) BeginRun(run *Run) error {
	query := `
		INSERT INTO runs (id, started_at, scenario_count, status, harness_version)
		VALUES (?, ?, ?, ?, ?)
	`

	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}
	_, err := s.db.Exec(query, run.ID, formatTime(run.StartedAt), run.ScenarioCount, status, run.HarnessVersion)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun marks a run as completed or failed.
func (s *Store) FinishRun(run *Run) error {
	if run.FinishedAt == nil {
		return fmt.Errorf("run %s has no finish time", run.ID)
	}

	result, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ? WHERE id = ?
	`, formatTime(*run.FinishedAt), run.Status, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish of run %s: %w", run.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// RecordResult inserts the measurements for one scenario of a run.
func (s *Store) RecordResult(res *ScenarioResult) error {
	query := `
		INSERT INTO scenario_results (
			run_id, slug, clean_seconds, second_seconds, hotpatch_seconds,
			status, detail, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		res.RunID, res.Slug, res.CleanSeconds, res.SecondSeconds, res.HotpatchSeconds,
		res.Status, res.Detail, formatTime(res.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record result for %s/%s: %w", res.RunID, res.Slug, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first, with their result
// counts.
func (s *Store) RecentRuns(limit int) ([]*RunSummary, error) {
	query := `
		SELECT r.id, r.started_at, r.finished_at, r.scenario_count, r.status, r.harness_version,
			COUNT(sr.slug),
			COALESCE(SUM(CASE WHEN sr.status = 'ok' THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN scenario_results sr ON sr.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*RunSummary
	for rows.Next() {
		var (
			summary    RunSummary
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(
			&summary.ID, &startedAt, &finishedAt, &summary.ScenarioCount,
			&summary.Status, &summary.HarnessVersion,
			&summary.Recorded, &summary.Succeeded,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		if summary.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, err
			}
			summary.FinishedAt = &t
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	return summaries, nil
}

// ResultsForRun returns the scenario results of a run in recording
// order.
func (s *Store) ResultsForRun(runID string) ([]*ScenarioResult, error) {
	query := `
		SELECT run_id, slug, clean_seconds, second_seconds, hotpatch_seconds,
			status, detail, recorded_at
		FROM scenario_results
		WHERE run_id = ?
		ORDER BY recorded_at, slug
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var results []*ScenarioResult
	for rows.Next() {
		var (
			res                ScenarioResult
			clean, second, hot sql.NullFloat64
			recordedAt         string
		)
		if err := rows.Scan(
			&res.RunID, &res.Slug, &clean, &second, &hot,
			&res.Status, &res.Detail, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		if clean.Valid {
			res.CleanSeconds = &clean.Float64
		}
		if second.Valid {
			res.SecondSeconds = &second.Float64
		}
		if hot.Valid {
			res.HotpatchSeconds = &hot.Float64
		}
		if res.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result rows: %w", err)
	}
	return results, nil
}
