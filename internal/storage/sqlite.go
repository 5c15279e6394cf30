// Package storage provides the optional SQLite run archive.
// Every processed result is recorded with its position in the run; the
// archive is write-only from the pipeline's point of view and is never
// consulted to skip a fetch.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/masahif/pageprobe/internal/probe"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// Run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// ErrRunNotFound is returned when a run id does not exist
var ErrRunNotFound = errors.New("run not found")

// RunRecord describes one archived run
type RunRecord struct {
	ID         int64
	InputPath  string
	OutputPath string
	URLCount   int
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunSummary holds outcome counts for a run
type RunSummary struct {
	RunID     int64
	Recorded  int
	Succeeded int
	Failed    int
	Blocked   int
}

// SQLiteStorage archives runs and their results in SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	storage := &SQLiteStorage{db: db}

	if err := storage.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InitSchema creates the database schema
func (s *SQLiteStorage) InitSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// StartRun records a new run and returns its id
func (s *SQLiteStorage) StartRun(inputPath, outputPath string, urlCount int) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO runs (input_path, output_path, url_count, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, inputPath, outputPath, urlCount, RunRunning, timestamp(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// FinishRun marks a run as ended with the given status
func (s *SQLiteStorage) FinishRun(runID int64, status string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
	`, status, timestamp(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveResult stores one result at its position within the run
func (s *SQLiteStorage) SaveResult(runID int64, position int, result *probe.PageResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var (
		resultType, errMsg, blockedBy, title sql.NullString
		httpStatus, wordCount                sql.NullInt64
		blocked                              bool
	)

	if result.Type != "" {
		resultType = sql.NullString{String: string(result.Type), Valid: true}
	}
	if result.Error != "" {
		errMsg = sql.NullString{String: result.Error, Valid: true}
	}
	if result.HTTPStatus != 0 {
		httpStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: true}
	}
	if result.PageData != nil {
		title = sql.NullString{String: result.Title, Valid: true}
		wordCount = sql.NullInt64{Int64: int64(result.WordCount), Valid: true}
		blocked = result.Blocked
		if result.BlockedBy != "" {
			blockedBy = sql.NullString{String: result.BlockedBy, Valid: true}
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO results (
			run_id, position, url, result_type, error, http_status,
			blocked, blocked_by, title, word_count, has_fallback, payload, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID, position, result.URL, resultType, errMsg, httpStatus,
		blocked, blockedBy, title, wordCount, result.FallbackResult != nil, string(payload), timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save result for %s: %w", result.URL, err)
	}

	return nil
}

// LoadResults returns the archived results of a run in position order
func (s *SQLiteStorage) LoadResults(runID int64) ([]*probe.PageResult, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM results WHERE run_id = ? ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []*probe.PageResult{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		var result probe.PageResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		results = append(results, &result)
	}

	return results, rows.Err()
}

// GetRun returns the run record for runID
func (s *SQLiteStorage) GetRun(runID int64) (*RunRecord, error) {
	var (
		run      RunRecord
		started  string
		finished sql.NullString
	)

	err := s.db.QueryRow(`
		SELECT id, input_path, output_path, url_count, status, started_at, finished_at
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.InputPath, &run.OutputPath, &run.URLCount, &run.Status, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.StartedAt, err = parseTimestamp(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		t, err := parseTimestamp(finished.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// GetRunSummary returns outcome counts for a run
func (s *SQLiteStorage) GetRunSummary(runID int64) (*RunSummary, error) {
	var (
		summary                    RunSummary
		succeeded, failed, blocked sql.NullInt64
	)

	err := s.db.QueryRow(`
		SELECT run_id, recorded, succeeded, failed, blocked
		FROM run_summary WHERE run_id = ?
	`, runID).Scan(&summary.RunID, &summary.Recorded, &succeeded, &failed, &blocked)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run summary: %w", err)
	}

	summary.Succeeded = int(succeeded.Int64)
	summary.Failed = int(failed.Int64)
	summary.Blocked = int(blocked.Int64)
	return &summary, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// RunSink adapts the archive to a probe.ResultSink for one run
type RunSink struct {
	storage *SQLiteStorage
	runID   int64
}

// Sink returns a result sink that records into runID
func (s *SQLiteStorage) Sink(runID int64) *RunSink {
	return &RunSink{storage: s, runID: runID}
}

// SaveResult implements probe.ResultSink
func (r *RunSink) SaveResult(position int, result *probe.PageResult) error {
	return r.storage.SaveResult(r.runID, position, result)
}
