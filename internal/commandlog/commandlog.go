// Package commandlog persists sent commands and operation runs to sqlite so
// sessions can be replayed and failed runs inspected after the fact.
package commandlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// Entry is one command sent to the arm.
type Entry struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// Run is one pick-and-place (or drop, or pour) operation.
type Run struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	State      string    `json:"state,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			command_id        INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id            TEXT,
			command           TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS operation_runs (
			run_id            TEXT PRIMARY KEY,
			kind              TEXT,
			started_at        TIMESTAMP,
			finished_at       TIMESTAMP,
			final_state       TEXT,
			error             TEXT
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Record stores one sent command, optionally tied to a run.
func (db *DB) Record(runID, command string) error {
	_, err := db.Exec(
		`INSERT INTO commands (run_id, command) VALUES (?, ?)`,
		runID, command,
	)
	if err != nil {
		return fmt.Errorf("failed to record command %q: %w", command, err)
	}
	return nil
}

// List returns the most recent limit commands, newest first.
func (db *DB) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT command_id, COALESCE(run_id, ''), command, timestamp
		 FROM commands ORDER BY command_id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Command, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear deletes all recorded commands.
func (db *DB) Clear() error {
	_, err := db.Exec(`DELETE FROM commands`)
	return err
}

// RecordRun registers the start of an operation.
func (db *DB) RecordRun(runID, kind string, startedAt time.Time) error {
	_, err := db.Exec(
		`INSERT INTO operation_runs (run_id, kind, started_at) VALUES (?, ?, ?)`,
		runID, kind, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the terminal state of an operation. errMsg is empty on
// success.
func (db *DB) FinishRun(runID, finalState, errMsg string) error {
	_, err := db.Exec(
		`UPDATE operation_runs SET finished_at = ?, final_state = ?, error = ?
		 WHERE run_id = ?`,
		time.Now(), finalState, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// Runs returns the most recent limit operation runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT run_id, kind, started_at, finished_at,
		        COALESCE(final_state, ''), COALESCE(error, '')
		 FROM operation_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.Kind, &r.StartedAt, &finished, &r.State, &r.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
