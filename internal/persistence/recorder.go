// Package persistence provides the SQLite run recorder: one-way telemetry
// of note events and coherence samples per run. Learned state is never
// restored from here; a fresh start always respawns from scratch.
package persistence

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/songpond/internal/harmony"
)

// Recorder wraps a SQLite connection for run telemetry.
type Recorder struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Recorder, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	r := &Recorder{conn: conn}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	return r.conn.Close()
}

func (r *Recorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		params_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		agent INTEGER NOT NULL,
		degree INTEGER NOT NULL,
		frequency REAL NOT NULL,
		duration REAL NOT NULL,
		amplitude REAL NOT NULL,
		timbre REAL NOT NULL,
		start_time REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coherence_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		value REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_run_tick ON notes(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_coherence_run ON coherence_samples(run_id);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// BeginRun registers a new run.
func (r *Recorder) BeginRun(runID string, seed int64, paramsJSON string) error {
	_, err := r.conn.Exec(
		"INSERT OR REPLACE INTO runs (id, seed, started_at, params_json) VALUES (?, ?, ?, ?)",
		runID, seed, time.Now().UTC().Format(time.RFC3339), paramsJSON,
	)
	return err
}

// RecordNotes appends a tick's note batch.
func (r *Recorder) RecordNotes(runID string, tick uint64, notes []harmony.NoteEvent) error {
	if len(notes) == 0 {
		return nil
	}

	tx, err := r.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO notes
		(run_id, tick, agent, degree, frequency, duration, amplitude, timbre, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range notes {
		if _, err := stmt.Exec(runID, tick, n.AgentID, n.Degree,
			n.Frequency, n.Duration, n.Amplitude, n.Timbre, n.ScheduledStartTime); err != nil {
			return fmt.Errorf("insert note for agent %d: %w", n.AgentID, err)
		}
	}
	return tx.Commit()
}

// RecordCoherence appends a coherence sample.
func (r *Recorder) RecordCoherence(runID string, tick uint64, value float64) error {
	_, err := r.conn.Exec(
		"INSERT INTO coherence_samples (run_id, tick, value) VALUES (?, ?, ?)",
		runID, tick, value,
	)
	return err
}

// NoteRow is a recorded note as read back from the database.
type NoteRow struct {
	Tick      uint64  `db:"tick" json:"tick"`
	Agent     int     `db:"agent" json:"agent"`
	Degree    int     `db:"degree" json:"degree"`
	Frequency float64 `db:"frequency" json:"frequency"`
	Duration  float64 `db:"duration" json:"duration"`
	Amplitude float64 `db:"amplitude" json:"amplitude"`
	Timbre    float64 `db:"timbre" json:"timbre"`
	StartTime float64 `db:"start_time" json:"start_time"`
}

// RecentNotes returns the most recent notes for a run, newest first.
func (r *Recorder) RecentNotes(runID string, limit int) ([]NoteRow, error) {
	var rows []NoteRow
	err := r.conn.Select(&rows, `SELECT tick, agent, degree, frequency, duration,
		amplitude, timbre, start_time FROM notes
		WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, limit)
	return rows, err
}

// RunNotes returns all notes for a run in emission order.
func (r *Recorder) RunNotes(runID string) ([]NoteRow, error) {
	var rows []NoteRow
	err := r.conn.Select(&rows, `SELECT tick, agent, degree, frequency, duration,
		amplitude, timbre, start_time FROM notes
		WHERE run_id = ? ORDER BY id ASC`, runID)
	return rows, err
}

// RunRow summarizes one recorded run.
type RunRow struct {
	ID        string `db:"id" json:"id"`
	Seed      int64  `db:"seed" json:"seed"`
	StartedAt string `db:"started_at" json:"started_at"`
}

// Runs lists recorded runs, newest first.
func (r *Recorder) Runs() ([]RunRow, error) {
	var rows []RunRow
	err := r.conn.Select(&rows,
		"SELECT id, seed, started_at FROM runs ORDER BY started_at DESC")
	return rows, err
}

// LatestRun returns the most recently started run ID, if any.
func (r *Recorder) LatestRun() (string, error) {
	var id string
	err := r.conn.Get(&id,
		"SELECT id FROM runs ORDER BY started_at DESC LIMIT 1")
	return id, err
}
