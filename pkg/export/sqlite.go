package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/trial"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	experiment  TEXT NOT NULL,
	participant TEXT NOT NULL,
	meta_json   TEXT NOT NULL,
	factors     TEXT NOT NULL,
	trial_count INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	status      TEXT NOT NULL,
	started     TEXT NOT NULL,
	finished    TEXT
);

CREATE TABLE IF NOT EXISTS trials (
	session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	trial          INTEGER NOT NULL,
	repetition     INTEGER NOT NULL,
	params_json    TEXT NOT NULL,
	start_time     REAL NOT NULL,
	fix_onset_time REAL NOT NULL,
	go_time        REAL NOT NULL,
	reach_time     REAL NOT NULL,
	rt             REAL NOT NULL,
	hit_x          REAL NOT NULL,
	hit_y          REAL NOT NULL,
	hit_z          REAL NOT NULL,
	hemifield      TEXT NOT NULL,
	correct        INTEGER NOT NULL,
	PRIMARY KEY (session_id, trial)
);

CREATE TABLE IF NOT EXISTS samples (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	trial      INTEGER NOT NULL,
	time_ms    REAL NOT NULL,
	handle     TEXT NOT NULL,
	frame      TEXT NOT NULL,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	z          REAL NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_sessions_participant ON sessions(participant);
CREATE INDEX IF NOT EXISTS idx_samples_trial ON samples(session_id, trial);
`

// SQLite stores sessions and trials in a local database file. Saving a
// session again replaces its rows.
type SQLite struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Format() string { return "sqlite" }

func (s *SQLite) Target(rec session.Record) string { return s.path }

func (s *SQLite) Save(ctx context.Context, rec session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var finished any
	if !rec.Meta.Finished.IsZero() {
		finished = rec.Meta.Finished.UTC().Format(time.RFC3339Nano)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO sessions
		(id, experiment, participant, meta_json, factors, trial_count, seed, status, started, finished)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Meta.ID, rec.Meta.Experiment, rec.Meta.Participant.ID, string(meta),
		strings.Join(rec.Meta.Factors, ","), rec.Meta.TrialCount, rec.Meta.Seed,
		string(rec.Meta.Status), rec.Meta.Started.UTC().Format(time.RFC3339Nano), finished)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trials WHERE session_id = ?`, rec.Meta.ID); err != nil {
		return fmt.Errorf("clear trials: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trials
		(session_id, trial, repetition, params_json, start_time, fix_onset_time, go_time,
		 reach_time, rt, hit_x, hit_y, hit_z, hemifield, correct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare trial insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rec.Results {
		if err := insertTrial(ctx, stmt, rec.Meta.ID, r); err != nil {
			return err
		}
	}
	if err := insertSamples(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSamples(ctx context.Context, tx *sql.Tx, rec session.Record) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM samples WHERE session_id = ?`, rec.Meta.ID); err != nil {
		return fmt.Errorf("clear samples: %w", err)
	}
	if len(rec.Samples) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples
		(session_id, seq, trial, time_ms, handle, frame, x, y, z)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, smp := range rec.Samples {
		_, err := stmt.ExecContext(ctx, rec.Meta.ID, i, smp.Trial, smp.TimeMS,
			string(smp.Handle), string(smp.Frame), smp.Pos.X(), smp.Pos.Y(), smp.Pos.Z())
		if err != nil {
			return fmt.Errorf("insert sample %d: %w", i, err)
		}
	}
	return nil
}

func insertTrial(ctx context.Context, stmt *sql.Stmt, sessionID string, r trial.Result) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("marshal params of trial %d: %w", r.Trial, err)
	}
	_, err = stmt.ExecContext(ctx, sessionID, r.Trial, r.Repetition, string(params),
		r.StartTime, r.FixOnsetTime, r.GoTime, r.ReachTime, r.RT,
		r.Hit.X(), r.Hit.Y(), r.Hit.Z(), string(r.Hemifield), r.Correct)
	if err != nil {
		return fmt.Errorf("insert trial %d: %w", r.Trial, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
