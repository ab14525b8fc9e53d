// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package bench

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
  run      TEXT NOT NULL,
  started  INTEGER NOT NULL,
  kind     TEXT NOT NULL,
  datatype TEXT NOT NULL,
  window_size INTEGER NOT NULL,
  size     INTEGER NOT NULL,
  count    INTEGER NOT NULL,
  value    REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS results_run ON results (run);
`

// A Recorder stores benchmark results in a SQLite database. Each Recorder
// has a unique run ID, recorded with every result it stores.
type Recorder struct {
	db      *sql.DB
	run     xid.ID
	started time.Time

	closeOnce sync.Once
	closeErr  error
}

// OpenRecorder opens or creates a SQLite database at path to record results.
// The recorder is closed automatically at exit if the program terminates via
// the atexit package; otherwise the caller should call Close.
func OpenRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	r := &Recorder{db: db, run: xid.New(), started: time.Now()}
	atexit.Register(func() { r.Close() })
	return r, nil
}

// RunID reports the unique ID of the run recorded by r.
func (r *Recorder) RunID() xid.ID { return r.run }

// Record stores the results of one benchmark run in a single transaction.
func (r *Recorder) Record(kind Kind, cfg *Config, rs []Result) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO results
  (run, started, kind, datatype, window_size, size, count, value)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, res := range rs {
		if _, err := stmt.Exec(r.run.String(), r.started.Unix(), string(kind), string(cfg.Datatype),
			cfg.WindowSize, res.Size, res.Count, res.Value); err != nil {
			return fmt.Errorf("insert size %d: %w", res.Size, err)
		}
	}
	return tx.Commit()
}

// Results returns the results of the given kind recorded for run, ordered by
// message size.
func (r *Recorder) Results(run xid.ID, kind Kind) ([]Result, error) {
	rows, err := r.db.Query(`SELECT size, count, value FROM results
  WHERE run = ? AND kind = ? ORDER BY size`, run.String(), string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.Size, &res.Count, &res.Value); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Close closes the database. It is safe to call Close more than once.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.db.Close() })
	return r.closeErr
}
