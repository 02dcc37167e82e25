// Package journal keeps an SQLite audit trail of transfer runs and the
// outcome of every message they touched. It is written to, never read back
// by the engine.
package journal

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/Warky-Devs/WkMailMove/internal/config"
	"github.com/Warky-Devs/WkMailMove/internal/transfer"
)

const (
	StateRunning     = "running"
	StateDone        = "done"
	StateInterrupted = "interrupted"
	StateAborted     = "aborted"
)

type Run struct {
	ID         string     `db:"id"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	Source     string     `db:"source"`
	Target     string     `db:"target"`
	State      string     `db:"state"`
	Found      int        `db:"found"`
	Moved      int        `db:"moved"`
	Failed     int        `db:"failed"`
	Purged     int        `db:"purged"`
}

type Transfer struct {
	ID        int64     `db:"id"`
	RunID     string    `db:"run_id"`
	Seq       int64     `db:"seq"`
	MessageID string    `db:"message_id"`
	Subject   string    `db:"subject"`
	Outcome   string    `db:"outcome"`
	Detail    string    `db:"detail"`
	At        time.Time `db:"at"`
}

type Journal struct {
	db *sqlx.DB
}

var _ transfer.Recorder = (*Journal)(nil)

// Open opens or creates the journal at path and applies pending migrations.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrap(err, "creating journal directory")
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal")
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "journal %s", pragma)
		}
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating journal")
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	current := 0

	var tables int
	err := j.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return errors.Wrap(err, "checking schema_version table")
	}
	if tables > 0 {
		if err := j.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return errors.Wrap(err, "reading schema version")
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return errors.Wrapf(err, "applying migration v%d", m.version)
		}
	}
	return nil
}

func describe(e config.Endpoint) string {
	return e.String() + "/" + e.Folder
}

// Start records a new run and returns its id.
func (j *Journal) Start(ctx context.Context, source, target config.Endpoint) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, source, target, state)
		VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), describe(source), describe(target), StateRunning,
	)
	if err != nil {
		return "", errors.Wrap(err, "recording run start")
	}
	return id, nil
}

func (j *Journal) Record(ctx context.Context, runID string, o transfer.Outcome) error {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transfers (run_id, seq, message_id, subject, outcome, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, o.Seq, o.Summary.MessageID, o.Summary.Subject, string(o.Kind), o.Detail, at.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "recording message %d of run %s", o.Seq, runID)
	}
	return nil
}

func (j *Journal) Finish(ctx context.Context, runID string, res transfer.Result) error {
	state := StateDone
	switch {
	case res.Aborted:
		state = StateAborted
	case res.Interrupted:
		state = StateInterrupted
	}

	result, err := j.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, state = ?,
			found = ?, moved = ?, failed = ?, purged = ?
		WHERE id = ?`,
		time.Now().UTC(), state,
		res.Found, res.Moved, res.Failed, res.Purged,
		runID,
	)
	if err != nil {
		return errors.Wrapf(err, "recording finish of run %s", runID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("run %s not found", runID)
	}
	return nil
}

// Runs returns the most recent runs first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT * FROM runs ORDER BY started_at DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var runs []Run
	if err := j.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying runs")
	}
	return runs, nil
}

// Transfers returns the message outcomes of a run in processing order.
func (j *Journal) Transfers(ctx context.Context, runID string) ([]Transfer, error) {
	var transfers []Transfer
	err := j.db.SelectContext(ctx, &transfers,
		"SELECT * FROM transfers WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying transfers of run %s", runID)
	}
	return transfers, nil
}
