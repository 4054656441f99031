package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LedgerPath is where a work directory keeps its ledger.
func LedgerPath(workDir string) string {
	return filepath.Join(workDir, ".stellarsweep", "ledger.db")
}

// Store persists runs and job outcomes in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
  run_id          TEXT PRIMARY KEY,
  sweep_hash      TEXT NOT NULL,
  start_time      TEXT NOT NULL,
  end_time        TEXT,
  mode            TEXT NOT NULL,
  workers         INTEGER NOT NULL,
  retry_count     INTEGER NOT NULL DEFAULT 0,
  status          TEXT NOT NULL,
  previous_run_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_sweep_start ON runs(sweep_hash, start_time);
CREATE TABLE IF NOT EXISTS outcomes (
  run_id        TEXT NOT NULL REFERENCES runs(run_id),
  job_index     INTEGER NOT NULL,
  job           TEXT NOT NULL,
  outcome       TEXT NOT NULL,
  export_path   TEXT,
  failure_class TEXT,
  stage         TEXT,
  error_code    TEXT,
  error_message TEXT,
  resumable     INTEGER,
  PRIMARY KEY (run_id, job_index)
);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or replaces a run row.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, sweep_hash, start_time, end_time, mode, workers, retry_count, status, previous_run_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  end_time = excluded.end_time,
  status = excluded.status`,
		run.RunID, run.SweepHash, formatTime(run.StartTime), nullTime(run.EndTime),
		string(run.Mode), run.Workers, run.RetryCount, string(run.Status), nullString(run.PreviousRunID))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// LoadRun returns the run with the given id.
func (s *Store) LoadRun(ctx context.Context, runID string) (Run, error) {
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, sweep_hash, start_time, end_time, mode, workers, retry_count, status, previous_run_id
FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// LastRun returns the most recent run of the sweep with the given hash, or
// false when there is none.
func (s *Store) LastRun(ctx context.Context, sweepHash string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, sweep_hash, start_time, end_time, mode, workers, retry_count, status, previous_run_id
FROM runs WHERE sweep_hash = ?
ORDER BY start_time DESC, rowid DESC LIMIT 1`, sweepHash)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// ListRunIDs returns every run id, oldest first.
func (s *Store) ListRunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY start_time, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveOutcome inserts or replaces the outcome of one job.
func (s *Store) SaveOutcome(ctx context.Context, o JobOutcome) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid outcome: %w", err)
	}
	var (
		class, code, msg, stage sql.NullString
		resumable               sql.NullInt64
	)
	if f := o.Failure; f != nil {
		class = sql.NullString{String: string(f.Class), Valid: true}
		code = sql.NullString{String: f.Code, Valid: true}
		msg = sql.NullString{String: f.Message, Valid: true}
		stage = nullString(f.Stage)
		resumable = sql.NullInt64{Int64: boolInt(f.Resumable), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO outcomes
  (run_id, job_index, job, outcome, export_path, failure_class, stage, error_code, error_message, resumable)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Index, o.Job, o.Outcome, o.ExportPath, class, stage, code, msg, resumable)
	if err != nil {
		return fmt.Errorf("save outcome %s: %w", o.Job, err)
	}
	return nil
}

// Outcomes returns the outcomes of a run in input order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]JobOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, job_index, job, outcome, export_path, failure_class, stage, error_code, error_message, resumable
FROM outcomes WHERE run_id = ? ORDER BY job_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobOutcome
	for rows.Next() {
		var (
			o                       JobOutcome
			exportPath              sql.NullString
			class, stage, code, msg sql.NullString
			resumable               sql.NullInt64
		)
		if err := rows.Scan(&o.RunID, &o.Index, &o.Job, &o.Outcome, &exportPath,
			&class, &stage, &code, &msg, &resumable); err != nil {
			return nil, err
		}
		o.ExportPath = exportPath.String
		if class.Valid {
			f := &Failure{
				Class:     FailureClass(class.String),
				Code:      code.String,
				Message:   msg.String,
				Resumable: resumable.Int64 == 1,
			}
			if stage.Valid {
				st := stage.String
				f.Stage = &st
			}
			o.Failure = f
		}
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("invalid outcome on disk: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run          Run
		start        string
		end, prev    sql.NullString
		mode, status string
	)
	if err := row.Scan(&run.RunID, &run.SweepHash, &start, &end, &mode,
		&run.Workers, &run.RetryCount, &status, &prev); err != nil {
		return Run{}, err
	}
	run.Mode = ExecutionMode(mode)
	run.Status = RunStatus(status)
	t, err := time.Parse(timeLayout, start)
	if err != nil {
		return Run{}, fmt.Errorf("invalid start_time on disk: %w", err)
	}
	run.StartTime = t
	if end.Valid && end.String != "" {
		if t, err := time.Parse(timeLayout, end.String); err == nil {
			run.EndTime = t
		}
	}
	if prev.Valid {
		p := prev.String
		run.PreviousRunID = &p
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
