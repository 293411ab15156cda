// Package store keeps the history of evaluation runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/GoCodeAlone/gauntlet/eval"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists runs in a SQLite database. It implements
// eval.Recorder.
type SQLiteStore struct {
	db *sql.DB
}

var _ eval.Recorder = (*SQLiteStore)(nil)

// Open opens (or creates) the database at dbPath and applies pending
// migrations. Use ":memory:" for a throwaway store. The caller is
// responsible for calling Close.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	// m.Close would close db as well; the store owns it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return v, nil
}

// Record stores run and its task results, replacing an earlier copy of the
// same run.
func (s *SQLiteStore) Record(ctx context.Context, run *eval.Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	benchmarks, _ := json.Marshal(run.Config.Benchmarks)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{"DELETE FROM task_results WHERE run_id=?", "DELETE FROM runs WHERE run_id=?"} {
		if _, err := tx.ExecContext(ctx, q, run.RunID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, milestone, benchmarks, task_count, solved, accuracy, cost_usd,
			 cancelled, body, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.RunID, run.Config.Milestone, string(benchmarks),
		run.Aggregate.Count, run.Aggregate.Solved, run.Aggregate.Accuracy, run.Aggregate.TotalCostUSD,
		run.Cancelled, string(body),
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO task_results
			(run_id, benchmark, task_id, verdict, solved, cost_usd, duration_ms, steps, tool_calls,
			 input_tokens, output_tokens, model, tier, difficulty, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare task insert: %w", err)
	}
	defer stmt.Close()
	for _, b := range run.Benchmarks {
		for _, tr := range b.Tasks {
			m := tr.Metrics
			_, err := stmt.ExecContext(ctx,
				run.RunID, b.Name, tr.TaskID, string(tr.Verdict), m.Solved,
				m.CostUSD, m.DurationMS, m.Steps, m.ToolCalls,
				m.InputTokens, m.OutputTokens, m.Model, m.Tier, m.Difficulty, m.Error,
			)
			if err != nil {
				return fmt.Errorf("insert task %s: %w", tr.TaskID, err)
			}
		}
	}
	return tx.Commit()
}

// GetRun returns the stored run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*eval.Run, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM runs WHERE run_id=?", runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var run eval.Run
	if err := json.Unmarshal([]byte(body), &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &run, nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Milestone  string    `json:"milestone"`
	Benchmarks []string  `json:"benchmarks"`
	Tasks      int       `json:"tasks"`
	Solved     int       `json:"solved"`
	Accuracy   float64   `json:"accuracy"`
	CostUSD    float64   `json:"cost_usd"`
	Cancelled  bool      `json:"cancelled"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Filter narrows ListRuns.
type Filter struct {
	Milestone string
	Limit     int
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter Filter) ([]RunSummary, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT run_id, milestone, benchmarks, task_count, solved, accuracy, cost_usd,
		cancelled, started_at, finished_at FROM runs WHERE 1=1`)
	args := []any{}
	if filter.Milestone != "" {
		q.WriteString(" AND milestone=?")
		args = append(args, filter.Milestone)
	}
	q.WriteString(" ORDER BY started_at DESC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var benchmarks string
		if err := rows.Scan(&r.RunID, &r.Milestone, &benchmarks, &r.Tasks, &r.Solved,
			&r.Accuracy, &r.CostUSD, &r.Cancelled, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(benchmarks), &r.Benchmarks)
		out = append(out, r)
	}
	return out, rows.Err()
}

// TaskRecord is one stored attempt of a task.
type TaskRecord struct {
	RunID      string  `json:"run_id"`
	Benchmark  string  `json:"benchmark"`
	TaskID     string  `json:"task_id"`
	Verdict    string  `json:"verdict"`
	Solved     bool    `json:"solved"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMS int64   `json:"duration_ms"`
	Steps      int     `json:"steps"`
	Model      string  `json:"model"`
	Tier       string  `json:"tier"`
	Error      string  `json:"error"`
}

// TaskHistory returns every stored attempt of taskID, newest run first.
func (s *SQLiteStore) TaskHistory(ctx context.Context, taskID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.run_id, t.benchmark, t.task_id, t.verdict, t.solved, t.cost_usd, t.duration_ms,
			t.steps, t.model, t.tier, t.error
		FROM task_results t JOIN runs r ON r.run_id = t.run_id
		WHERE t.task_id=?
		ORDER BY r.started_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task history: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		if err := rows.Scan(&r.RunID, &r.Benchmark, &r.TaskID, &r.Verdict, &r.Solved, &r.CostUSD,
			&r.DurationMS, &r.Steps, &r.Model, &r.Tier, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its task results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM task_results WHERE run_id=?", runID); err != nil {
		return fmt.Errorf("delete task results: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE run_id=?", runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}
