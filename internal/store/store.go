// Package store persists runs and their step histories in SQLite.
// Steps are append-only and cascade-deleted with their run; writes for
// one run always come from a single goroutine (the engine), so step
// ordering is preserved without global locking.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stepforge/agentd/internal/types"
)

// ErrRunNotFound is returned for reads and deletes of unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Store is the SQLite-backed run store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and runs
// migrations. Pass ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// WAL for concurrent readers; foreign keys for cascade delete.
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate creates tables on first run.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			message    TEXT NOT NULL,
			response   TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			ended_at   INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun inserts a new in-progress run.
func (s *Store) CreateRun(ctx context.Context, run *types.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, message, status, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Message, string(run.Status), run.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AppendStep records one step. The (run_id, seq) primary key rejects
// duplicate indices, backing the tracker's ordering invariant.
func (s *Store) AppendStep(ctx context.Context, step types.Step) error {
	payload, err := json.Marshal(step.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, seq, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		step.RunID, step.Seq, string(step.Kind), string(payload), step.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// FinalizeRun writes the terminal status, response, and cause.
func (s *Store) FinalizeRun(ctx context.Context, run *types.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, response = ?, error = ?, ended_at = ? WHERE id = ?`,
		string(run.Status), run.Response, run.Error, run.EndedAt.UnixMilli(), run.ID)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// GetRun returns one run with its full, ordered step history.
func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message, response, status, error, created_at, ended_at FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, kind, payload, created_at FROM run_steps WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var step types.Step
		var kind, payload string
		var createdAt int64
		if err := rows.Scan(&step.RunID, &step.Seq, &kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Kind = types.StepKind(kind)
		step.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := json.Unmarshal([]byte(payload), &step.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		run.Steps = append(run.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest-first, without step histories.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*types.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, response, status, error, created_at, ended_at
		 FROM runs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []*types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; its steps go with it (cascade).
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// DeleteRunsBefore removes terminal runs created before cutoff and
// returns how many were pruned. In-progress runs are never pruned.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE created_at < ? AND status != ?`,
		cutoff.UnixMilli(), string(types.RunStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.Run, error) {
	var run types.Run
	var status string
	var createdAt int64
	var endedAt sql.NullInt64

	if err := row.Scan(&run.ID, &run.Message, &run.Response, &status, &run.Error, &createdAt, &endedAt); err != nil {
		return nil, err
	}
	run.Status = types.RunStatus(status)
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	if endedAt.Valid && endedAt.Int64 > 0 {
		run.EndedAt = time.UnixMilli(endedAt.Int64).UTC()
	}
	return &run, nil
}
