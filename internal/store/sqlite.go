// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
)

const (
	sqliteSchema = `
        CREATE TABLE IF NOT EXISTS tasks (
            id               TEXT PRIMARY KEY,
            instruction      TEXT NOT NULL,
            status           TEXT NOT NULL,
            result           TEXT NOT NULL DEFAULT '',
            reason           TEXT NOT NULL DEFAULT '',
            steps            INTEGER NOT NULL DEFAULT 0,
            last_observation TEXT NOT NULL DEFAULT '',
            started_at       TEXT NOT NULL DEFAULT '',
            finished_at      TEXT NOT NULL DEFAULT '',
            updated_at       TEXT NOT NULL
        );
        CREATE TABLE IF NOT EXISTS task_turns (
            task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
            seq     INTEGER NOT NULL,
            role    TEXT NOT NULL,
            content TEXT NOT NULL,
            step    INTEGER NOT NULL,
            at      TEXT NOT NULL,
            PRIMARY KEY (task_id, seq)
        );
        CREATE INDEX IF NOT EXISTS tasks_updated_at_idx ON tasks (updated_at DESC);
    `

	sqliteUpsertTask = `
        INSERT INTO tasks (id, instruction, status, result, reason, steps, last_observation, started_at, finished_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            status = excluded.status,
            result = excluded.result,
            reason = excluded.reason,
            steps = excluded.steps,
            last_observation = excluded.last_observation,
            started_at = excluded.started_at,
            finished_at = excluded.finished_at,
            updated_at = excluded.updated_at;
    `

	sqliteInsertTurn = `INSERT INTO task_turns (task_id, seq, role, content, step, at) VALUES (?, ?, ?, ?, ?, ?);`

	sqliteTaskColumns = `id, instruction, status, result, reason, steps, last_observation, started_at, finished_at`
)

// SQLiteStore is the zero-setup local Repository.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database file at path.
func NewSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Named("store").Debug("SQLite store opened.", zap.String("path", path))
	return &SQLiteStore{db: db, log: logger.Named("store")}, nil
}

func (s *SQLiteStore) SaveTask(ctx context.Context, rec *agent.TaskResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.ExecContext(ctx, sqliteUpsertTask,
		rec.TaskID, rec.Instruction, string(rec.Status), rec.Result, string(rec.Reason),
		rec.Steps, rec.LastObservation,
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt), formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", rec.TaskID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_turns WHERE task_id = ?;`, rec.TaskID); err != nil {
		return fmt.Errorf("failed to clear turns for task %s: %w", rec.TaskID, err)
	}

	if len(rec.History) > 0 {
		stmt, err := tx.PrepareContext(ctx, sqliteInsertTurn)
		if err != nil {
			return fmt.Errorf("failed to prepare turn insert: %w", err)
		}
		defer stmt.Close()

		for i, turn := range rec.History {
			if _, err := stmt.ExecContext(ctx, rec.TaskID, i, string(turn.Role), turn.Content, turn.Step, formatTime(turn.At)); err != nil {
				return fmt.Errorf("failed to insert turn %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*agent.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteTaskColumns+` FROM tasks WHERE id = ?;`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	tasks, err := scanSQLiteTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	rec := tasks[0]

	turnRows, err := s.db.QueryContext(ctx, `SELECT role, content, step, at FROM task_turns WHERE task_id = ? ORDER BY seq ASC;`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer turnRows.Close()

	for turnRows.Next() {
		var (
			turn     agent.Turn
			role, at string
		)
		if err := turnRows.Scan(&role, &turn.Content, &turn.Step, &at); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.Role = agent.Role(role)
		if turn.At, err = parseTime(at); err != nil {
			return nil, err
		}
		rec.History = append(rec.History, turn)
	}
	if err := turnRows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, limit int) ([]agent.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTaskColumns+` FROM tasks ORDER BY updated_at DESC, rowid DESC LIMIT ?;`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	return scanSQLiteTasks(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteTasks(rows *sql.Rows) ([]agent.TaskResult, error) {
	defer rows.Close()

	var tasks []agent.TaskResult
	for rows.Next() {
		var (
			rec                 agent.TaskResult
			status, reason      string
			startedAt, finished string
		)
		err := rows.Scan(
			&rec.TaskID, &rec.Instruction, &status, &rec.Result, &reason,
			&rec.Steps, &rec.LastObservation, &startedAt, &finished,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		rec.Status = agent.TaskStatus(status)
		rec.Reason = agent.FailureReason(reason)
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if rec.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		tasks = append(tasks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

// storedTimeLayout is fixed-width so text order matches time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// The zero time is stored as the empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(storedTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
