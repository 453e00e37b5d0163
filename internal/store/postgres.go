// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
)

// DBPool abstracts pgxpool.Pool so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS tasks (
            id               TEXT PRIMARY KEY,
            instruction      TEXT NOT NULL,
            status           TEXT NOT NULL,
            result           TEXT NOT NULL DEFAULT '',
            reason           TEXT NOT NULL DEFAULT '',
            steps            INTEGER NOT NULL DEFAULT 0,
            last_observation TEXT NOT NULL DEFAULT '',
            started_at       TIMESTAMPTZ NOT NULL,
            finished_at      TIMESTAMPTZ NOT NULL,
            updated_at       TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS task_turns (
            task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
            seq     INTEGER NOT NULL,
            role    TEXT NOT NULL,
            content TEXT NOT NULL,
            step    INTEGER NOT NULL,
            at      TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (task_id, seq)
        );
        CREATE INDEX IF NOT EXISTS tasks_updated_at_idx ON tasks (updated_at DESC);
    `

	pgUpsertTask = `
        INSERT INTO tasks (id, instruction, status, result, reason, steps, last_observation, started_at, finished_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            result = EXCLUDED.result,
            reason = EXCLUDED.reason,
            steps = EXCLUDED.steps,
            last_observation = EXCLUDED.last_observation,
            started_at = EXCLUDED.started_at,
            finished_at = EXCLUDED.finished_at,
            updated_at = EXCLUDED.updated_at;
    `

	pgDeleteTurns = `DELETE FROM task_turns WHERE task_id = $1;`

	pgSelectTask = `
        SELECT id, instruction, status, result, reason, steps, last_observation, started_at, finished_at
        FROM tasks
        WHERE id = $1;
    `

	pgSelectTurns = `
        SELECT role, content, step, at
        FROM task_turns
        WHERE task_id = $1
        ORDER BY seq ASC;
    `

	pgListTasks = `
        SELECT id, instruction, status, result, reason, steps, last_observation, started_at, finished_at
        FROM tasks
        ORDER BY updated_at DESC
        LIMIT $1;
    `
)

var turnColumns = []string{"task_id", "seq", "role", "content", "step", "at"}

// PostgresStore is the PostgreSQL Repository.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ Repository = (*PostgresStore)(nil)

// OpenPostgres connects a pool to url and prepares the schema.
func OpenPostgres(ctx context.Context, url string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, rec *agent.TaskResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, pgUpsertTask,
		rec.TaskID, rec.Instruction, string(rec.Status), rec.Result, string(rec.Reason),
		rec.Steps, rec.LastObservation,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", rec.TaskID, err)
	}

	if _, err := tx.Exec(ctx, pgDeleteTurns, rec.TaskID); err != nil {
		return fmt.Errorf("failed to clear turns for task %s: %w", rec.TaskID, err)
	}

	if len(rec.History) > 0 {
		rows := make([][]interface{}, len(rec.History))
		for i, turn := range rec.History {
			rows[i] = []interface{}{rec.TaskID, i, string(turn.Role), turn.Content, turn.Step, turn.At.UTC()}
		}
		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"task_turns"}, turnColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy turns: %w", err)
		}
		if int(copyCount) != len(rows) {
			return fmt.Errorf("mismatch in copied turns count: expected %d, got %d", len(rows), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*agent.TaskResult, error) {
	rows, err := s.pool.Query(ctx, pgSelectTask, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	rec := tasks[0]

	turnRows, err := s.pool.Query(ctx, pgSelectTurns, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer turnRows.Close()

	for turnRows.Next() {
		var (
			turn agent.Turn
			role string
		)
		if err := turnRows.Scan(&role, &turn.Content, &turn.Step, &turn.At); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.Role = agent.Role(role)
		rec.History = append(rec.History, turn)
	}
	if err := turnRows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, limit int) ([]agent.TaskResult, error) {
	rows, err := s.pool.Query(ctx, pgListTasks, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	return scanTaskRows(rows)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTaskRows(rows pgx.Rows) ([]agent.TaskResult, error) {
	defer rows.Close()

	var tasks []agent.TaskResult
	for rows.Next() {
		var (
			rec            agent.TaskResult
			status, reason string
		)
		err := rows.Scan(
			&rec.TaskID, &rec.Instruction, &status, &rec.Result, &reason,
			&rec.Steps, &rec.LastObservation, &rec.StartedAt, &rec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		rec.Status = agent.TaskStatus(status)
		rec.Reason = agent.FailureReason(reason)
		tasks = append(tasks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}
