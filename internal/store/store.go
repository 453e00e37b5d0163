// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/config"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("task not found")

// Repository persists task records and their conversation history.
type Repository interface {
	// SaveTask upserts the task row and replaces its stored turns with rec.History.
	SaveTask(ctx context.Context, rec *agent.TaskResult) error
	// GetTask loads one task including its full history.
	GetTask(ctx context.Context, id string) (*agent.TaskResult, error)
	// ListTasks returns the most recent tasks first, without history.
	ListTasks(ctx context.Context, limit int) ([]agent.TaskResult, error)
	Close() error
}

// DefaultListLimit caps ListTasks when the caller passes no limit.
const DefaultListLimit = 50

// Open builds the repository selected by cfg.Driver. The "none" driver
// returns a nil repository and no error.
func Open(ctx context.Context, cfg config.DatabaseConfig, sqlitePath string, logger *zap.Logger) (Repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		logger.Info("Task persistence disabled.")
		return nil, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, sqlitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
