// internal/agent/models.go
package agent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyInstruction is returned when a task has nothing to do.
var ErrEmptyInstruction = errors.New("task instruction must not be empty")

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// FailureReason explains a failed task.
type FailureReason string

const (
	ReasonStepLimitExceeded    FailureReason = "step_limit_exceeded"
	ReasonBrowserUnavailable   FailureReason = "browser_unavailable"
	ReasonInferenceUnavailable FailureReason = "inference_unavailable"
	// ReasonTaskTimeout is a run stopped by its deadline rather than by a caller.
	ReasonTaskTimeout FailureReason = "task_timeout"
)

// Task is one natural-language instruction to carry out.
type Task struct {
	ID          string     `json:"id"`
	Instruction string     `json:"instruction"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewTask returns a pending task with a fresh id.
func NewTask(instruction string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// TaskResult is the terminal record of a task run. History holds every turn,
// including those bounded out of the model's window.
type TaskResult struct {
	TaskID          string        `json:"task_id"`
	Instruction     string        `json:"instruction"`
	Status          TaskStatus    `json:"status"`
	Result          string        `json:"result,omitempty"`
	Reason          FailureReason `json:"reason,omitempty"`
	Steps           int           `json:"steps"`
	LastObservation string        `json:"last_observation,omitempty"`
	History         []Turn        `json:"history"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
}

// Summary is a one-line description suitable for a chat reply.
func (r *TaskResult) Summary() string {
	switch r.Status {
	case StatusSucceeded:
		return r.Result
	case StatusCancelled:
		return "Task cancelled."
	default:
		msg := "Task failed: " + string(r.Reason)
		if r.LastObservation != "" {
			msg += " (last observation: " + r.LastObservation + ")"
		}
		return msg
	}
}
