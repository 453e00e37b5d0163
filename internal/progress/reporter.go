// Package progress holds the process-wide readiness state consumed by the API.
package progress

import (
	"sync"
	"time"
)

// Phase names a coarse stage of the agent's lifecycle.
type Phase string

const (
	PhaseInitializing    Phase = "initializing"
	PhaseBrowserStarting Phase = "browser_starting"
	PhaseIdle            Phase = "idle"
	PhasePlanning        Phase = "planning"
	PhaseActing          Phase = "acting"
	PhaseObserving       Phase = "observing"
	PhaseDone            Phase = "done"
	PhaseError           Phase = "error"
)

// Ready reports whether the phase means the backend and browser can take work.
func (p Phase) Ready() bool {
	switch p {
	case PhaseInitializing, PhaseBrowserStarting, PhaseError, "":
		return false
	default:
		return true
	}
}

// Snapshot is the latest reported state. Consumers poll; nothing is queued.
type Snapshot struct {
	Ready     bool      `json:"ready"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"status_message"`
	Progress  int       `json:"progress"`
	TaskID    string    `json:"task_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Writer is handed to the components allowed to change the state: the
// orchestrator and the browser session lifecycle.
type Writer interface {
	SetPhase(phase Phase, message string, percent int)
}

// Reader is handed to consumers such as the status API.
type Reader interface {
	Get() Snapshot
}

// Reporter is the single process-wide status holder. Construct one at the
// composition root and inject Writer/Reader views.
type Reporter struct {
	mu     sync.RWMutex
	snap   Snapshot
	active string
	now    func() time.Time
}

var (
	_ Writer = (*Reporter)(nil)
	_ Reader = (*Reporter)(nil)
)

// NewReporter returns a reporter in the initializing phase.
func NewReporter() *Reporter {
	r := &Reporter{now: time.Now}
	r.snap = Snapshot{Phase: PhaseInitializing, Message: "starting up", UpdatedAt: r.now().UTC()}
	return r
}

// SetPhase overwrites the snapshot. Percent is clamped to 0..100.
func (r *Reporter) SetPhase(phase Phase, message string, percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = Snapshot{
		Ready:     phase.Ready(),
		Phase:     phase,
		Message:   message,
		Progress:  percent,
		TaskID:    r.active,
		UpdatedAt: r.now().UTC(),
	}
}

// Get returns a copy of the latest snapshot.
func (r *Reporter) Get() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// BeginTask marks the start of a task run. Subsequent snapshots carry the task id.
func (r *Reporter) BeginTask(taskID string) {
	r.mu.Lock()
	r.active = taskID
	r.mu.Unlock()
	r.SetPhase(PhasePlanning, "task accepted", 0)
}

// EndTask closes the task boundary. The final message stays visible with the
// done phase until the next writer overwrites it; a stale EndTask for a task
// that is no longer active is ignored.
func (r *Reporter) EndTask(taskID, message string) {
	r.mu.Lock()
	if r.active != taskID {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.SetPhase(PhaseDone, message, 100)

	r.mu.Lock()
	r.active = ""
	r.mu.Unlock()
}
