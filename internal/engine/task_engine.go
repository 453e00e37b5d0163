// internal/engine/task_engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/config"
)

var (
	ErrNotRunning   = errors.New("task engine is not running")
	ErrQueueFull    = errors.New("task queue is full")
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFinished = errors.New("task already finished")
)

// -- Interfaces for Dependency Inversion --

// Runner executes one task to completion. agent.Agent implements it.
type Runner interface {
	RunTask(ctx context.Context, task *agent.Task) (*agent.TaskResult, error)
}

// Store persists task records. A nil Store disables persistence.
type Store interface {
	SaveTask(ctx context.Context, rec *agent.TaskResult) error
	GetTask(ctx context.Context, id string) (*agent.TaskResult, error)
}

// TaskHooks mark the boundary of each task; progress.Reporter implements it.
type TaskHooks interface {
	BeginTask(taskID string)
	EndTask(taskID, message string)
}

var _ Runner = (*agent.Agent)(nil)

// maxRetained bounds how many finished tasks stay queryable in memory.
const maxRetained = 256

// job is the engine's bookkeeping for one submitted task.
type job struct {
	task   *agent.Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status agent.TaskStatus
	result *agent.TaskResult
}

func (j *job) setStatus(s agent.TaskStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *job) snapshot() *agent.TaskResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result != nil {
		res := *j.result
		return &res
	}
	return &agent.TaskResult{TaskID: j.task.ID, Instruction: j.task.Instruction, Status: j.status}
}

// TaskEngine accepts tasks concurrently and runs them on a worker pool, each
// task holding a leased runner for its whole run.
type TaskEngine struct {
	cfg    config.EngineConfig
	logger *zap.Logger
	store  Store
	pool   *Pool
	hooks  TaskHooks

	queue chan *job
	// admission bounds queued plus running tasks.
	admission *semaphore.Weighted

	jobsMu   sync.Mutex
	jobs     map[string]*job
	finished []string

	wg sync.WaitGroup

	// stateLock protects the running state of the engine.
	stateLock  sync.Mutex
	isRunning  bool
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates a TaskEngine. store and hooks may be nil.
func New(cfg config.EngineConfig, logger *zap.Logger, store Store, pool *Pool, hooks TaskHooks) (*TaskEngine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if pool == nil {
		return nil, errors.New("runner pool cannot be nil")
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = pool.Size()
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	capacity := cfg.WorkerConcurrency + cfg.QueueSize
	return &TaskEngine{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "task_engine")),
		store:     store,
		pool:      pool,
		hooks:     hooks,
		queue:     make(chan *job, capacity),
		admission: semaphore.NewWeighted(int64(capacity)),
		jobs:      make(map[string]*job),
	}, nil
}

// Start launches the worker pool. Tasks run under contexts derived from ctx.
func (e *TaskEngine) Start(ctx context.Context) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.isRunning {
		e.logger.Warn("TaskEngine.Start called, but engine is already running.")
		return
	}
	e.baseCtx, e.cancelBase = context.WithCancel(ctx)
	e.isRunning = true

	e.logger.Info("Starting task engine worker pool",
		zap.Int("concurrency", e.cfg.WorkerConcurrency),
		zap.Int("sessions", e.pool.Size()))

	for i := 0; i < e.cfg.WorkerConcurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(i+1)
	}
}

// Stop cancels every queued and running task and waits for the workers.
func (e *TaskEngine) Stop() {
	e.stateLock.Lock()
	if !e.isRunning {
		e.stateLock.Unlock()
		return
	}
	e.isRunning = false
	e.cancelBase()
	e.stateLock.Unlock()

	e.logger.Info("Stopping task engine... waiting for workers to finish.")
	e.wg.Wait()
	e.drainQueue()
	e.logger.Info("Task engine stopped gracefully.")
}

// Submit queues an instruction and returns the pending task.
func (e *TaskEngine) Submit(instruction string) (*agent.Task, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, agent.ErrEmptyInstruction
	}

	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if !e.isRunning {
		return nil, ErrNotRunning
	}
	if !e.admission.TryAcquire(1) {
		return nil, ErrQueueFull
	}

	task := agent.NewTask(instruction)
	ctx, cancel := context.WithCancel(e.baseCtx)
	j := &job{task: task, ctx: ctx, cancel: cancel, done: make(chan struct{}), status: agent.StatusPending}

	e.jobsMu.Lock()
	e.jobs[task.ID] = j
	e.jobsMu.Unlock()

	e.persist(&agent.TaskResult{TaskID: task.ID, Instruction: task.Instruction, Status: agent.StatusPending})

	// Capacity equals the admission weight, so this never blocks.
	e.queue <- j
	e.logger.Info("Task queued.", zap.String("task_id", task.ID))
	return task, nil
}

// Wait blocks until the task finishes or ctx is done.
func (e *TaskEngine) Wait(ctx context.Context, id string) (*agent.TaskResult, error) {
	j := e.lookup(id)
	if j == nil {
		return nil, ErrTaskNotFound
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run submits an instruction and waits for its result. If ctx ends first the
// task is cancelled and its cancelled result returned.
func (e *TaskEngine) Run(ctx context.Context, instruction string) (*agent.TaskResult, error) {
	task, err := e.Submit(instruction)
	if err != nil {
		return nil, err
	}
	res, err := e.Wait(ctx, task.ID)
	if err == nil {
		return res, nil
	}
	_ = e.Cancel(task.ID)
	return e.Wait(context.Background(), task.ID)
}

// Get returns the current view of a task, falling back to the store for
// tasks no longer held in memory.
func (e *TaskEngine) Get(ctx context.Context, id string) (*agent.TaskResult, error) {
	if j := e.lookup(id); j != nil {
		return j.snapshot(), nil
	}
	if e.store == nil {
		return nil, ErrTaskNotFound
	}
	rec, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskNotFound, err)
	}
	return rec, nil
}

// Cancel requests cooperative cancellation of a queued or running task.
func (e *TaskEngine) Cancel(id string) error {
	j := e.lookup(id)
	if j == nil {
		return ErrTaskNotFound
	}
	select {
	case <-j.done:
		return ErrTaskFinished
	default:
	}
	j.cancel()
	e.logger.Info("Task cancellation requested.", zap.String("task_id", id))
	return nil
}

func (e *TaskEngine) lookup(id string) *job {
	e.jobsMu.Lock()
	defer e.jobsMu.Unlock()
	return e.jobs[id]
}

// runWorker is the main loop for a single worker goroutine.
func (e *TaskEngine) runWorker(workerID int) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-e.baseCtx.Done():
			logger.Debug("Context cancelled, worker shutting down.")
			return
		case j := <-e.queue:
			e.process(j, logger)
		}
	}
}

// process runs one job and records its terminal result.
func (e *TaskEngine) process(j *job, logger *zap.Logger) {
	logger = logger.With(zap.String("task_id", j.task.ID))

	if j.ctx.Err() != nil {
		logger.Info("Task cancelled before it started.")
		e.complete(j, cancelledResult(j.task))
		return
	}

	runner, err := e.pool.Acquire(j.ctx)
	if err != nil {
		logger.Info("Task cancelled while waiting for a browser session.")
		e.complete(j, cancelledResult(j.task))
		return
	}

	j.setStatus(agent.StatusRunning)
	e.persist(&agent.TaskResult{
		TaskID: j.task.ID, Instruction: j.task.Instruction,
		Status: agent.StatusRunning, StartedAt: time.Now().UTC(),
	})
	if e.hooks != nil {
		e.hooks.BeginTask(j.task.ID)
	}

	timeout := e.cfg.DefaultTaskTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(j.ctx, timeout)
	defer cancel()

	logger.Info("Processing task")
	res, err := runner.RunTask(taskCtx, j.task)
	e.pool.Release(runner)
	if err != nil {
		logger.Error("Task could not be run.", zap.Error(err))
		now := time.Now().UTC()
		res = &agent.TaskResult{
			TaskID: j.task.ID, Instruction: j.task.Instruction,
			Status: agent.StatusFailed, LastObservation: err.Error(),
			StartedAt: now, FinishedAt: now,
		}
	}
	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("Task processing timed out", zap.Duration("timeout", timeout))
	}

	if e.hooks != nil {
		e.hooks.EndTask(j.task.ID, res.Summary())
	}
	e.complete(j, res)
}

// complete records the terminal result, frees the job's admission slot and
// wakes waiters.
func (e *TaskEngine) complete(j *job, res *agent.TaskResult) {
	j.cancel()
	e.persist(res)
	e.admission.Release(1)

	j.mu.Lock()
	j.status = res.Status
	j.result = res
	j.mu.Unlock()
	close(j.done)

	e.jobsMu.Lock()
	defer e.jobsMu.Unlock()
	e.finished = append(e.finished, j.task.ID)
	for len(e.finished) > maxRetained {
		delete(e.jobs, e.finished[0])
		e.finished = e.finished[1:]
	}
}

// persist saves a record on a background context so results of a task
// cancelled during shutdown are still written.
func (e *TaskEngine) persist(rec *agent.TaskResult) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.store.SaveTask(ctx, rec); err != nil {
		e.logger.Error("Failed to persist task", zap.String("task_id", rec.TaskID), zap.Error(err))
	}
}

// drainQueue completes jobs that no worker picked up before shutdown.
func (e *TaskEngine) drainQueue() {
	for {
		select {
		case j := <-e.queue:
			e.complete(j, cancelledResult(j.task))
		default:
			return
		}
	}
}

func cancelledResult(task *agent.Task) *agent.TaskResult {
	now := time.Now().UTC()
	return &agent.TaskResult{
		TaskID:      task.ID,
		Instruction: task.Instruction,
		Status:      agent.StatusCancelled,
		StartedAt:   now,
		FinishedAt:  now,
	}
}
