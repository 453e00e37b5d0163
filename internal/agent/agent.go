// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/llmutil"
	"github.com/xkilldash9x/palmtree/internal/metrics"
	"github.com/xkilldash9x/palmtree/internal/progress"
	"github.com/xkilldash9x/palmtree/internal/tools"
)

// Dependencies are the collaborators an Agent drives. Progress and Metrics
// are optional.
type Dependencies struct {
	LLM      LLM
	Session  BrowserSession
	Tools    ActionExecutor
	Progress progress.Writer
	Metrics  *metrics.Collector
}

// Agent runs the plan, act, observe loop for one task at a time against one
// browser session.
type Agent struct {
	cfg      config.AgentConfig
	retry    config.InferenceConfig
	llm      LLM
	session  BrowserSession
	tools    ActionExecutor
	progress progress.Writer
	metrics  *metrics.Collector
	logger   *zap.Logger

	systemPrompt string
	newBackOff   func() backoff.BackOff

	// runMu keeps tasks on this agent strictly sequential.
	runMu sync.Mutex
}

// New validates the dependencies and returns an Agent.
func New(cfg config.AgentConfig, retry config.InferenceConfig, deps Dependencies, logger *zap.Logger) (*Agent, error) {
	if deps.LLM == nil {
		return nil, errors.New("agent requires an LLM")
	}
	if deps.Session == nil {
		return nil, errors.New("agent requires a browser session")
	}
	if deps.Tools == nil {
		return nil, errors.New("agent requires an action executor")
	}
	if cfg.MaxSteps <= 0 {
		return nil, fmt.Errorf("agent max_steps must be positive, got %d", cfg.MaxSteps)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reporter := deps.Progress
	if reporter == nil {
		reporter = nopWriter{}
	}

	a := &Agent{
		cfg:          cfg,
		retry:        retry,
		llm:          deps.LLM,
		session:      deps.Session,
		tools:        deps.Tools,
		progress:     reporter,
		metrics:      deps.Metrics,
		logger:       logger.Named("agent"),
		systemPrompt: BuildSystemPrompt(),
	}
	a.newBackOff = a.defaultBackOff
	return a, nil
}

func (a *Agent) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if a.retry.InitialBackoff > 0 {
		b.InitialInterval = a.retry.InitialBackoff
	}
	if a.retry.MaxBackoff > 0 {
		b.MaxInterval = a.retry.MaxBackoff
	}
	// Attempts are bounded by max_retries, not wall time.
	b.MaxElapsedTime = 0
	return b
}

// Run creates a task for the instruction and runs it to completion.
func (a *Agent) Run(ctx context.Context, instruction string) (*TaskResult, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, ErrEmptyInstruction
	}
	return a.RunTask(ctx, NewTask(instruction))
}

// RunTask drives a pre-created task until it finishes, fails, runs out of
// steps or ctx is cancelled. The returned error is only set for unusable
// input; every other outcome is described by the result.
func (a *Agent) RunTask(ctx context.Context, task *Task) (*TaskResult, error) {
	if task == nil || strings.TrimSpace(task.Instruction) == "" {
		return nil, ErrEmptyInstruction
	}

	a.runMu.Lock()
	defer a.runMu.Unlock()

	r := &run{
		agent:   a,
		task:    task,
		history: NewHistory(),
		logger:  a.logger.With(zap.String("task_id", task.ID)),
		result: &TaskResult{
			TaskID:      task.ID,
			Instruction: task.Instruction,
			Status:      StatusRunning,
			StartedAt:   time.Now().UTC(),
		},
	}
	task.Status = StatusRunning
	return r.execute(ctx), nil
}

// run holds the mutable state of one task execution.
type run struct {
	agent   *Agent
	task    *Task
	history *History
	logger  *zap.Logger
	result  *TaskResult
	steps   int
}

func (r *run) execute(ctx context.Context) *TaskResult {
	a := r.agent
	r.logger.Info("Task started.", zap.String("instruction", llmutil.Truncate(r.task.Instruction, 200)))

	r.history.Append(RoleSystem, a.systemPrompt, 0)
	r.history.Append(RoleUser, r.task.Instruction, 0)

	if a.session.State() != session.StateReady {
		if err := a.session.Start(ctx); err != nil {
			r.logger.Error("Browser session failed to start.", zap.Error(err))
			r.result.LastObservation = err.Error()
			return r.finish(StatusFailed, ReasonBrowserUnavailable, "")
		}
	}

	for {
		if ctx.Err() != nil {
			return r.interrupted(ctx)
		}
		if r.steps >= a.cfg.MaxSteps {
			return r.finish(StatusFailed, ReasonStepLimitExceeded, "")
		}

		hc := a.cfg.History
		if r.history.Bound(hc.MaxTurns, hc.MaxChars, hc.KeepRecent) {
			r.logger.Debug("Conversation history bounded.", zap.Int("visible_turns", r.history.Len()))
		}

		a.progress.SetPhase(progress.PhasePlanning, fmt.Sprintf("Planning step %d", r.steps+1), r.percent())
		completion, err := r.infer(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx)
			}
			r.logger.Error("Inference failed.", zap.Error(err))
			r.result.LastObservation = err.Error()
			return r.finish(StatusFailed, ReasonInferenceUnavailable, "")
		}

		r.steps++
		r.history.Append(RoleAssistant, completion, r.steps)

		decoded, err := tools.ParseCompletion(completion)
		if err != nil {
			r.observe(tools.Observation{
				Action:  tools.Kind("unknown"),
				Failure: tools.FailureInvalidAction,
				Message: err.Error(),
			})
			continue
		}
		if decoded.Thought != "" {
			r.logger.Debug("Planner thought.", zap.Int("step", r.steps), zap.String("thought", decoded.Thought))
		}

		if _, ok := decoded.Action.(tools.Finish); ok {
			valid, err := tools.Validate(decoded.Action)
			if err != nil {
				r.observe(tools.Observation{
					Action:  tools.KindFinish,
					Failure: tools.FailureInvalidAction,
					Message: err.Error(),
				})
				continue
			}
			return r.finish(StatusSucceeded, "", valid.(tools.Finish).Result)
		}

		a.progress.SetPhase(progress.PhaseActing, tools.Describe(decoded.Action), r.percent())
		obs := a.tools.Execute(ctx, decoded.Action)
		r.observe(obs)
		a.progress.SetPhase(progress.PhaseObserving, observationMessage(obs), r.percent())

		if obs.Failure == tools.FailureProtocolDisconnected {
			return r.finish(StatusFailed, ReasonBrowserUnavailable, "")
		}
	}
}

// interrupted ends a run whose context is done. A passed deadline fails the
// task; anything else is a cancellation.
func (r *run) interrupted(ctx context.Context) *TaskResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("Task deadline exceeded.", zap.Int("step", r.steps))
		return r.finish(StatusFailed, ReasonTaskTimeout, "")
	}
	return r.finish(StatusCancelled, "", "")
}

// infer calls the model, retrying transient failures with exponential backoff.
func (r *run) infer(ctx context.Context) (string, error) {
	a := r.agent
	req := llmclient.ChatRequest{
		Messages:    BuildMessages(r.history.Turns()),
		Temperature: a.cfg.Temperature,
		JSON:        true,
	}

	var content string
	operation := func() error {
		start := time.Now()
		resp, err := a.llm.Chat(ctx, req)
		if err != nil {
			a.metrics.RecordInference("error", time.Since(start))
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !llmclient.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		a.metrics.RecordInference("success", time.Since(start))
		content = resp.Content
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.metrics.RecordInferenceRetry()
		r.logger.Warn("Inference attempt failed, retrying.", zap.Error(err), zap.Duration("backoff", wait))
	}

	retries := a.retry.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(a.newBackOff(), uint64(retries)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return "", err
	}
	return content, nil
}

func (r *run) observe(obs tools.Observation) {
	rendered := obs.Render()
	r.history.Append(RoleObservation, rendered, r.steps)
	r.result.LastObservation = rendered
}

func (r *run) percent() int {
	return r.steps * 100 / r.agent.cfg.MaxSteps
}

func (r *run) finish(status TaskStatus, reason FailureReason, result string) *TaskResult {
	a := r.agent
	res := r.result
	res.Status = status
	res.Reason = reason
	res.Result = result
	res.Steps = r.steps
	res.History = r.history.All()
	res.FinishedAt = time.Now().UTC()

	r.task.Status = status
	r.task.Result = result

	a.metrics.RecordTask(string(status), string(reason), r.steps)

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("steps", r.steps),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	}
	switch status {
	case StatusSucceeded:
		r.logger.Info("Task succeeded.", fields...)
		a.progress.SetPhase(progress.PhaseDone, "Task complete", 100)
	case StatusCancelled:
		r.logger.Info("Task cancelled.", fields...)
		a.progress.SetPhase(progress.PhaseDone, "Task cancelled", 100)
	default:
		r.logger.Warn("Task failed.", append(fields, zap.String("reason", string(reason)))...)
		a.progress.SetPhase(progress.PhaseDone, "Task failed: "+string(reason), 100)
	}
	return res
}

func observationMessage(obs tools.Observation) string {
	if obs.Success {
		return fmt.Sprintf("%s succeeded", obs.Action)
	}
	return fmt.Sprintf("%s failed: %s", obs.Action, obs.Failure)
}

type nopWriter struct{}

func (nopWriter) SetPhase(progress.Phase, string, int) {}
