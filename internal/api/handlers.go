// File: internal/api/handlers.go
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/engine"
	"github.com/xkilldash9x/palmtree/internal/progress"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// ChatRequest is the body of POST /api/v1/chat and POST /api/v1/tasks.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries either the agent's answer or an error.
type ChatResponse struct {
	Response string           `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
	TaskID   string           `json:"task_id,omitempty"`
	Status   agent.TaskStatus `json:"status,omitempty"`
	Steps    int              `json:"steps,omitempty"`
}

// TaskAccepted is returned when a task is queued or cancelled.
type TaskAccepted struct {
	TaskID string           `json:"task_id"`
	Status agent.TaskStatus `json:"status"`
}

// Handlers manages the HTTP request handling.
type Handlers struct {
	log     *zap.Logger
	tasks   TaskService
	status  progress.Reader
	history TaskLister
}

// NewHandlers creates a new Handlers instance. history may be nil.
func NewHandlers(logger *zap.Logger, tasks TaskService, status progress.Reader, history TaskLister) *Handlers {
	return &Handlers{
		log:     logger.Named("api_handlers"),
		tasks:   tasks,
		status:  status,
		history: history,
	}
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleStatus returns the current progress snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, h.log, http.StatusOK, h.status.Get())
}

// HandleChat runs an instruction to completion and answers with its result.
// Closing the request cancels the task.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.decodeMessage(w, r)
	if !ok {
		return
	}

	h.log.Info("Chat request received.", zap.Int("length", len(msg)))
	res, err := h.tasks.Run(r.Context(), msg)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}

	resp := ChatResponse{TaskID: res.TaskID, Status: res.Status, Steps: res.Steps}
	if res.Status == agent.StatusSucceeded {
		resp.Response = res.Result
	} else {
		resp.Error = res.Summary()
	}
	respondJSON(w, h.log, http.StatusOK, resp)
}

// HandleSubmitTask queues an instruction and returns its id.
func (h *Handlers) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.decodeMessage(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.Submit(msg)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/tasks/"+task.ID)
	respondJSON(w, h.log, http.StatusAccepted, TaskAccepted{TaskID: task.ID, Status: task.Status})
}

// HandleGetTask returns a task's current or terminal record.
func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	res, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrTaskNotFound) {
			respondError(w, h.log, http.StatusNotFound, "task not found")
			return
		}
		h.log.Error("Failed to load task.", zap.String("task_id", id), zap.Error(err))
		respondError(w, h.log, http.StatusInternalServerError, "failed to load task")
		return
	}
	respondJSON(w, h.log, http.StatusOK, res)
}

// HandleCancelTask requests cancellation of a queued or running task.
func (h *Handlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	switch err := h.tasks.Cancel(id); {
	case err == nil:
		respondJSON(w, h.log, http.StatusAccepted, TaskAccepted{TaskID: id, Status: agent.StatusCancelled})
	case errors.Is(err, engine.ErrTaskNotFound):
		respondError(w, h.log, http.StatusNotFound, "task not found")
	case errors.Is(err, engine.ErrTaskFinished):
		respondError(w, h.log, http.StatusConflict, "task already finished")
	default:
		respondError(w, h.log, http.StatusInternalServerError, err.Error())
	}
}

// HandleListTasks returns recent persisted tasks. ?limit=N caps the list.
func (h *Handlers) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, h.log, http.StatusServiceUnavailable, "task history is unavailable (persistence disabled)")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, h.log, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks, err := h.history.ListTasks(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to list tasks.", zap.Error(err))
		respondError(w, h.log, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []agent.TaskResult{}
	}
	respondJSON(w, h.log, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (h *Handlers) decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respondError(w, h.log, http.StatusBadRequest, "failed to read request body")
		return "", false
	}
	if len(body) > maxBodyBytes {
		respondError(w, h.log, http.StatusRequestEntityTooLarge, "request body too large")
		return "", false
	}

	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		respondError(w, h.log, http.StatusBadRequest, "message is required")
		return "", false
	}
	return msg, true
}

func (h *Handlers) respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrEmptyInstruction):
		respondError(w, h.log, http.StatusBadRequest, "message is required")
	case errors.Is(err, engine.ErrQueueFull):
		respondError(w, h.log, http.StatusTooManyRequests, "task queue is full")
	case errors.Is(err, engine.ErrNotRunning):
		respondError(w, h.log, http.StatusServiceUnavailable, "agent is not running")
	default:
		h.log.Error("Task submission failed.", zap.Error(err))
		respondError(w, h.log, http.StatusInternalServerError, err.Error())
	}
}

func respondError(w http.ResponseWriter, log *zap.Logger, statusCode int, message string) {
	respondJSON(w, log, statusCode, ChatResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, log *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("Failed to encode response", zap.Error(err))
	}
}
