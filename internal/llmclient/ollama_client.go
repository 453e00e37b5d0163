// internal/llmclient/ollama_client.go
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Chat roles understood by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single non-streaming completion request.
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	// JSON asks the backend to constrain output to a JSON document.
	JSON bool
}

// ChatResponse carries the completion and its accounting.
type ChatResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// ModelInfo describes a locally available model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// PullProgress is reported while a model downloads.
type PullProgress struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// -- Ollama wire format --

type ollamaOptions struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

type ollamaTagsResponse struct {
	Models []ModelInfo `json:"models"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type ollamaPullStatus struct {
	PullProgress
	Error string `json:"error"`
}

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	endpoint    string
	model       string
	contextSize int
	cfg         config.InferenceConfig
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewOllamaClient builds a client for the configured endpoint. model and
// contextSize are the resolved values (see ResolveModel).
func NewOllamaClient(cfg config.InferenceConfig, model string, contextSize int, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Provider != "" && cfg.Provider != config.ProviderOllama {
		return nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
	}
	endpoint, err := NormalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if model == "" || model == config.ModelAuto {
		return nil, fmt.Errorf("a concrete model name is required")
	}

	return &OllamaClient{
		endpoint:    endpoint,
		model:       model,
		contextSize: contextSize,
		cfg:         cfg,
		// Per-request deadlines come from the context; the client itself never times out.
		httpClient: &http.Client{},
		logger:     logger.Named("llm_client.ollama"),
	}, nil
}

// NormalizeEndpoint accepts OLLAMA_HOST style values such as "127.0.0.1:11434"
// or "0.0.0.0:11434" and returns a base URL without a trailing slash.
func NormalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("inference endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid inference endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid inference endpoint %q: missing host", raw)
	}
	// A bind-all listen address is not dialable everywhere.
	if host := u.Hostname(); host == "0.0.0.0" || host == "::" {
		port := u.Port()
		if port == "" {
			port = "11434"
		}
		u.Host = net.JoinHostPort("127.0.0.1", port)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func (c *OllamaClient) Model() string    { return c.model }
func (c *OllamaClient) ContextSize() int { return c.contextSize }
func (c *OllamaClient) Endpoint() string { return c.endpoint }

// Chat sends one completion request. It does not retry; callers decide with
// IsRetryable.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: req.Messages,
		Stream:   false,
		Options: ollamaOptions{
			NumCtx:      c.contextSize,
			Temperature: req.Temperature,
		},
	}
	if req.JSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	start := time.Now()
	respBody, err := c.do(ctx, http.MethodPost, "/api/chat", body, c.cfg.RequestTimeout)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("Chat request failed.", zap.Duration("duration", duration), zap.Error(err))
		return nil, err
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: undecodable chat response: %v", ErrBackend, err)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Info("Inference complete.",
		zap.String("model", out.Model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", out.PromptEvalCount),
		zap.Int("completion_tokens", out.EvalCount),
	)

	return &ChatResponse{
		Content:          out.Message.Content,
		Model:            out.Model,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		Duration:         duration,
	}, nil
}

// ListModels returns the models installed on the backend.
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/api/tags", nil, 10*time.Second)
	if err != nil {
		return nil, err
	}
	var tags ollamaTagsResponse
	if err := json.Unmarshal(respBody, &tags); err != nil {
		return nil, fmt.Errorf("%w: undecodable model list: %v", ErrBackend, err)
	}
	return tags.Models, nil
}

// Ping checks that the backend answers.
func (c *OllamaClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// HasModel reports whether model (or model:latest) is installed.
func (c *OllamaClient) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == model || m.Name == model+":latest" {
			return true, nil
		}
	}
	return false, nil
}

// WaitReady polls the backend until it answers, up to inference.ready_attempts
// times spaced inference.ready_interval apart.
func (c *OllamaClient) WaitReady(ctx context.Context) error {
	attempts := c.cfg.ReadyAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := c.cfg.ReadyInterval
	if interval <= 0 {
		interval = time.Second
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.Ping(ctx)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Debug("Inference backend not ready yet.", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, b)
	if err != nil {
		return fmt.Errorf("inference backend at %s not ready after %d attempts: %w", c.endpoint, attempt, err)
	}
	c.logger.Info("Inference backend ready.", zap.String("endpoint", c.endpoint), zap.Int("attempts", attempt))
	return nil
}

// Pull downloads model, reporting progress to fn when it is non-nil.
func (c *OllamaClient) Pull(ctx context.Context, model string, fn func(PullProgress)) error {
	body, err := json.Marshal(ollamaPullRequest{Model: model, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to marshal pull request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create pull request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, respBody)
	}

	c.logger.Info("Pulling model.", zap.String("model", model))
	dec := json.NewDecoder(resp.Body)
	for {
		var status ollamaPullStatus
		if err := dec.Decode(&status); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%w: reading pull progress: %v", ErrBackend, err)
		}
		if status.Error != "" {
			return fmt.Errorf("%w: pull %s: %s", ErrRequest, model, status.Error)
		}
		if fn != nil {
			fn(status.PullProgress)
		}
		if status.Status == "success" {
			c.logger.Info("Model pulled.", zap.String("model", model))
			return nil
		}
	}
	return fmt.Errorf("%w: pull %s ended without success", ErrBackend, model)
}

// EnsureModel pulls the configured model if the backend does not have it.
func (c *OllamaClient) EnsureModel(ctx context.Context, fn func(PullProgress)) error {
	ok, err := c.HasModel(ctx, c.model)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return c.Pull(ctx, c.model, fn)
}

// do performs one request bounded by timeout and returns the 200 body.
func (c *OllamaClient) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// transportError separates caller cancellation (returned as is), our own
// deadline (ErrTimeout) and everything else (ErrUnreachable).
func (c *OllamaClient) transportError(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, c.cfg.RequestTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
