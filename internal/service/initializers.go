// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/progress"
	"github.com/xkilldash9x/palmtree/internal/store"
)

// InitializeStore opens the configured task repository. A nil repository
// means persistence is disabled.
func InitializeStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (store.Repository, error) {
	repo, err := store.Open(ctx, cfg.Database(), cfg.SQLitePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task store: %w", err)
	}
	return repo, nil
}

// InitializeLLMClient resolves the model, waits for the backend and, when
// inference.pull_on_start is set, downloads a missing model. reporter may be nil.
func InitializeLLMClient(ctx context.Context, cfg config.InferenceConfig, logger *zap.Logger, reporter progress.Writer) (*llmclient.OllamaClient, error) {
	model, contextSize := llmclient.ResolveModel(cfg, logger)
	client, err := llmclient.NewOllamaClient(cfg, model, contextSize, logger)
	if err != nil {
		return nil, err
	}

	report(reporter, "Waiting for inference backend", 0)
	if err := client.WaitReady(ctx); err != nil {
		report(reporter, "Inference backend unavailable", 0)
		return nil, err
	}

	if cfg.PullOnStart {
		err := client.EnsureModel(ctx, func(p llmclient.PullProgress) {
			percent := 0
			if p.Total > 0 {
				percent = int(p.Completed * 100 / p.Total)
			}
			report(reporter, fmt.Sprintf("Pulling %s: %s", model, p.Status), percent)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure model %s: %w", model, err)
		}
	} else if ok, err := client.HasModel(ctx, model); err == nil && !ok {
		logger.Warn("Model is not installed; requests will fail until it is pulled.",
			zap.String("model", model),
			zap.String("hint", "palmtree models --pull"))
	}
	return client, nil
}

func report(w progress.Writer, message string, percent int) {
	if w != nil {
		w.SetPhase(progress.PhaseInitializing, message, percent)
	}
}
