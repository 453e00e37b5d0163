// internal/llmclient/tiers.go
package llmclient

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/config"
)

const gib = 1 << 30

// ModelTier pairs a model with the context window it can afford.
type ModelTier struct {
	Model       string `json:"model" yaml:"model"`
	ContextSize int    `json:"context_size" yaml:"context_size"`
	MinRAM      uint64 `json:"min_ram" yaml:"min_ram"`
}

// Tiers are ordered largest first.
var Tiers = []ModelTier{
	{Model: "qwen3:8b", ContextSize: 32768, MinRAM: 16 * gib},
	{Model: "qwen3:4b", ContextSize: 16384, MinRAM: 8 * gib},
	{Model: "qwen3:1.7b", ContextSize: 8192, MinRAM: 4 * gib},
	{Model: "qwen3:0.6b", ContextSize: 4096, MinRAM: 0},
}

// SelectModelTier picks the largest tier that fits in ramBytes.
func SelectModelTier(ramBytes uint64) ModelTier {
	for _, tier := range Tiers {
		if ramBytes >= tier.MinRAM {
			return tier
		}
	}
	return Tiers[len(Tiers)-1]
}

// ResolveModel settles the "auto" model and a zero context size against the
// host's memory. An explicit model keeps its name; its context size falls
// back to the tier the host could run.
func ResolveModel(cfg config.InferenceConfig, logger *zap.Logger) (model string, contextSize int) {
	model, contextSize = cfg.Model, cfg.ContextSize
	if model != config.ModelAuto && model != "" && contextSize > 0 {
		return model, contextSize
	}

	ram, err := TotalMemory()
	if err != nil {
		logger.Warn("Could not read host memory, assuming the smallest model tier.", zap.Error(err))
	}
	tier := SelectModelTier(ram)

	if model == config.ModelAuto || model == "" {
		model = tier.Model
	}
	if contextSize <= 0 {
		contextSize = tier.ContextSize
	}
	logger.Info("Resolved inference model.",
		zap.String("model", model),
		zap.Int("context_size", contextSize),
		zap.Float64("ram_gib", float64(ram)/gib))
	return model, contextSize
}
