// internal/llmclient/tiers_test.go
package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/config"
)

func TestSelectModelTier(t *testing.T) {
	tests := []struct {
		ram   uint64
		model string
		ctx   int
	}{
		{64 * gib, "qwen3:8b", 32768},
		{16 * gib, "qwen3:8b", 32768},
		{16*gib - 1, "qwen3:4b", 16384},
		{8 * gib, "qwen3:4b", 16384},
		{6 * gib, "qwen3:1.7b", 8192},
		{4 * gib, "qwen3:1.7b", 8192},
		{2 * gib, "qwen3:0.6b", 4096},
		{0, "qwen3:0.6b", 4096},
	}
	for _, tt := range tests {
		tier := SelectModelTier(tt.ram)
		assert.Equal(t, tt.model, tier.Model, "ram=%d", tt.ram)
		assert.Equal(t, tt.ctx, tier.ContextSize, "ram=%d", tt.ram)
	}
}

func TestResolveModel(t *testing.T) {
	explicit := config.InferenceConfig{Model: "llama3:8b", ContextSize: 4096}
	model, ctx := ResolveModel(explicit, zap.NewNop())
	assert.Equal(t, "llama3:8b", model)
	assert.Equal(t, 4096, ctx)

	auto := config.InferenceConfig{Model: config.ModelAuto}
	model, ctx = ResolveModel(auto, zap.NewNop())
	ram, _ := TotalMemory()
	tier := SelectModelTier(ram)
	assert.Equal(t, tier.Model, model)
	assert.Equal(t, tier.ContextSize, ctx)

	explicitNoCtx := config.InferenceConfig{Model: "llama3:8b"}
	model, ctx = ResolveModel(explicitNoCtx, zap.NewNop())
	assert.Equal(t, "llama3:8b", model)
	assert.Equal(t, tier.ContextSize, ctx)
}
