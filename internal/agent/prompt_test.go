// internal/agent/prompt_test.go
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/tools"
)

func TestBuildSystemPromptListsEveryAction(t *testing.T) {
	prompt := BuildSystemPrompt()
	for _, kind := range tools.Kinds {
		assert.Contains(t, prompt, `"type": "`+string(kind)+`"`)
	}
	assert.Contains(t, prompt, "selector_not_found")
	assert.Contains(t, prompt, "login_required")
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages([]Turn{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "task"},
		{Role: RoleAssistant, Content: `{"action":{"type":"finish"}}`},
		{Role: RoleObservation, Content: `{"success":true}`},
		{Role: RoleUser, Content: "[2 earlier turns omitted]", Summary: true},
	})

	assert.Equal(t, []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: "sys"},
		{Role: llmclient.RoleUser, Content: "task"},
		{Role: llmclient.RoleAssistant, Content: `{"action":{"type":"finish"}}`},
		{Role: llmclient.RoleUser, Content: `OBSERVATION: {"success":true}`},
		{Role: llmclient.RoleUser, Content: "[2 earlier turns omitted]"},
	}, msgs)
}
