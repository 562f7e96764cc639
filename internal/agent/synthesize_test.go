package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/incidentops/incident-agent/internal/llm/types"
)

func TestSynthesizePicksMostRecentQualifyingMessage(t *testing.T) {
	long1 := "An earlier exploratory finding that is comfortably over the threshold length."
	long2 := "Root cause: deployment abc123 introduced added latency. Confidence: High."

	messages := []types.Message{
		{Role: types.RoleUser, Content: "begin"},
		{Role: types.RoleAssistant, Content: long1},
		{Role: types.RoleUser, Content: "context"},
		{Role: types.RoleAssistant, Content: long2},
	}
	assert.Equal(t, long2, Synthesize(messages))
}

func TestSynthesizeSkipsToolCallMessages(t *testing.T) {
	long := "A long assistant message that happens to also be requesting another tool call here."
	messages := []types.Message{
		{Role: types.RoleAssistant, Content: "Root cause: deployment abc123 introduced added latency into the checkout path."},
		{Role: types.RoleAssistant, Content: long, ToolCalls: []types.ToolCall{{ID: "1", Name: "query_metrics"}}},
		{Role: types.RoleTool, Content: `{"success":true}`, ToolCallID: "1"},
	}
	assert.Contains(t, Synthesize(messages), "abc123")
}

func TestSynthesizeFallsBackOnShortMessages(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleUser, Content: "begin"},
		{Role: types.RoleAssistant, Content: "OK."},
	}
	assert.Equal(t, "Investigation complete.", Synthesize(messages))
}

func TestSynthesizeEmptyTranscript(t *testing.T) {
	assert.Equal(t, "Investigation complete.", Synthesize(nil))
}
