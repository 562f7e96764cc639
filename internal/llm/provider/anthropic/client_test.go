package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/incident-agent/internal/llm/types"
)

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient("sk-test", "claude-3-5-sonnet-20241022", 1024)
	require.NoError(t, err)
	c.SetBaseURL(baseURL)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("", "", 0)
	assert.Error(t, err)
}

func TestCompleteParsesTextAndToolUse(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/messages", req.URL.Path)
		assert.Equal(t, "sk-test", req.Header.Get("x-api-key"))
		assert.Equal(t, DefaultAPIVersion, req.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "Checking deployments first."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_recent_deployments",
					"input": map[string]interface{}{"hours_back": 4}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]interface{}{"input_tokens": 120, "output_tokens": 40},
		})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	resp, err := c.Complete(context.Background(), types.CompletionRequest{
		System:   "You are an SRE.",
		Messages: []types.Message{{Role: types.RoleUser, Content: "investigate"}},
		Tools:    []types.Tool{{Name: "get_recent_deployments", Description: "d"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Checking deployments first.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_recent_deployments", resp.ToolCalls[0].Name)
	assert.Equal(t, float64(4), resp.ToolCalls[0].Arguments["hours_back"])
	assert.Equal(t, 160, resp.Usage.TotalTokens)

	// System goes top-level; nil tool schema gets a default object schema.
	assert.Equal(t, "You are an SRE.", captured["system"])
	tools := captured["tools"].([]interface{})
	schema := tools[0].(map[string]interface{})["input_schema"].(map[string]interface{})
	assert.Equal(t, "object", schema["type"])
}

func TestConvertMessagesToolRoundTrip(t *testing.T) {
	msgs := convertMessages([]types.Message{
		{Role: types.RoleUser, Content: "begin"},
		{Role: types.RoleAssistant, Content: "checking", ToolCalls: []types.ToolCall{
			{ID: "t1", Name: "a", Arguments: map[string]interface{}{"x": 1}},
			{ID: "t2", Name: "b"},
		}},
		{Role: types.RoleTool, Content: `{"success":true}`, ToolCallID: "t1"},
		{Role: types.RoleTool, Content: `{"success":false}`, ToolCallID: "t2"},
		{Role: types.RoleUser, Content: "context"},
	})

	require.Len(t, msgs, 4)

	assistant := msgs[1]
	require.Len(t, assistant.Content, 3)
	assert.Equal(t, "text", assistant.Content[0].Type)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)
	assert.NotNil(t, assistant.Content[2].Input, "empty arguments become an empty object")

	// Both tool results coalesce into one user message.
	results := msgs[2]
	assert.Equal(t, "user", results.Role)
	require.Len(t, results.Content, 2)
	assert.Equal(t, "tool_result", results.Content[0].Type)
	assert.Equal(t, "t1", results.Content[0].ToolUseID)
	assert.Equal(t, "t2", results.Content[1].ToolUseID)

	assert.Equal(t, "text", msgs[3].Content[0].Type)
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.Complete(context.Background(), types.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
