package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/tools"
)

func decode(t *testing.T, payload string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	return out
}

func testCreds() *credentials.Slack {
	return &credentials.Slack{BotToken: "xoxb-test", ChannelID: "C-DEFAULT"}
}

func TestNotConfigured(t *testing.T) {
	r := tools.NewRegistry(nil)
	New(nil).Register(r)

	for _, name := range r.Names() {
		out := decode(t, r.Dispatch(context.Background(), name, map[string]interface{}{}))
		assert.Equal(t, false, out["success"], "tool %s", name)
		assert.Equal(t, "Slack not configured", out["error"], "tool %s", name)
	}
}

func TestSendInvestigationResultBlocks(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/chat.postMessage", req.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", req.Header.Get("Authorization"))

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true, "ts": "1724400000.000100", "channel": "C-DEFAULT",
		})
	}))
	defer srv.Close()

	sl := NewWithBaseURL(testCreds(), srv.URL)
	payload, err := sl.sendInvestigationResult(context.Background(), map[string]interface{}{
		"summary":    "Bad deploy of api v2.3.1 caused error spike",
		"root_cause": "Deployment abcdef1 introduced a nil pointer in payment flow",
		"confidence": 0.85,
		"suggested_actions": []interface{}{
			map[string]interface{}{"priority": float64(1), "action": "Roll back deployment", "command": "kubectl rollout undo deploy/api"},
			map[string]interface{}{"priority": float64(2), "action": "Notify payments on-call"},
		},
		"datadog_link": "https://app.datadoghq.com/dashboard/abc",
	})
	require.NoError(t, err)

	out := decode(t, payload)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "1724400000.000100", out["message_ts"])
	assert.Equal(t, "C-DEFAULT", out["channel"])

	// Default channel used when none passed.
	assert.Equal(t, "C-DEFAULT", captured["channel"])

	blocks := captured["blocks"].([]interface{})
	require.GreaterOrEqual(t, len(blocks), 6)

	header := blocks[0].(map[string]interface{})
	assert.Equal(t, "header", header["type"])

	fields := blocks[3].(map[string]interface{})["fields"].([]interface{})
	confidence := fields[1].(map[string]interface{})["text"].(string)
	assert.Contains(t, confidence, "HIGH")
	assert.Contains(t, confidence, "85%")

	actionsBlock := blocks[4].(map[string]interface{})
	actionsText := actionsBlock["text"].(map[string]interface{})["text"].(string)
	assert.Contains(t, actionsText, "P1. Roll back deployment")
	assert.Contains(t, actionsText, "`kubectl rollout undo deploy/api`")
	assert.Contains(t, actionsText, "P2. Notify payments on-call")

	buttons := blocks[5].(map[string]interface{})["elements"].([]interface{})
	require.Len(t, buttons, 3) // helpful, not helpful, datadog link
	assert.Equal(t, "feedback_helpful", buttons[0].(map[string]interface{})["action_id"])
}

func TestSendInvestigationResultLowConfidenceDefaults(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		json.Unmarshal(body, &captured)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "ts": "1.2", "channel": "C-OTHER"})
	}))
	defer srv.Close()

	sl := NewWithBaseURL(testCreds(), srv.URL)
	payload, err := sl.sendInvestigationResult(context.Background(), map[string]interface{}{
		"summary":    "Inconclusive",
		"channel_id": "C-OTHER",
	})
	require.NoError(t, err)

	out := decode(t, payload)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "C-OTHER", captured["channel"])

	blocks := captured["blocks"].([]interface{})
	fields := blocks[3].(map[string]interface{})["fields"].([]interface{})
	assert.Contains(t, fields[0].(map[string]interface{})["text"], "Unable to determine")
	assert.Contains(t, fields[1].(map[string]interface{})["text"], "LOW")

	// No actions and no link: last block is the two feedback buttons.
	buttons := blocks[len(blocks)-1].(map[string]interface{})["elements"].([]interface{})
	assert.Len(t, buttons, 2)
}

func TestSendInvestigationUpdate(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		json.Unmarshal(body, &captured)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "ts": "2.3", "channel": "C-DEFAULT"})
	}))
	defer srv.Close()

	sl := NewWithBaseURL(testCreds(), srv.URL)
	payload, err := sl.sendInvestigationUpdate(context.Background(), map[string]interface{}{
		"message": "Checking recent deployments",
		"phase":   "changes",
	})
	require.NoError(t, err)

	out := decode(t, payload)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "*CHANGES*: Checking recent deployments", captured["text"])
	assert.Nil(t, captured["blocks"])
}

func TestSlackAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	r := tools.NewRegistry(nil)
	NewWithBaseURL(testCreds(), srv.URL).Register(r)

	out := decode(t, r.Dispatch(context.Background(), "send_investigation_update", map[string]interface{}{
		"message": "hello", "phase": "triage",
	}))
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "channel_not_found")
}
