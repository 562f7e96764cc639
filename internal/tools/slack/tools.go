// Package slack implements the outbound notification tools: a Block Kit
// investigation report with feedback buttons, and plain progress updates.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/tools"
)

const defaultBaseURL = "https://slack.com/api"

// Tools holds the Slack tool handlers for one investigation.
type Tools struct {
	creds      *credentials.Slack // nil when not configured
	httpClient *http.Client
	baseURL    string
}

// New creates the Slack tool set. creds may be nil; both tools then return a
// "not configured" payload.
func New(creds *credentials.Slack) *Tools {
	return &Tools{
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
	}
}

// NewWithBaseURL creates a tool set pointed at a fixed base URL (tests).
func NewWithBaseURL(creds *credentials.Slack, baseURL string) *Tools {
	t := New(creds)
	t.baseURL = baseURL
	return t
}

// Register adds the Slack tools to the registry.
func (t *Tools) Register(r *tools.Registry) {
	r.Register(types.Tool{
		Name:        "send_investigation_result",
		Description: "Send investigation results to Slack with formatted blocks. Use this at the END of an investigation to report findings.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary":    map[string]interface{}{"type": "string", "description": "Brief summary of findings"},
				"root_cause": map[string]interface{}{"type": "string", "description": "Identified root cause, if determined"},
				"confidence": map[string]interface{}{"type": "number", "description": "Confidence level 0-1 (default: 0.5)"},
				"suggested_actions": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "object"},
					"description": "List of {priority: 1-3, action: string, command?: string}",
				},
				"channel_id":   map[string]interface{}{"type": "string", "description": "Slack channel ID (uses default if not provided)"},
				"datadog_link": map[string]interface{}{"type": "string", "description": "Optional link to a Datadog dashboard"},
			},
			"required": []string{"summary"},
		},
	}, t.sendInvestigationResult)

	r.Register(types.Tool{
		Name:        "send_investigation_update",
		Description: "Send a progress update to Slack during the investigation.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message":    map[string]interface{}{"type": "string", "description": "Update message"},
				"phase":      map[string]interface{}{"type": "string", "description": "Current phase (triage, changes, hypothesis, conclusion)"},
				"channel_id": map[string]interface{}{"type": "string", "description": "Slack channel ID (uses default if not provided)"},
			},
			"required": []string{"message", "phase"},
		},
	}, t.sendInvestigationUpdate)
}

// postMessage calls chat.postMessage and returns ts + channel.
func (t *Tools) postMessage(ctx context.Context, channel, text string, blocks []map[string]interface{}) (string, string, error) {
	body := map[string]interface{}{
		"channel": channel,
		"text":    text,
	}
	if blocks != nil {
		body["blocks"] = blocks
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat.postMessage", strings.NewReader(string(payload)))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.creds.BotToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", err
	}

	var slackResp struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		TS      string `json:"ts"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &slackResp); err != nil {
		return "", "", fmt.Errorf("decode slack response: %w", err)
	}
	if !slackResp.OK {
		return "", "", fmt.Errorf("slack API error: %s", slackResp.Error)
	}
	return slackResp.TS, slackResp.Channel, nil
}

func confidenceLabel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "HIGH"
	case confidence >= 0.6:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func (t *Tools) sendInvestigationResult(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("Slack"), nil
	}

	summary := stringArg(args, "summary", "")
	if summary == "" {
		return tools.Failuref("summary is required"), nil
	}
	rootCause := stringArg(args, "root_cause", "Unable to determine")
	confidence := floatArg(args, "confidence", 0.5)
	channel := stringArg(args, "channel_id", t.creds.ChannelID)
	datadogLink := stringArg(args, "datadog_link", "")

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{"type": "plain_text", "text": "Investigation Complete", "emoji": true},
		},
		{
			"type": "section",
			"text": map[string]interface{}{"type": "mrkdwn", "text": "*Summary*\n" + summary},
		},
		{"type": "divider"},
		{
			"type": "section",
			"fields": []map[string]interface{}{
				{"type": "mrkdwn", "text": "*Root Cause*\n" + rootCause},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence*\n%s (%d%%)", confidenceLabel(confidence), int(confidence*100))},
			},
		},
	}

	if actions := actionsArg(args, "suggested_actions"); len(actions) > 0 {
		var lines []string
		for _, action := range actions {
			priority := intFromMap(action, "priority", 3)
			if priority < 1 || priority > 3 {
				priority = 3
			}
			line := fmt.Sprintf("P%d. %s", priority, stringFromMap(action, "action"))
			if cmd := stringFromMap(action, "command"); cmd != "" {
				line += "\n   `" + cmd + "`"
			}
			lines = append(lines, line)
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{"type": "mrkdwn", "text": "*Suggested Actions*\n" + strings.Join(lines, "\n")},
		})
	}

	elements := []map[string]interface{}{
		{
			"type":      "button",
			"text":      map[string]interface{}{"type": "plain_text", "text": "Helpful", "emoji": true},
			"action_id": "feedback_helpful",
			"style":     "primary",
		},
		{
			"type":      "button",
			"text":      map[string]interface{}{"type": "plain_text", "text": "Not Helpful", "emoji": true},
			"action_id": "feedback_not_helpful",
		},
	}
	if datadogLink != "" {
		elements = append(elements, map[string]interface{}{
			"type": "button",
			"text": map[string]interface{}{"type": "plain_text", "text": "View in Datadog", "emoji": true},
			"url":  datadogLink,
		})
	}
	blocks = append(blocks, map[string]interface{}{"type": "actions", "elements": elements})

	ts, ch, err := t.postMessage(ctx, channel, "Investigation Complete: "+summary, blocks)
	if err != nil {
		return "", err
	}

	return tools.Success(map[string]interface{}{
		"message_ts": ts,
		"channel":    ch,
	}), nil
}

func (t *Tools) sendInvestigationUpdate(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("Slack"), nil
	}

	message := stringArg(args, "message", "")
	phase := stringArg(args, "phase", "")
	if message == "" || phase == "" {
		return tools.Failuref("message and phase are required"), nil
	}
	channel := stringArg(args, "channel_id", t.creds.ChannelID)

	text := fmt.Sprintf("*%s*: %s", strings.ToUpper(phase), message)
	ts, ch, err := t.postMessage(ctx, channel, text, nil)
	if err != nil {
		return "", err
	}

	return tools.Success(map[string]interface{}{
		"message_ts": ts,
		"channel":    ch,
	}), nil
}

// ─── argument helpers ─────────────────────────────────────────────────────────

func stringArg(args map[string]interface{}, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func floatArg(args map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func actionsArg(args map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intFromMap(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
