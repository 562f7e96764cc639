// Package runbook implements the runbook tools: matching stored investigation
// playbooks against an alert, looking up documented recommendations, and
// recording executions so runbook effectiveness can be tracked.
package runbook

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/metrics"
	"github.com/incidentops/incident-agent/internal/store"
	"github.com/incidentops/incident-agent/internal/tools"
)

// Tools holds the runbook tool handlers for one investigation.
type Tools struct {
	store           store.RunbookStore
	orgID           string
	investigationID string
}

// New creates the runbook tool set scoped to one organization and
// investigation.
func New(s store.RunbookStore, orgID, investigationID string) *Tools {
	return &Tools{store: s, orgID: orgID, investigationID: investigationID}
}

// Register adds the runbook tools to the registry.
func (t *Tools) Register(r *tools.Registry) {
	r.Register(types.Tool{
		Name:        "find_matching_runbooks",
		Description: "Find runbooks that match the current alert. Use this at the START of an investigation to see if there is a predefined playbook for this type of alert.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"alert_name": map[string]interface{}{"type": "string", "description": "The name/title of the alert"},
				"service":    map[string]interface{}{"type": "string", "description": "The service that triggered the alert"},
				"severity":   map[string]interface{}{"type": "string", "description": "Severity level (critical, high, medium, low)"},
			},
			"required": []string{"alert_name"},
		},
	}, t.findMatchingRunbooks)

	r.Register(types.Tool{
		Name:        "get_runbook_recommendation",
		Description: "Get the documented recommendation for a condition found during investigation, e.g. \"recent_deployment\" or \"high_error_rate\".",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"runbook_name":    map[string]interface{}{"type": "string", "description": "Name of the runbook being followed"},
				"condition_found": map[string]interface{}{"type": "string", "description": "The condition that was found"},
			},
			"required": []string{"runbook_name", "condition_found"},
		},
	}, t.getRunbookRecommendation)

	r.Register(types.Tool{
		Name:        "record_runbook_execution",
		Description: "Record that a runbook was executed during this investigation, tracking its usage and effectiveness.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"runbook_name":      map[string]interface{}{"type": "string", "description": "Name of the runbook that was followed"},
				"steps_executed":    map[string]interface{}{"type": "integer", "description": "Number of steps that were executed"},
				"findings":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Key findings"},
				"conclusion":        map[string]interface{}{"type": "string", "description": "The final conclusion/root cause"},
				"matched_condition": map[string]interface{}{"type": "string", "description": "Which if-found condition matched, if any"},
				"confidence_score":  map[string]interface{}{"type": "number", "description": "Confidence in the conclusion (0-1)"},
			},
			"required": []string{"runbook_name"},
		},
	}, t.recordRunbookExecution)
}

// triggerConfig is the decoded trigger_config column.
type triggerConfig struct {
	Pattern    string   `json:"pattern"`
	Severities []string `json:"severity"`
	Services   []string `json:"services"`
}

type investigationStep struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func decodeTrigger(rec *store.RunbookRecord) triggerConfig {
	var cfg triggerConfig
	json.Unmarshal([]byte(rec.TriggerConfig), &cfg)
	return cfg
}

func decodeSteps(rec *store.RunbookRecord) []investigationStep {
	var steps []investigationStep
	json.Unmarshal([]byte(rec.InvestigationSteps), &steps)
	return steps
}

func decodeIfFound(rec *store.RunbookRecord) map[string]string {
	var actions map[string]string
	json.Unmarshal([]byte(rec.IfFoundActions), &actions)
	return actions
}

// matches reports whether a runbook's trigger applies to the alert. Manual
// runbooks never auto-match.
func matches(rec *store.RunbookRecord, alertName, service, severity string) bool {
	cfg := decodeTrigger(rec)
	switch rec.TriggerType {
	case "alert_pattern":
		if cfg.Pattern == "" {
			return false
		}
		re, err := regexp.Compile("(?i)" + cfg.Pattern)
		if err != nil {
			return false
		}
		if !re.MatchString(alertName) {
			return false
		}
		if len(cfg.Severities) == 0 {
			return true
		}
		for _, allowed := range cfg.Severities {
			if severity != "" && strings.EqualFold(allowed, severity) {
				return true
			}
		}
		return false
	case "service_alert":
		if service == "" || len(cfg.Services) == 0 {
			return false
		}
		for _, allowed := range cfg.Services {
			if strings.Contains(strings.ToLower(service), strings.ToLower(allowed)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (t *Tools) findMatchingRunbooks(ctx context.Context, args map[string]interface{}) (string, error) {
	alertName := stringArg(args, "alert_name", "")
	if alertName == "" {
		return tools.Failuref("alert_name is required"), nil
	}
	service := stringArg(args, "service", "")
	severity := stringArg(args, "severity", "")

	records, err := t.store.ListRunbooks(ctx, t.orgID, true)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return tools.Success(map[string]interface{}{
			"matched":  0,
			"guidance": "No runbooks configured. Proceed with standard investigation methodology.",
		}), nil
	}

	var matched []map[string]interface{}
	for _, rec := range records {
		if !matches(rec, alertName, service, severity) {
			continue
		}

		var steps []string
		for i, step := range decodeSteps(rec) {
			line := fmt.Sprintf("%d. %s", i+1, titleCase(step.Action))
			if step.Reason != "" {
				line += " - " + step.Reason
			}
			steps = append(steps, line)
		}

		ifFound := map[string]string{}
		for condition, action := range decodeIfFound(rec) {
			if len(action) > 100 {
				action = action[:100] + "..."
			}
			ifFound[strings.ReplaceAll(condition, "_", " ")] = action
		}

		entry := map[string]interface{}{
			"name":        rec.Name,
			"description": orDefault(rec.Description, "No description"),
			"priority":    rec.Priority,
			"times_used":  rec.TimesTriggered,
			"steps":       steps,
			"if_found":    ifFound,
		}
		if rec.AvgResolutionConfidence > 0 {
			entry["avg_confidence"] = int(rec.AvgResolutionConfidence * 100)
		}
		matched = append(matched, entry)
	}

	if len(matched) == 0 {
		return tools.Success(map[string]interface{}{
			"matched":  0,
			"guidance": fmt.Sprintf("No runbooks match this alert (%q). Proceed with standard investigation.", alertName),
		}), nil
	}

	return tools.Success(map[string]interface{}{
		"matched":  len(matched),
		"runbooks": matched,
		"guidance": "Follow the investigation steps in order. These encode your team's tribal knowledge about how to investigate this type of issue. When you find one of the listed conditions, use the corresponding recommendation.",
	}), nil
}

// findByName returns the first runbook whose name contains the given
// substring, case-insensitive. Runbooks come back priority-ordered, so ties
// resolve to the higher-priority book.
func (t *Tools) findByName(ctx context.Context, name string) (*store.RunbookRecord, error) {
	records, err := t.store.ListRunbooks(ctx, t.orgID, false)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Name), strings.ToLower(name)) {
			return rec, nil
		}
	}
	return nil, nil
}

func (t *Tools) getRunbookRecommendation(ctx context.Context, args map[string]interface{}) (string, error) {
	runbookName := stringArg(args, "runbook_name", "")
	conditionFound := stringArg(args, "condition_found", "")
	if runbookName == "" || conditionFound == "" {
		return tools.Failuref("runbook_name and condition_found are required"), nil
	}

	rec, err := t.findByName(ctx, runbookName)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return tools.Failuref("runbook %q not found", runbookName), nil
	}

	ifFound := decodeIfFound(rec)
	conditionKey := strings.ReplaceAll(strings.ToLower(conditionFound), " ", "_")

	if action, ok := ifFound[conditionKey]; ok {
		return tools.Success(map[string]interface{}{
			"condition":      conditionFound,
			"recommendation": action,
		}), nil
	}

	// Fall back to a partial match either direction.
	for key, action := range ifFound {
		lower := strings.ToLower(key)
		if strings.Contains(lower, conditionKey) || strings.Contains(conditionKey, lower) {
			return tools.Success(map[string]interface{}{
				"condition":      key,
				"closest_match":  true,
				"recommendation": action,
			}), nil
		}
	}

	available := make([]string, 0, len(ifFound))
	for key := range ifFound {
		available = append(available, key)
	}
	return tools.Failuref("no recommendation found for %q; available conditions: %s",
		conditionFound, strings.Join(available, ", ")), nil
}

func (t *Tools) recordRunbookExecution(ctx context.Context, args map[string]interface{}) (string, error) {
	runbookName := stringArg(args, "runbook_name", "")
	if runbookName == "" {
		return tools.Failuref("runbook_name is required"), nil
	}

	rec, err := t.findByName(ctx, runbookName)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return tools.Failuref("runbook %q not found; execution not recorded", runbookName), nil
	}

	findings, err := json.Marshal(stringSliceArg(args, "findings"))
	if err != nil {
		return "", err
	}

	execution := &store.RunbookExecutionRecord{
		RunbookID:        rec.ID,
		OrgID:            rec.OrgID,
		InvestigationID:  t.investigationID,
		TriggerSource:    "agent",
		Status:           "completed",
		StepsExecuted:    intArg(args, "steps_executed", 0),
		Findings:         string(findings),
		Conclusion:       stringArg(args, "conclusion", ""),
		MatchedCondition: stringArg(args, "matched_condition", ""),
		ConfidenceScore:  floatArg(args, "confidence_score", 0),
	}
	if err := t.store.RecordRunbookExecution(ctx, execution); err != nil {
		metrics.RunbookExecutionsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.RunbookExecutionsTotal.WithLabelValues(execution.Status).Inc()

	return tools.Success(map[string]interface{}{
		"runbook": rec.Name,
		"message": fmt.Sprintf("Runbook execution recorded for %q.", rec.Name),
	}), nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// titleCase turns a snake_case action name into display form, e.g.
// "check_recent_deployments" → "Check Recent Deployments".
func titleCase(action string) string {
	if action == "" {
		return "Unknown"
	}
	words := strings.Split(strings.ReplaceAll(action, "_", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func stringArg(args map[string]interface{}, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
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

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
