// Package memory implements the incident-history tools. Past investigations
// are the agent's institutional memory: what broke before, what the root
// cause was, and what fixed it.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/store"
	"github.com/incidentops/incident-agent/internal/tools"
)

// Tools holds the memory tool handlers for one investigation.
type Tools struct {
	store store.IncidentStore
	orgID string
}

// New creates the memory tool set scoped to one organization.
func New(s store.IncidentStore, orgID string) *Tools {
	return &Tools{store: s, orgID: orgID}
}

// Register adds all memory tools to the registry.
func (t *Tools) Register(r *tools.Registry) {
	r.Register(types.Tool{
		Name:        "search_similar_incidents",
		Description: "Search past incidents to check if this alert has happened before, what the root cause was, and what actions resolved it.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"service":    map[string]interface{}{"type": "string", "description": "Filter by service name"},
				"alert_name": map[string]interface{}{"type": "string", "description": "Filter by alert/monitor name"},
				"keywords":   map[string]interface{}{"type": "string", "description": "Search keywords in summary and root cause, e.g. \"database\", \"timeout\""},
				"days_back":  map[string]interface{}{"type": "integer", "description": "How many days back to search (default: 30)"},
				"limit":      map[string]interface{}{"type": "integer", "description": "Maximum results (default: 5)"},
			},
		},
	}, t.searchSimilarIncidents)

	r.Register(types.Tool{
		Name:        "get_incident_details",
		Description: "Get full details of a specific past incident. The ID may be partial (first 8 characters).",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"incident_id": map[string]interface{}{"type": "string", "description": "The incident ID, full or partial"},
			},
			"required": []string{"incident_id"},
		},
	}, t.getIncidentDetails)

	r.Register(types.Tool{
		Name:        "get_service_incident_history",
		Description: "Get incident history for a service: frequency, severity breakdown, common root causes, and whether past investigations were rated helpful.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"service":   map[string]interface{}{"type": "string", "description": "The service name to analyze"},
				"days_back": map[string]interface{}{"type": "integer", "description": "Days of history to analyze (default: 90)"},
			},
			"required": []string{"service"},
		},
	}, t.getServiceIncidentHistory)

	r.Register(types.Tool{
		Name:        "detect_patterns_and_suggest",
		Description: "Analyze recent incidents for recurring root causes, time-of-day skew, deployment correlation, and service hotspots, with actionable suggestions.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"service":   map[string]interface{}{"type": "string", "description": "Filter to a specific service"},
				"days_back": map[string]interface{}{"type": "integer", "description": "Days to analyze (default: 30)"},
			},
		},
	}, t.detectPatternsAndSuggest)
}

// completedSince loads completed incidents for the org created within the
// window, optionally filtered by service substring.
func (t *Tools) completedSince(ctx context.Context, service string, daysBack int) ([]*store.IncidentRecord, error) {
	records, err := t.store.ListIncidents(ctx, t.orgID, 500, 0)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)
	var out []*store.IncidentRecord
	for _, rec := range records {
		if rec.Status != "completed" || rec.CreatedAt.Before(cutoff) {
			continue
		}
		if service != "" && !strings.Contains(strings.ToLower(rec.Service), strings.ToLower(service)) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ─── search_similar_incidents ─────────────────────────────────────────────────

func (t *Tools) searchSimilarIncidents(ctx context.Context, args map[string]interface{}) (string, error) {
	service := stringArg(args, "service", "")
	alertName := stringArg(args, "alert_name", "")
	keywords := stringArg(args, "keywords", "")
	daysBack := intArg(args, "days_back", 30)
	limit := intArg(args, "limit", 5)

	records, err := t.completedSince(ctx, service, daysBack)
	if err != nil {
		return "", err
	}

	var matches []map[string]interface{}
	for _, rec := range records {
		if alertName != "" && !strings.Contains(strings.ToLower(rec.AlertName), strings.ToLower(alertName)) {
			continue
		}
		if keywords != "" {
			haystack := strings.ToLower(rec.Summary + " " + rec.RootCause)
			if !strings.Contains(haystack, strings.ToLower(keywords)) {
				continue
			}
		}

		actions := jsonStrings(rec.SuggestedActions)
		if len(actions) > 3 {
			actions = actions[:3]
		}

		daysAgo := int(time.Since(rec.CreatedAt).Hours() / 24)
		matches = append(matches, map[string]interface{}{
			"id":          truncate(rec.ID, 8),
			"alert_name":  rec.AlertName,
			"service":     rec.Service,
			"severity":    rec.Severity,
			"days_ago":    daysAgo,
			"root_cause":  orDefault(rec.RootCause, "Not identified"),
			"confidence":  int(rec.ConfidenceScore * 100),
			"actions":     actions,
			"duration_s":  rec.DurationMs / 1000,
			"feedback":    feedbackLabel(rec.FeedbackRating),
		})
		if len(matches) >= limit {
			break
		}
	}

	summary := fmt.Sprintf("No similar incidents found in the past %d days.", daysBack)
	if len(matches) > 0 {
		summary = fmt.Sprintf("Found %d similar incident(s) in the past %d days.", len(matches), daysBack)
	}

	return tools.Success(map[string]interface{}{
		"summary":   summary,
		"incidents": matches,
	}), nil
}

// ─── get_incident_details ─────────────────────────────────────────────────────

func (t *Tools) getIncidentDetails(ctx context.Context, args map[string]interface{}) (string, error) {
	incidentID := stringArg(args, "incident_id", "")
	if incidentID == "" {
		return tools.Failuref("incident_id is required"), nil
	}

	var rec *store.IncidentRecord
	var err error
	// Full UUIDs are looked up exactly; anything shorter is a prefix.
	if len(incidentID) < 36 {
		rec, err = t.store.GetIncidentByPrefix(ctx, t.orgID, incidentID)
	} else {
		rec, err = t.store.GetIncident(ctx, t.orgID, incidentID)
	}
	if err != nil {
		return "", err
	}
	if rec == nil {
		return tools.Failuref("incident %s not found", incidentID), nil
	}

	var deployments []map[string]interface{}
	for _, d := range jsonObjects(rec.DeploymentsFound) {
		deployments = append(deployments, map[string]interface{}{
			"sha":     truncate(stringFromMap(d, "sha"), 8),
			"author":  orDefault(stringFromMap(d, "author"), "unknown"),
			"message": truncate(stringFromMap(d, "message"), 50),
		})
		if len(deployments) >= 5 {
			break
		}
	}

	return tools.Success(map[string]interface{}{
		"id":         rec.ID,
		"alert_name": rec.AlertName,
		"service":    rec.Service,
		"severity":   rec.Severity,
		"status":     rec.Status,
		"timeline": map[string]interface{}{
			"created_at":   rec.CreatedAt.Format(time.RFC3339),
			"started_at":   rec.StartedAt.Format(time.RFC3339),
			"completed_at": rec.CompletedAt.Format(time.RFC3339),
			"duration_s":   rec.DurationMs / 1000,
		},
		"root_cause":        orDefault(rec.RootCause, "Not identified"),
		"confidence":        int(rec.ConfidenceScore * 100),
		"summary":           orDefault(rec.Summary, "No summary available"),
		"findings":          jsonStrings(rec.Findings),
		"suggested_actions": jsonStrings(rec.SuggestedActions),
		"deployments":       deployments,
		"feedback":          feedbackLabel(rec.FeedbackRating),
	}), nil
}

// ─── get_service_incident_history ─────────────────────────────────────────────

func rootCauseCategory(rootCause string) string {
	rc := strings.ToLower(rootCause)
	switch {
	case strings.Contains(rc, "deploy"), strings.Contains(rc, "commit"):
		return "Deployment-related"
	case strings.Contains(rc, "database"), strings.Contains(rc, "db"):
		return "Database-related"
	case strings.Contains(rc, "timeout"), strings.Contains(rc, "latency"):
		return "Performance/Timeout"
	case strings.Contains(rc, "memory"), strings.Contains(rc, "cpu"):
		return "Resource exhaustion"
	case strings.Contains(rc, "config"):
		return "Configuration"
	default:
		return "Other"
	}
}

func (t *Tools) getServiceIncidentHistory(ctx context.Context, args map[string]interface{}) (string, error) {
	service := stringArg(args, "service", "")
	if service == "" {
		return tools.Failuref("service is required"), nil
	}
	daysBack := intArg(args, "days_back", 90)

	records, err := t.completedSince(ctx, service, daysBack)
	if err != nil {
		return "", err
	}

	if len(records) == 0 {
		return tools.Success(map[string]interface{}{
			"service":         service,
			"total_incidents": 0,
			"summary":         fmt.Sprintf("No incidents found for service %q in the past %d days. This is a good sign!", service, daysBack),
		}), nil
	}

	total := len(records)
	bySeverity := map[string]int{}
	byRootCause := map[string]int{}
	helpful := 0

	for _, rec := range records {
		sev := orDefault(rec.Severity, "unknown")
		bySeverity[sev]++
		if rec.RootCause != "" {
			byRootCause[rootCauseCategory(rec.RootCause)]++
		}
		if rec.FeedbackRating > 0 {
			helpful++
		}
	}

	var recent []map[string]interface{}
	for _, rec := range records {
		recent = append(recent, map[string]interface{}{
			"alert_name": rec.AlertName,
			"root_cause": truncate(orDefault(rec.RootCause, "Unknown"), 60),
		})
		if len(recent) >= 3 {
			break
		}
	}

	recommendation := "Normal incident frequency"
	if total > 10 {
		recommendation = "High incident frequency - consider reviewing service reliability"
	}

	return tools.Success(map[string]interface{}{
		"service":            service,
		"days_analyzed":      daysBack,
		"total_incidents":    total,
		"by_severity":        bySeverity,
		"common_root_causes": byRootCause,
		"helpful_rate":       fmt.Sprintf("%d/%d marked helpful (%d%%)", helpful, total, helpful*100/total),
		"recent_incidents":   recent,
		"recommendation":     recommendation,
	}), nil
}

// ─── detect_patterns_and_suggest ──────────────────────────────────────────────

var patternKeywords = []string{
	"connection pool", "memory leak", "timeout", "rate limit",
	"database", "cache", "deployment", "configuration", "cpu",
	"disk", "network", "authentication", "certificate",
}

var patternSuggestions = map[string]string{
	"connection pool": "Consider increasing connection pool size or adding a connection pooler (PgBouncer)",
	"memory leak":     "Add memory profiling to the deployment pipeline; review recent code for resource cleanup",
	"timeout":         "Review timeout configurations; consider circuit breakers",
	"rate limit":      "Implement request queuing or increase rate limits with proper caching",
	"deployment":      "Strengthen deployment validation; add canary deployments or feature flags",
}

func (t *Tools) detectPatternsAndSuggest(ctx context.Context, args map[string]interface{}) (string, error) {
	service := stringArg(args, "service", "")
	daysBack := intArg(args, "days_back", 30)

	records, err := t.completedSince(ctx, service, daysBack)
	if err != nil {
		return "", err
	}

	if len(records) < 2 {
		return tools.Success(map[string]interface{}{
			"summary": "Not enough incident data to detect patterns. Need at least 2 completed investigations.",
		}), nil
	}

	var patterns []string
	var suggestions []string

	// Recurring root-cause keywords.
	type occurrence struct{ service string }
	byKeyword := map[string][]occurrence{}
	for _, rec := range records {
		rc := strings.ToLower(rec.RootCause)
		if len(rc) <= 10 {
			continue
		}
		for _, keyword := range patternKeywords {
			if strings.Contains(rc, keyword) {
				byKeyword[keyword] = append(byKeyword[keyword], occurrence{service: rec.Service})
			}
		}
	}

	keys := make([]string, 0, len(byKeyword))
	for k := range byKeyword {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(byKeyword[keys[i]]) > len(byKeyword[keys[j]]) })

	for _, keyword := range keys {
		occurrences := byKeyword[keyword]
		if len(occurrences) < 2 {
			continue
		}
		serviceSet := map[string]bool{}
		for _, o := range occurrences {
			if o.service != "" {
				serviceSet[o.service] = true
			}
		}
		services := make([]string, 0, len(serviceSet))
		for s := range serviceSet {
			services = append(services, s)
		}
		sort.Strings(services)

		patterns = append(patterns, fmt.Sprintf("Recurring %s issues: %d incidents (services: %s)",
			keyword, len(occurrences), strings.Join(services, ", ")))
		if suggestion, ok := patternSuggestions[keyword]; ok {
			suggestions = append(suggestions, suggestion)
		}
	}

	// Time-of-day skew.
	businessHours, offHours := 0, 0
	for _, rec := range records {
		hour := rec.CreatedAt.Hour()
		if hour >= 9 && hour <= 17 {
			businessHours++
		} else {
			offHours++
		}
	}
	if businessHours > offHours*2 && businessHours > 3 {
		patterns = append(patterns, fmt.Sprintf("Business hours spike: %d incidents during 9am-5pm vs %d off-hours", businessHours, offHours))
		suggestions = append(suggestions, "Issues may be load-related; review autoscaling thresholds")
	}
	if offHours > businessHours*2 && offHours > 3 {
		patterns = append(patterns, fmt.Sprintf("Off-hours spike: %d incidents outside business hours vs %d during", offHours, businessHours))
		suggestions = append(suggestions, "Check for scheduled jobs, batch processes, or maintenance windows causing issues")
	}

	// Deployment correlation.
	deployRelated := 0
	for _, rec := range records {
		if len(jsonObjects(rec.DeploymentsFound)) > 0 {
			deployRelated++
		}
	}
	if float64(deployRelated) > float64(len(records))*0.5 {
		patterns = append(patterns, fmt.Sprintf("Deployment correlation: %d/%d incidents had recent deployments", deployRelated, len(records)))
		suggestions = append(suggestions, "Strengthen pre-deploy testing; consider implementing staged rollouts")
	}

	// Service hotspots.
	byService := map[string]int{}
	for _, rec := range records {
		byService[orDefault(rec.Service, "unknown")]++
	}
	hotspots := make([]string, 0)
	for svc, count := range byService {
		if count >= 3 {
			hotspots = append(hotspots, svc)
		}
	}
	sort.Slice(hotspots, func(i, j int) bool { return byService[hotspots[i]] > byService[hotspots[j]] })
	for _, svc := range hotspots {
		patterns = append(patterns, fmt.Sprintf("%s is a hotspot: %d incidents in %d days", svc, byService[svc], daysBack))
	}
	if len(hotspots) > 0 {
		suggestions = append(suggestions, "Prioritize reliability work on hotspot services; consider architectural review")
	}

	summary := fmt.Sprintf("Analyzed %d incidents over the past %d days.", len(records), daysBack)
	if len(patterns) == 0 {
		summary = fmt.Sprintf("No significant patterns detected in %d incidents over the past %d days.", len(records), daysBack)
	}

	return tools.Success(map[string]interface{}{
		"summary":     summary,
		"patterns":    patterns,
		"suggestions": suggestions,
	}), nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func feedbackLabel(rating int) string {
	switch {
	case rating > 0:
		return "helpful"
	case rating < 0:
		return "not_helpful"
	default:
		return ""
	}
}

// jsonStrings decodes a JSON array column into display strings. Non-string
// elements are re-encoded so nothing is silently dropped.
func jsonStrings(raw string) []string {
	var items []interface{}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		if data, err := json.Marshal(item); err == nil {
			out = append(out, string(data))
		}
	}
	return out
}

func jsonObjects(raw string) []map[string]interface{} {
	var items []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
