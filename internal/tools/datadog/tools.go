// Package datadog implements the Datadog investigation tools: monitor
// lookup, APM health summary, metric queries, log search, and event/
// deployment discovery. Results are interpreted summaries, not raw API
// dumps, so the model can act on them directly.
package datadog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/tools"
)

// Tools holds the Datadog tool handlers for one investigation.
type Tools struct {
	creds      *credentials.Datadog // nil when not configured
	httpClient *http.Client
	baseURL    string // override for tests; empty derives from site
}

// New creates the Datadog tool set. creds may be nil; every tool then
// returns a "not configured" payload.
func New(creds *credentials.Datadog) *Tools {
	return &Tools{
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithBaseURL creates a tool set pointed at a fixed base URL (tests).
func NewWithBaseURL(creds *credentials.Datadog, baseURL string) *Tools {
	t := New(creds)
	t.baseURL = baseURL
	return t
}

// Register adds all Datadog tools to the registry.
func (t *Tools) Register(r *tools.Registry) {
	r.Register(types.Tool{
		Name:        "get_monitor_details",
		Description: "Get details about the Datadog monitor that triggered an alert. Use this FIRST to understand what condition triggered the investigation.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"monitor_id": map[string]interface{}{"type": "integer", "description": "The Datadog monitor ID from the alert"},
			},
			"required": []string{"monitor_id"},
		},
	}, t.getMonitorDetails)

	r.Register(types.Tool{
		Name:        "get_apm_service_summary",
		Description: "Get APM health summary for a service: error rate, P95 latency, throughput. High-value tool for triage.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"service_name": map[string]interface{}{"type": "string", "description": "Service name in Datadog APM"},
				"env":          map[string]interface{}{"type": "string", "description": "Environment (default: prod)"},
				"minutes_back": map[string]interface{}{"type": "integer", "description": "Time window in minutes (default: 30)"},
			},
			"required": []string{"service_name"},
		},
	}, t.getAPMServiceSummary)

	r.Register(types.Tool{
		Name:        "query_metrics",
		Description: "Query Datadog metrics. Use for testing specific hypotheses, e.g. p95:trace.http.request.duration{service:api}.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":        map[string]interface{}{"type": "string", "description": "Datadog metric query"},
				"minutes_back": map[string]interface{}{"type": "integer", "description": "Time window in minutes (default: 30)"},
			},
			"required": []string{"query"},
		},
	}, t.queryMetrics)

	r.Register(types.Tool{
		Name:        "search_logs",
		Description: "Search Datadog logs for error messages and patterns, e.g. service:api status:error.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":        map[string]interface{}{"type": "string", "description": "Datadog log query"},
				"minutes_back": map[string]interface{}{"type": "integer", "description": "Time window in minutes (default: 30)"},
				"limit":        map[string]interface{}{"type": "integer", "description": "Max logs to return (default: 50)"},
			},
			"required": []string{"query"},
		},
	}, t.searchLogs)

	r.Register(types.Tool{
		Name:        "get_datadog_events",
		Description: "Get recent Datadog events including deployments and config changes. High-value tool: most incidents are caused by changes.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"hours_back": map[string]interface{}{"type": "integer", "description": "How far back to look (default: 4)"},
				"tags":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Filter by tags, e.g. [\"service:api\"]"},
			},
		},
	}, t.getDatadogEvents)
}

func (t *Tools) apiBase() string {
	if t.baseURL != "" {
		return t.baseURL
	}
	site := t.creds.Site
	if site == "" {
		site = "datadoghq.com"
	}
	return "https://api." + site
}

// get issues an authenticated GET and decodes the JSON body into out.
func (t *Tools) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := t.apiBase() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return t.do(req, out)
}

// post issues an authenticated JSON POST and decodes the response into out.
func (t *Tools) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase()+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, out)
}

func (t *Tools) do(req *http.Request, out interface{}) error {
	req.Header.Set("DD-API-KEY", t.creds.APIKey)
	req.Header.Set("DD-APPLICATION-KEY", t.creds.AppKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("datadog API returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return json.Unmarshal(data, out)
}

// ─── get_monitor_details ──────────────────────────────────────────────────────

type monitorResponse struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Query        string   `json:"query"`
	OverallState string   `json:"overall_state"`
	Tags         []string `json:"tags"`
}

func (t *Tools) getMonitorDetails(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("Datadog"), nil
	}

	monitorID := intArg(args, "monitor_id", 0)
	if monitorID == 0 {
		return tools.Failuref("monitor_id is required"), nil
	}

	var monitor monitorResponse
	if err := t.get(ctx, fmt.Sprintf("/api/v1/monitor/%d", monitorID), nil, &monitor); err != nil {
		return "", err
	}

	return tools.Success(map[string]interface{}{
		"monitor": map[string]interface{}{
			"id":    monitor.ID,
			"name":  monitor.Name,
			"type":  monitor.Type,
			"query": monitor.Query,
			"state": monitor.OverallState,
			"tags":  monitor.Tags,
		},
		"interpretation": interpretMonitor(monitor.Query),
	}), nil
}

func interpretMonitor(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "duration"):
		return "LATENCY monitor - tracks response times"
	case strings.Contains(q, "error"):
		return "ERROR RATE monitor - tracks failures"
	case strings.Contains(q, "cpu"):
		return "CPU monitor - tracks resource usage"
	case strings.Contains(q, "memory"), strings.Contains(q, "mem"):
		return "MEMORY monitor - tracks resource usage"
	}
	return "Custom monitor - review query for details"
}

// ─── metric queries ───────────────────────────────────────────────────────────

type metricQueryResponse struct {
	Series []struct {
		Scope     string       `json:"scope"`
		Pointlist [][2]float64 `json:"pointlist"`
	} `json:"series"`
}

func (t *Tools) runMetricQuery(ctx context.Context, query string, minutesBack int) (*metricQueryResponse, error) {
	now := time.Now().Unix()
	q := url.Values{}
	q.Set("query", query)
	q.Set("from", fmt.Sprintf("%d", now-int64(minutesBack)*60))
	q.Set("to", fmt.Sprintf("%d", now))

	var resp metricQueryResponse
	if err := t.get(ctx, "/api/v1/query", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func seriesValues(points [][2]float64) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		values = append(values, p[1])
	}
	return values
}

func (t *Tools) getAPMServiceSummary(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("Datadog"), nil
	}

	service := stringArg(args, "service_name", "")
	if service == "" {
		return tools.Failuref("service_name is required"), nil
	}
	env := stringArg(args, "env", "prod")
	minutesBack := intArg(args, "minutes_back", 30)

	queries := []struct{ name, query string }{
		{"error_rate", fmt.Sprintf("sum:trace.http.request.errors{service:%s,env:%s}.as_rate()", service, env)},
		{"latency_p95", fmt.Sprintf("p95:trace.http.request.duration{service:%s,env:%s}", service, env)},
		{"throughput", fmt.Sprintf("sum:trace.http.request.hits{service:%s,env:%s}.as_rate()", service, env)},
	}

	results := map[string]interface{}{}
	var issues []string

	for _, mq := range queries {
		resp, err := t.runMetricQuery(ctx, mq.query, minutesBack)
		if err != nil || len(resp.Series) == 0 {
			results[mq.name] = nil
			continue
		}
		values := seriesValues(resp.Series[0].Pointlist)
		if len(values) == 0 {
			results[mq.name] = nil
			continue
		}

		current := values[len(values)-1]
		// Trace durations come back in nanoseconds; normalize to ms.
		if mq.name == "latency_p95" && current > 1_000_000 {
			current = current / 1_000_000
		}
		results[mq.name] = round2(current)

		if mq.name == "error_rate" && current > 0.01 {
			issues = append(issues, fmt.Sprintf("High error rate: %.2f%%", current*100))
		}
		if mq.name == "latency_p95" && current > 500 {
			issues = append(issues, fmt.Sprintf("High P95 latency: %.0fms", current))
		}
	}

	summary := "Service appears healthy"
	if len(issues) > 0 {
		summary = "ISSUES: " + strings.Join(issues, "; ")
	}

	return tools.Success(map[string]interface{}{
		"service": service,
		"summary": summary,
		"metrics": results,
		"issues":  issues,
	}), nil
}

func (t *Tools) queryMetrics(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("Datadog"), nil
	}

	query := stringArg(args, "query", "")
	if query == "" {
		return tools.Failuref("query is required"), nil
	}
	minutesBack := intArg(args, "minutes_back", 30)

	resp, err := t.runMetricQuery(ctx, query, minutesBack)
	if err != nil {
		return "", err
	}

	var results []map[string]interface{}
	for _, series := range resp.Series {
		values := seriesValues(series.Pointlist)
		if len(values) == 0 {
			continue
		}

		minV, maxV, sum := values[0], values[0], 0.0
		for _, v := range values {
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
			sum += v
		}

		first, last := values[0], values[len(values)-1]
		trend := "stable"
		if last > first*1.2 {
			trend = "increasing"
		} else if last < first*0.8 {
			trend = "decreasing"
		}

		results = append(results, map[string]interface{}{
			"scope":  series.Scope,
			"latest": round4(last),
			"min":    round4(minV),
			"max":    round4(maxV),
			"avg":    round4(sum / float64(len(values))),
			"trend":  trend,
		})
	}

	return tools.Success(map[string]interface{}{
		"query":   query,
		"results": results,
	}), nil
}

// ─── search_logs ──────────────────────────────────────────────────────────────

type logsSearchResponse struct {
	Data []struct {
		Attributes struct {
			Timestamp  string                 `json:"timestamp"`
			Service    string                 `json:"service"`
			Status     string                 `json:"status"`
			Message    string                 `json:"message"`
			Attributes map[string]interface{} `json:"attributes"`
		} `json:"attributes"`
	} `json:"data"`
}

func (t *Tools) searchLogs(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("Datadog"), nil
	}

	query := stringArg(args, "query", "")
	if query == "" {
		return tools.Failuref("query is required"), nil
	}
	minutesBack := intArg(args, "minutes_back", 30)
	limit := intArg(args, "limit", 50)

	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"query": query,
			"from":  fmt.Sprintf("now-%dm", minutesBack),
			"to":    "now",
		},
		"sort": "-timestamp",
		"page": map[string]interface{}{"limit": limit},
	}

	var resp logsSearchResponse
	if err := t.post(ctx, "/api/v2/logs/events/search", body, &resp); err != nil {
		return "", err
	}

	var logs []map[string]interface{}
	var errorMessages []string
	statusCounts := map[string]int{}

	for _, entry := range resp.Data {
		attrs := entry.Attributes
		status := attrs.Status
		if status == "" {
			status = "unknown"
		}
		statusCounts[status]++

		if status == "error" || status == "critical" {
			if msg := truncate(attrs.Message, 200); msg != "" {
				errorMessages = append(errorMessages, msg)
			}
		}

		logs = append(logs, map[string]interface{}{
			"timestamp": truncate(attrs.Timestamp, 23),
			"service":   attrs.Service,
			"status":    status,
			"message":   truncate(attrs.Message, 200),
		})
	}

	topErrors := topPatterns(errorMessages, 3)

	summary := fmt.Sprintf("Found %d logs. No errors found.", len(logs))
	if len(topErrors) > 0 {
		summary = fmt.Sprintf("Found %d logs. Top errors: %s", len(logs), strings.Join(topErrors, "; "))
	}

	if len(logs) > 10 {
		logs = logs[:10]
	}

	return tools.Success(map[string]interface{}{
		"summary":            summary,
		"status_breakdown":   statusCounts,
		"top_error_patterns": topErrors,
		"sample_logs":        logs,
	}), nil
}

// topPatterns buckets messages by their first 50 characters and returns the
// most frequent buckets.
func topPatterns(messages []string, topN int) []string {
	if len(messages) == 0 {
		return nil
	}

	counts := map[string]int{}
	order := []string{}
	for _, msg := range messages {
		key := truncate(msg, 50)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > topN {
		order = order[:topN]
	}

	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, fmt.Sprintf("%s... (%dx)", key, counts[key]))
	}
	return out
}

// ─── get_datadog_events ───────────────────────────────────────────────────────

type eventsResponse struct {
	Events []struct {
		Title        string   `json:"title"`
		DateHappened int64    `json:"date_happened"`
		Source       string   `json:"source"`
		Tags         []string `json:"tags"`
	} `json:"events"`
}

var deploymentSources = map[string]bool{
	"deployment": true,
	"github":     true,
	"jenkins":    true,
	"circleci":   true,
}

func (t *Tools) getDatadogEvents(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("Datadog"), nil
	}

	hoursBack := intArg(args, "hours_back", 4)
	tags := stringSliceArg(args, "tags")

	now := time.Now().Unix()
	q := url.Values{}
	q.Set("start", fmt.Sprintf("%d", now-int64(hoursBack)*3600))
	q.Set("end", fmt.Sprintf("%d", now))
	// An empty tags parameter makes the API fail; only set it when present.
	if len(tags) > 0 {
		q.Set("tags", strings.Join(tags, ","))
	}

	var resp eventsResponse
	if err := t.get(ctx, "/api/v1/events", q, &resp); err != nil {
		return "", err
	}

	var events []map[string]interface{}
	var deployments []map[string]interface{}

	for _, event := range resp.Events {
		var ts interface{}
		if event.DateHappened > 0 {
			ts = time.Unix(event.DateHappened, 0).UTC().Format(time.RFC3339)
		}
		eventData := map[string]interface{}{
			"title":     truncate(event.Title, 100),
			"timestamp": ts,
			"source":    event.Source,
			"tags":      event.Tags,
		}
		events = append(events, eventData)

		if deploymentSources[event.Source] || strings.Contains(strings.ToLower(event.Title), "deploy") {
			deployments = append(deployments, eventData)
		}
	}

	summary := fmt.Sprintf("No deployments. %d total events.", len(events))
	if len(deployments) > 0 {
		summary = fmt.Sprintf("%d DEPLOYMENTS found", len(deployments))
	}

	if len(deployments) > 10 {
		deployments = deployments[:10]
	}
	if len(events) > 20 {
		events = events[:20]
	}

	return tools.Success(map[string]interface{}{
		"summary":     summary,
		"deployments": deployments,
		"all_events":  events,
	}), nil
}

// ─── argument helpers ─────────────────────────────────────────────────────────

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

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func round2(v float64) float64 { return roundN(v, 100) }
func round4(v float64) float64 { return roundN(v, 10000) }

func roundN(v float64, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
