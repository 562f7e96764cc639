// Package github implements the GitHub investigation tools. Most incidents
// trace back to recent changes, so deployment discovery is the highest-value
// avenue the agent has.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/tools"
)

const defaultBaseURL = "https://api.github.com"

// Tools holds the GitHub tool handlers for one investigation.
type Tools struct {
	creds      *credentials.GitHub // nil when not configured
	auth       *appAuth
	httpClient *http.Client
	baseURL    string
	authErr    error
}

// New creates the GitHub tool set. creds may be nil; every tool then returns
// a "not configured" payload.
func New(creds *credentials.GitHub) *Tools {
	return newWithBaseURL(creds, defaultBaseURL)
}

// NewWithBaseURL creates a tool set pointed at a fixed base URL (tests).
func NewWithBaseURL(creds *credentials.GitHub, baseURL string) *Tools {
	return newWithBaseURL(creds, baseURL)
}

func newWithBaseURL(creds *credentials.GitHub, baseURL string) *Tools {
	t := &Tools{
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
	if creds != nil {
		auth, err := newAppAuth(creds.AppID, creds.PrivateKey, creds.InstallationID, baseURL, t.httpClient)
		if err != nil {
			// Bad key material surfaces per-call as a failure payload, not a
			// constructor error, so the rest of the tool set still works.
			t.authErr = err
		} else {
			t.auth = auth
		}
	}
	return t
}

// Register adds all GitHub tools to the registry.
func (t *Tools) Register(r *tools.Registry) {
	r.Register(types.Tool{
		Name:        "get_recent_deployments",
		Description: "Get recent deployments from a GitHub repository. HIGHEST-VALUE tool: a deployment within 5-60 minutes of the incident is the prime suspect.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"owner":       map[string]interface{}{"type": "string", "description": "Repository owner (org or user)"},
				"repo":        map[string]interface{}{"type": "string", "description": "Repository name"},
				"hours_back":  map[string]interface{}{"type": "integer", "description": "How far back to look (default: 6)"},
				"environment": map[string]interface{}{"type": "string", "description": "Filter by environment, e.g. production"},
			},
			"required": []string{"owner", "repo"},
		},
	}, t.getRecentDeployments)

	r.Register(types.Tool{
		Name:        "get_deployment_commits",
		Description: "Get commits included in a deployment to see what code changed. Use after finding a suspicious deployment.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"owner":      map[string]interface{}{"type": "string", "description": "Repository owner"},
				"repo":       map[string]interface{}{"type": "string", "description": "Repository name"},
				"sha":        map[string]interface{}{"type": "string", "description": "Deployment SHA"},
				"compare_to": map[string]interface{}{"type": "string", "description": "Optional SHA to compare against (e.g. previous deployment)"},
			},
			"required": []string{"owner", "repo", "sha"},
		},
	}, t.getDeploymentCommits)

	r.Register(types.Tool{
		Name:        "get_recent_commits",
		Description: "Get recent commits from a repository branch.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"owner":      map[string]interface{}{"type": "string", "description": "Repository owner"},
				"repo":       map[string]interface{}{"type": "string", "description": "Repository name"},
				"hours_back": map[string]interface{}{"type": "integer", "description": "How far back to look (default: 24)"},
				"branch":     map[string]interface{}{"type": "string", "description": "Branch to check (default: main)"},
			},
			"required": []string{"owner", "repo"},
		},
	}, t.getRecentCommits)
}

// get issues an installation-authenticated GET and decodes into out.
func (t *Tools) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if t.authErr != nil {
		return t.authErr
	}
	token, err := t.auth.installationToken(ctx)
	if err != nil {
		return err
	}

	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

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
		return fmt.Errorf("github API returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return json.Unmarshal(data, out)
}

// ─── get_recent_deployments ───────────────────────────────────────────────────

type deploymentResponse struct {
	ID          int64     `json:"id"`
	SHA         string    `json:"sha"`
	Ref         string    `json:"ref"`
	Environment string    `json:"environment"`
	CreatedAt   time.Time `json:"created_at"`
	Creator     *struct {
		Login string `json:"login"`
	} `json:"creator"`
}

type deploymentStatus struct {
	State string `json:"state"`
}

func (t *Tools) getRecentDeployments(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("GitHub"), nil
	}

	owner := stringArg(args, "owner", t.creds.Owner)
	repo := stringArg(args, "repo", t.creds.Repo)
	if owner == "" || repo == "" {
		return tools.Failuref("owner and repo are required"), nil
	}
	hoursBack := intArg(args, "hours_back", 6)
	environment := stringArg(args, "environment", "")

	q := url.Values{}
	q.Set("per_page", "30")
	if environment != "" {
		q.Set("environment", environment)
	}

	var deploys []deploymentResponse
	if err := t.get(ctx, fmt.Sprintf("/repos/%s/%s/deployments", owner, repo), q, &deploys); err != nil {
		return "", err
	}

	cutoff := time.Now().UTC().Add(-time.Duration(hoursBack) * time.Hour)

	var deployments []map[string]interface{}
	for _, deploy := range deploys {
		// The API returns newest first; stop at the window boundary.
		if deploy.CreatedAt.Before(cutoff) {
			break
		}

		status := "unknown"
		var statuses []deploymentStatus
		statusPath := fmt.Sprintf("/repos/%s/%s/deployments/%d/statuses", owner, repo, deploy.ID)
		if err := t.get(ctx, statusPath, nil, &statuses); err == nil && len(statuses) > 0 {
			status = statuses[0].State
		}

		var creator interface{}
		if deploy.Creator != nil {
			creator = deploy.Creator.Login
		}

		minutesAgo := int(time.Since(deploy.CreatedAt).Minutes())
		deployments = append(deployments, map[string]interface{}{
			"sha":         truncate(deploy.SHA, 7),
			"full_sha":    deploy.SHA,
			"ref":         deploy.Ref,
			"environment": deploy.Environment,
			"created_at":  deploy.CreatedAt.Format(time.RFC3339),
			"creator":     creator,
			"status":      status,
			"minutes_ago": minutesAgo,
		})
	}

	summary := fmt.Sprintf("No deployments in the last %d hours.", hoursBack)
	if len(deployments) > 0 {
		recent := deployments[0]
		minutesAgo := recent["minutes_ago"].(int)
		if minutesAgo < 60 {
			summary = fmt.Sprintf("DEPLOYMENT %s deployed %d min ago - PRIME SUSPECT", recent["sha"], minutesAgo)
		} else {
			summary = fmt.Sprintf("Found %d deployments. Most recent: %d min ago.", len(deployments), minutesAgo)
		}
	}

	if len(deployments) > 10 {
		deployments = deployments[:10]
	}

	return tools.Success(map[string]interface{}{
		"repo":        owner + "/" + repo,
		"summary":     summary,
		"deployments": deployments,
	}), nil
}

// ─── get_deployment_commits ───────────────────────────────────────────────────

type commitEntry struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  *struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Files []fileEntry `json:"files"`
}

type fileEntry struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Changes  int    `json:"changes"`
}

type compareResponse struct {
	Commits []commitEntry `json:"commits"`
	Files   []fileEntry   `json:"files"`
}

var highRiskPatterns = []string{
	"database", "migration", ".sql", "schema",
	"config", "settings", "env",
	"auth", "security", "payment",
	"api/", "routes", "controller",
}

func isHighRisk(filename string) bool {
	lower := strings.ToLower(filename)
	for _, p := range highRiskPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func summarizeFiles(entries []fileEntry) (files []map[string]interface{}, highRisk []string) {
	if len(entries) > 20 {
		entries = entries[:20]
	}
	for _, f := range entries {
		files = append(files, map[string]interface{}{
			"filename": f.Filename,
			"status":   f.Status,
			"changes":  f.Changes,
		})
		if isHighRisk(f.Filename) {
			highRisk = append(highRisk, f.Filename)
		}
	}
	if len(highRisk) > 5 {
		highRisk = highRisk[:5]
	}
	if len(files) > 10 {
		files = files[:10]
	}
	return files, highRisk
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	return message
}

func (t *Tools) getDeploymentCommits(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("GitHub"), nil
	}

	owner := stringArg(args, "owner", t.creds.Owner)
	repo := stringArg(args, "repo", t.creds.Repo)
	sha := stringArg(args, "sha", "")
	if owner == "" || repo == "" || sha == "" {
		return tools.Failuref("owner, repo, and sha are required"), nil
	}
	compareTo := stringArg(args, "compare_to", "")

	if compareTo != "" {
		var comparison compareResponse
		path := fmt.Sprintf("/repos/%s/%s/compare/%s...%s", owner, repo, compareTo, sha)
		if err := t.get(ctx, path, nil, &comparison); err != nil {
			return "", err
		}

		commitList := comparison.Commits
		if len(commitList) > 20 {
			commitList = commitList[:20]
		}
		var commits []map[string]interface{}
		for _, c := range commitList {
			var author interface{}
			if c.Commit.Author != nil {
				author = c.Commit.Author.Name
			}
			commits = append(commits, map[string]interface{}{
				"sha":     truncate(c.SHA, 7),
				"message": truncate(firstLine(c.Commit.Message), 80),
				"author":  author,
			})
		}

		files, highRisk := summarizeFiles(comparison.Files)
		filesChanged := len(comparison.Files)
		if filesChanged > 20 {
			filesChanged = 20
		}

		return tools.Success(map[string]interface{}{
			"commits":         commits,
			"files_changed":   filesChanged,
			"high_risk_files": highRisk,
			"sample_files":    files,
		}), nil
	}

	var commit commitEntry
	if err := t.get(ctx, fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, sha), nil, &commit); err != nil {
		return "", err
	}

	files, highRisk := summarizeFiles(commit.Files)
	filesChanged := len(commit.Files)
	if filesChanged > 20 {
		filesChanged = 20
	}

	var author interface{}
	if commit.Commit.Author != nil {
		author = commit.Commit.Author.Name
	}

	return tools.Success(map[string]interface{}{
		"sha":             truncate(sha, 7),
		"message":         firstLine(commit.Commit.Message),
		"author":          author,
		"files_changed":   filesChanged,
		"high_risk_files": highRisk,
		"sample_files":    files,
	}), nil
}

// ─── get_recent_commits ───────────────────────────────────────────────────────

func (t *Tools) getRecentCommits(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.creds == nil {
		return tools.NotConfigured("GitHub"), nil
	}

	owner := stringArg(args, "owner", t.creds.Owner)
	repo := stringArg(args, "repo", t.creds.Repo)
	if owner == "" || repo == "" {
		return tools.Failuref("owner and repo are required"), nil
	}
	hoursBack := intArg(args, "hours_back", 24)
	branch := stringArg(args, "branch", "main")

	q := url.Values{}
	q.Set("sha", branch)
	q.Set("since", time.Now().UTC().Add(-time.Duration(hoursBack)*time.Hour).Format(time.RFC3339))
	q.Set("per_page", "20")

	var entries []commitEntry
	if err := t.get(ctx, fmt.Sprintf("/repos/%s/%s/commits", owner, repo), q, &entries); err != nil {
		return "", err
	}

	var commits []map[string]interface{}
	for _, c := range entries {
		var author, date interface{}
		if c.Commit.Author != nil {
			author = c.Commit.Author.Name
			date = c.Commit.Author.Date.Format(time.RFC3339)
		}
		commits = append(commits, map[string]interface{}{
			"sha":     truncate(c.SHA, 7),
			"message": truncate(firstLine(c.Commit.Message), 80),
			"author":  author,
			"date":    date,
		})
		if len(commits) >= 20 {
			break
		}
	}

	return tools.Success(map[string]interface{}{
		"repo":    owner + "/" + repo,
		"branch":  branch,
		"commits": commits,
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
