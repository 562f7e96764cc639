package agent

import (
	"encoding/json"
	"sort"
	"sync"
)

// defaultDeploymentsCap bounds the accumulated deployment list so the
// rendered context stays small; only the most recent entries are kept.
const defaultDeploymentsCap = 20

// Deployment is one deployment record discovered by a tool. Tools return
// heterogeneous shapes, so records are kept as raw maps; identity is
// structural equality over the whole record.
type Deployment map[string]interface{}

// key returns the canonical form used for dedup. encoding/json sorts map
// keys, so structurally equal records produce identical keys.
func (d Deployment) key() string {
	data, err := json.Marshal(map[string]interface{}(d))
	if err != nil {
		return ""
	}
	return string(data)
}

// Evidence accumulates deduplicated deployments and affected services across
// the tool results of one investigation. Merges may arrive from concurrent
// tool dispatches, so mutation is locked.
type Evidence struct {
	mu          sync.Mutex
	limit       int
	deployments []Deployment
	seen        map[string]bool
	services    map[string]bool
}

// NewEvidence creates an empty store seeded with the alerting service.
// deploymentsCap bounds the retained deployment window; values <= 0 fall
// back to the default of 20.
func NewEvidence(service string, deploymentsCap int) *Evidence {
	if deploymentsCap <= 0 {
		deploymentsCap = defaultDeploymentsCap
	}
	e := &Evidence{
		limit:    deploymentsCap,
		seen:     make(map[string]bool),
		services: make(map[string]bool),
	}
	if service != "" {
		e.services[service] = true
	}
	return e
}

// MergePayload scans a tool-result payload for a "deployments" array and an
// "affected_services" array and folds them in. Malformed payloads are
// ignored; a tool that returns junk simply contributes no evidence.
func (e *Evidence) MergePayload(payload string) {
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return
	}

	if raw, ok := body["deployments"].([]interface{}); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]interface{}); ok {
				e.AddDeployment(Deployment(m))
			}
		}
	}

	if raw, ok := body["affected_services"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok && s != "" {
				e.AddService(s)
			}
		}
	}
}

// AddDeployment appends a deployment if an identical record has not been seen
// yet, then truncates to the most recent limit entries.
func (e *Evidence) AddDeployment(d Deployment) {
	key := d.key()
	if key == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seen[key] {
		return
	}
	e.seen[key] = true
	e.deployments = append(e.deployments, d)

	if over := len(e.deployments) - e.limit; over > 0 {
		for _, old := range e.deployments[:over] {
			delete(e.seen, old.key())
		}
		e.deployments = e.deployments[over:]
	}
}

// AddService records a service as affected.
func (e *Evidence) AddService(service string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.services[service] = true
}

// Deployments returns a copy of the accumulated deployments, oldest first.
func (e *Evidence) Deployments() []Deployment {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Deployment, len(e.deployments))
	copy(out, e.deployments)
	return out
}

// Services returns the affected services, sorted.
func (e *Evidence) Services() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.services))
	for s := range e.services {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
