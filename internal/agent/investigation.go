package agent

import (
	"time"

	"github.com/incidentops/incident-agent/internal/llm/types"
)

// AlertContext is the immutable alert input that starts an investigation.
type AlertContext struct {
	AlertName string   `json:"alert_name"`
	Service   string   `json:"service"`
	Severity  string   `json:"severity"`
	Message   string   `json:"message"`
	MonitorID string   `json:"monitor_id,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Investigation holds all mutable state for one run: the transcript, the
// iteration counter, the current phase, and the evidence gathered so far.
// A single loop goroutine owns it; once Run returns it is read-only.
type Investigation struct {
	ID    string
	OrgID string
	Alert AlertContext

	Phase         Phase
	Iteration     int
	MaxIterations int

	Messages []types.Message
	Evidence *Evidence

	StartedAt time.Time
}

// NewInvestigation creates an investigation in triage with a fresh evidence
// store seeded from the alerting service. deploymentsCap <= 0 uses the
// default evidence window.
func NewInvestigation(id, orgID string, alert AlertContext, maxIterations, deploymentsCap int) *Investigation {
	return &Investigation{
		ID:            id,
		OrgID:         orgID,
		Alert:         alert,
		Phase:         PhaseTriage,
		Iteration:     0,
		MaxIterations: maxIterations,
		Evidence:      NewEvidence(alert.Service, deploymentsCap),
		StartedAt:     time.Now().UTC(),
	}
}

// append adds a message to the transcript.
func (inv *Investigation) append(msg types.Message) {
	inv.Messages = append(inv.Messages, msg)
}

// lastMessage returns the most recent transcript entry, or a zero Message
// when the transcript is empty.
func (inv *Investigation) lastMessage() types.Message {
	if len(inv.Messages) == 0 {
		return types.Message{}
	}
	return inv.Messages[len(inv.Messages)-1]
}

// Result is the single object every run returns.
type Result struct {
	Success          bool         `json:"success"`
	Summary          string       `json:"summary,omitempty"`
	Error            string       `json:"error,omitempty"`
	DurationMs       int64        `json:"duration_ms"`
	DeploymentsFound []Deployment `json:"deployments_found,omitempty"`
	ToolCalls        int          `json:"tool_calls"`
	FinalPhase       Phase        `json:"final_phase,omitempty"`
}
