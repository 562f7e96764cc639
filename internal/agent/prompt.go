package agent

import (
	"fmt"
	"strings"
)

// systemPrompt frames the model as an SRE and describes the phased
// methodology the loop enforces mechanically.
const systemPrompt = `You are an expert Site Reliability Engineer (SRE) investigating production incidents.

## Your Mission
Identify root causes of production incidents quickly and provide actionable recommendations.

## Investigation Methodology

### Phase 1: TRIAGE
- Understand what the alert is telling us
- Verify if this is a real issue or a false positive
- Identify affected services
- Check find_matching_runbooks and search_similar_incidents for prior knowledge

### Phase 2: CHANGE DETECTION (HIGHEST PRIORITY)
MOST INCIDENTS (70-80%) ARE CAUSED BY RECENT CHANGES. Always check:
- Recent deployments (get_recent_deployments)
- What changed in suspicious commits (get_deployment_commits)

If a deployment occurred 5-60 minutes before the incident, IT IS THE PRIME SUSPECT.

### Phase 3: HYPOTHESIS TESTING
Use monitoring tools to test hypotheses:
1. Recent deployment introduced a bug (most common)
2. Downstream dependency failure
3. Resource exhaustion
4. Traffic spike

### Phase 4: CONCLUSION
- Synthesize findings into a root cause with a confidence level (High/Medium/Low)
- Report results with send_investigation_result
- Record runbook usage with record_runbook_execution if you followed one

## Critical Rules

1. CHECK DEPLOYMENTS FIRST - most incidents are caused by changes
2. BE SPECIFIC - cite exact values, timestamps, evidence
3. If a tool reports it is not configured, move on without it
4. When you have a conclusion, state it plainly and stop calling tools`

// maxAlertMessageChars bounds how much raw alert text goes into the prompt.
const maxAlertMessageChars = 500

// beginMessage is the dedicated first-cycle instruction that anchors the
// model's opening move.
func beginMessage(alert AlertContext) string {
	message := alert.Message
	if len(message) > maxAlertMessageChars {
		message = message[:maxAlertMessageChars]
	}

	return fmt.Sprintf(`A production incident requires investigation.

**Alert**: %s
**Service**: %s
**Severity**: %s
**Message**: %s

Begin your investigation:
1. Check for matching runbooks and similar past incidents
2. Check for recent deployments (HIGHEST PRIORITY)
3. Understand the alert and service health from monitoring
4. Synthesize findings and identify the root cause
5. Report results to the team`,
		orUnknown(alert.AlertName), orUnknown(alert.Service),
		orUnknown(alert.Severity), message)
}

// contextBlock renders the per-cycle status the model sees: phase, budget,
// alert summary, and up to 5 most recent deployments gathered so far. Close
// to the iteration cap it adds explicit termination pressure.
func contextBlock(inv *Investigation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[Investigation status] phase=%s iteration=%d/%d\n",
		inv.Phase, inv.Iteration, inv.MaxIterations)
	fmt.Fprintf(&b, "Alert: %s on %s (severity %s)\n",
		orUnknown(inv.Alert.AlertName), orUnknown(inv.Alert.Service), orUnknown(inv.Alert.Severity))

	if services := inv.Evidence.Services(); len(services) > 0 {
		fmt.Fprintf(&b, "Affected services: %s\n", strings.Join(services, ", "))
	}

	deployments := inv.Evidence.Deployments()
	if len(deployments) > 0 {
		if len(deployments) > 5 {
			deployments = deployments[len(deployments)-5:]
		}
		b.WriteString("Recent deployments found so far:\n")
		for _, d := range deployments {
			fmt.Fprintf(&b, "- %s\n", renderDeployment(d))
		}
	}

	if inv.Iteration >= inv.MaxIterations-3 {
		fmt.Fprintf(&b, "\nWARNING: only %d iterations remain. Conclude the investigation now: state the most likely root cause with your confidence level and report it.",
			inv.MaxIterations-inv.Iteration)
	}

	return b.String()
}

// renderDeployment produces a one-line summary of a deployment record using
// whichever common fields are present.
func renderDeployment(d Deployment) string {
	parts := make([]string, 0, 4)
	for _, key := range []string{"sha", "environment", "created_at", "creator", "author", "status"} {
		if v, ok := d[key].(string); ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", key, v))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%v", map[string]interface{}(d))
	}
	return strings.Join(parts, " ")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
