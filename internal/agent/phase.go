package agent

// Phase is one of the four ordered investigation stages. Phases only ever
// move forward within a run.
type Phase string

const (
	PhaseTriage     Phase = "triage"
	PhaseChanges    Phase = "changes"
	PhaseHypothesis Phase = "hypothesis"
	PhaseConclusion Phase = "conclusion"
)

// Iteration thresholds at which the investigation moves to the next phase.
// The counts are post-increment values observed at the start of the next
// cycle, so a run that ends exactly at a threshold reports the earlier phase.
const (
	changesAt    = 2
	hypothesisAt = 5
	conclusionAt = 10
)

// rank orders phases for monotonicity checks.
func (p Phase) rank() int {
	switch p {
	case PhaseTriage:
		return 0
	case PhaseChanges:
		return 1
	case PhaseHypothesis:
		return 2
	case PhaseConclusion:
		return 3
	default:
		return -1
	}
}

// Advance returns the phase the investigation should be in given the current
// phase and the iteration count. Pure function; never regresses, never skips.
func Advance(current Phase, iteration int) Phase {
	next := current
	switch current {
	case PhaseTriage:
		if iteration >= changesAt {
			next = PhaseChanges
		}
	case PhaseChanges:
		if iteration >= hypothesisAt {
			next = PhaseHypothesis
		}
	case PhaseHypothesis:
		if iteration >= conclusionAt {
			next = PhaseConclusion
		}
	case PhaseConclusion:
		// terminal
	}
	return next
}
