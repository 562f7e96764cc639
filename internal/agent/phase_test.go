package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceThresholds(t *testing.T) {
	cases := []struct {
		current   Phase
		iteration int
		want      Phase
	}{
		{PhaseTriage, 0, PhaseTriage},
		{PhaseTriage, 1, PhaseTriage},
		{PhaseTriage, 2, PhaseChanges},
		{PhaseChanges, 4, PhaseChanges},
		{PhaseChanges, 5, PhaseHypothesis},
		{PhaseHypothesis, 9, PhaseHypothesis},
		{PhaseHypothesis, 10, PhaseConclusion},
		{PhaseConclusion, 99, PhaseConclusion},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Advance(tc.current, tc.iteration),
			"Advance(%s, %d)", tc.current, tc.iteration)
	}
}

func TestAdvanceNeverSkips(t *testing.T) {
	// Even at a huge iteration count a single call moves at most one phase.
	assert.Equal(t, PhaseChanges, Advance(PhaseTriage, 100))
	assert.Equal(t, PhaseHypothesis, Advance(PhaseChanges, 100))
}

func TestAdvanceMonotonicOverRun(t *testing.T) {
	phase := PhaseTriage
	prev := phase.rank()
	for iteration := 1; iteration <= 15; iteration++ {
		phase = Advance(phase, iteration)
		assert.GreaterOrEqual(t, phase.rank(), prev, "iteration %d", iteration)
		prev = phase.rank()
	}
	assert.Equal(t, PhaseConclusion, phase)
}
