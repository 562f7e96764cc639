package agent

import "github.com/incidentops/incident-agent/internal/llm/types"

// defaultSummary is returned when no assistant message qualifies as a
// summary.
const defaultSummary = "Investigation complete."

// minSummaryChars filters out short acknowledgement-only turns. Known
// limitation: an earlier long exploratory message can win over a later short
// confirmation.
const minSummaryChars = 50

// Synthesize picks the investigation summary from a finished transcript: the
// most recent assistant message that requests no tools and carries more than
// minSummaryChars of text.
func Synthesize(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.IsFinal() && len(msg.Content) > minSummaryChars {
			return msg.Content
		}
	}
	return defaultSummary
}
