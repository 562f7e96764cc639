package agent

import "time"

// EventType identifies a loop progress event.
type EventType string

const (
	EventPhaseChanged EventType = "phase_changed"
	EventReasoning    EventType = "reasoning"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// Event is one observable step of a running investigation, published to live
// observers (websocket clients) as the loop progresses.
type Event struct {
	Type            EventType `json:"type"`
	InvestigationID string    `json:"investigation_id"`
	Phase           Phase     `json:"phase"`
	Iteration       int       `json:"iteration"`
	Tool            string    `json:"tool,omitempty"`
	Content         string    `json:"content,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventSink receives loop events. Implementations must not block; the loop
// calls them inline.
type EventSink func(Event)

func (l *Loop) emit(inv *Investigation, eventType EventType, tool, content string) {
	if l.events == nil {
		return
	}
	l.events(Event{
		Type:            eventType,
		InvestigationID: inv.ID,
		Phase:           inv.Phase,
		Iteration:       inv.Iteration,
		Tool:            tool,
		Content:         content,
		Timestamp:       time.Now().UTC(),
	})
}
