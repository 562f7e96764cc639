package engine

import (
	"sync"

	"github.com/incidentops/incident-agent/internal/agent"
)

// Broker fans investigation events out to live subscribers (websocket
// clients). Subscribers that fall behind lose events rather than blocking
// the investigation loop.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan agent.Event]struct{} // investigation ID → subscribers
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan agent.Event]struct{})}
}

// Subscribe returns a buffered event channel for one investigation and a
// cancel function that must be called when the subscriber goes away.
func (b *Broker) Subscribe(investigationID string) (<-chan agent.Event, func()) {
	ch := make(chan agent.Event, 64)

	b.mu.Lock()
	if b.subs[investigationID] == nil {
		b.subs[investigationID] = make(map[chan agent.Event]struct{})
	}
	b.subs[investigationID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[investigationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, investigationID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its investigation.
// Full subscriber buffers are skipped.
func (b *Broker) Publish(ev agent.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[ev.InvestigationID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
