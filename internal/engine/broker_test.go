package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/incident-agent/internal/agent"
)

func TestBrokerFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe("inv-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("inv-1")
	defer cancel2()
	other, cancelOther := b.Subscribe("inv-2")
	defer cancelOther()

	b.Publish(agent.Event{Type: agent.EventReasoning, InvestigationID: "inv-1"})

	for _, ch := range []<-chan agent.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, agent.EventReasoning, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("subscriber of a different investigation received the event")
	default:
	}
}

func TestBrokerCancelStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("inv-1")
	cancel()

	b.Publish(agent.Event{Type: agent.EventCompleted, InvestigationID: "inv-1"})

	select {
	case _, ok := <-ch:
		require.False(t, ok, "cancelled subscriber should not receive events")
	default:
	}
}

func TestBrokerFullBufferDoesNotBlock(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe("inv-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Publish(agent.Event{Type: agent.EventToolResult, InvestigationID: "inv-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}
