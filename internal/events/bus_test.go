package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	agentSub := bus.Subscribe(TopicAgent, 8)
	waveSub := bus.Subscribe(TopicWave, 8)

	bus.Publish(TopicAgent, AgentSpawnedEvent{ID: "agent-1", WorkerType: "explore", Timestamp: time.Now()})
	bus.Publish(TopicWave, WaveAdvancedEvent{Wave: 2, TotalWaves: 3, Timestamp: time.Now()})

	select {
	case ev := <-agentSub:
		if ev.EventType() != EventTypeAgentSpawned {
			t.Errorf("agent sub got %s", ev.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("agent subscriber received nothing")
	}

	select {
	case ev := <-waveSub:
		if ev.EventType() != EventTypeWaveAdvanced {
			t.Errorf("wave sub got %s", ev.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("wave subscriber received nothing")
	}

	// Topic isolation: the agent subscriber must not see wave events.
	select {
	case ev := <-agentSub:
		t.Errorf("agent sub leaked event %s", ev.EventType())
	default:
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(8)

	bus.Publish(TopicAgent, AgentOutputEvent{ID: "agent-1", Line: "hello", Timestamp: time.Now()})
	bus.Publish(TopicWave, GraphProgressEvent{Total: 3, Completed: 1, Timestamp: time.Now()})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("all-topic subscriber got %d of 2 events", i)
		}
	}
}

func TestFullSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicAgent, 1)

	// Second publish must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		bus.Publish(TopicAgent, AgentOutputEvent{ID: "agent-1", Line: "one"})
		bus.Publish(TopicAgent, AgentOutputEvent{ID: "agent-1", Line: "two"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	ev := <-sub
	if out, ok := ev.(AgentOutputEvent); !ok || out.Line != "one" {
		t.Errorf("got %+v, want first line", ev)
	}
}

func TestCloseIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(TopicAgent, 1)

	bus.Close()
	bus.Close()

	if _, open := <-sub; open {
		t.Error("subscriber channel still open after Close")
	}

	// Operations on a closed bus are safe no-ops.
	bus.Publish(TopicAgent, AgentOutputEvent{ID: "x"})
	if _, open := <-bus.Subscribe(TopicAgent, 1); open {
		t.Error("Subscribe on closed bus returned open channel")
	}
}
