package broadcast

import (
	"testing"
	"time"

	"horse.fit/websetdedup/internal/events"
)

func TestSubscribeReplaysItemsOnly(t *testing.T) {
	t.Parallel()

	bus := New()
	bus.CreateJob("job-1")
	bus.Publish("job-1", events.Item(map[string]any{"id": "a"}))
	bus.Publish("job-1", events.Rejected(map[string]any{"id": "b"}, "exact_match", "x", nil))

	sub, ok := bus.Subscribe("job-1")
	if !ok {
		t.Fatalf("expected subscription to succeed")
	}
	defer sub.Cancel()

	if len(sub.Replay) != 1 {
		t.Fatalf("expected only item events replayed, got %d", len(sub.Replay))
	}
	if sub.Replay[0].Type != events.KindItem {
		t.Fatalf("expected replayed event to be item, got %s", sub.Replay[0].Type)
	}
}

func TestSubscribeAfterFinishedReturnsTerminalImmediately(t *testing.T) {
	t.Parallel()

	bus := New()
	bus.CreateJob("job-1")
	bus.Publish("job-1", events.Item(map[string]any{"id": "a"}))
	bus.Publish("job-1", events.Finished(1))

	sub, ok := bus.Subscribe("job-1")
	if !ok {
		t.Fatalf("expected subscription to succeed")
	}
	defer sub.Cancel()

	if sub.Terminal == nil || sub.Terminal.Type != events.KindFinished {
		t.Fatalf("expected terminal finished event, got %+v", sub.Terminal)
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	t.Parallel()

	bus := New()
	bus.CreateJob("job-1")
	sub, ok := bus.Subscribe("job-1")
	if !ok {
		t.Fatalf("expected subscription to succeed")
	}
	defer sub.Cancel()

	for i := 0; i < subscriberBufferSize+10; i++ {
		bus.Publish("job-1", events.Item(map[string]any{"id": i}))
	}

	select {
	case _, open := <-sub.Events:
		if !open {
			return
		}
	case <-time.After(time.Second):
		t.Fatalf("expected channel to be drained or closed promptly")
	}
}
