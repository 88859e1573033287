package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/flitsinc/agent-worlds/internal/testutil"
)

func TestPublishSubscribe(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := NewBus(db, "w1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx, KindMessage)

	evt, err := bus.PublishMessage(ctx, "hello", "human", "", "m1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if evt.Payload.Kind() != KindMessage {
		t.Fatalf("expected message kind, got %s", evt.Payload.Kind())
	}

	select {
	case got := <-sub:
		msg, ok := got.Payload.(MessagePayload)
		if !ok {
			t.Fatalf("expected MessagePayload, got %T", got.Payload)
		}
		if msg.Content != "hello" || msg.Sender != "human" || msg.MessageID != "m1" {
			t.Fatalf("unexpected payload: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
}

func TestSubscribeKindFilter(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := NewBus(db, "w1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bus.Subscribe(ctx, KindSSE)

	if _, err := bus.PublishMessage(ctx, "ignored", "human", "", "m1"); err != nil {
		t.Fatalf("publish message: %v", err)
	}
	if _, err := bus.PublishSSE(ctx, "alpha", "m1", "start", ""); err != nil {
		t.Fatalf("publish sse: %v", err)
	}

	select {
	case got := <-sub:
		sse, ok := got.Payload.(SSEPayload)
		if !ok {
			t.Fatalf("expected SSEPayload, got %T", got.Payload)
		}
		if sse.AgentID != "alpha" || sse.Phase != "start" {
			t.Fatalf("unexpected sse payload: %+v", sse)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for sse event")
	}
}

func TestHistoryDecodesTypedPayloads(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	ctx := context.Background()
	bus := NewBus(db, "w1")
	other := NewBus(db, "w2")

	if _, err := bus.PublishMessage(ctx, "first", "human", "", "m1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(ctx, SystemPayload{Content: "turn limit reached"}); err != nil {
		t.Fatalf("publish system: %v", err)
	}
	if _, err := other.PublishMessage(ctx, "elsewhere", "human", "", "m2"); err != nil {
		t.Fatalf("publish other world: %v", err)
	}

	events, err := bus.History(ctx, nil, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for w1, got %d", len(events))
	}
	if _, ok := events[0].Payload.(MessagePayload); !ok {
		t.Fatalf("expected MessagePayload first, got %T", events[0].Payload)
	}
	if _, ok := events[1].Payload.(SystemPayload); !ok {
		t.Fatalf("expected SystemPayload second, got %T", events[1].Payload)
	}

	onlyMessages, err := bus.History(ctx, []Kind{KindMessage}, 10)
	if err != nil {
		t.Fatalf("history filtered: %v", err)
	}
	if len(onlyMessages) != 1 {
		t.Fatalf("expected 1 message event, got %d", len(onlyMessages))
	}
}

func TestEventJSONCarriesKindTag(t *testing.T) {
	evt := Event{
		ID:      "01ABC",
		WorldID: "w1",
		Payload: ActivityPayload{AgentID: "alpha", State: "idle"},
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "activity" {
		t.Fatalf("expected kind tag, got %v", decoded["kind"])
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := NewBus(db, "w1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Never drained: the channel buffer fills and further events drop.
	_ = bus.Subscribe(ctx, KindMessage)

	for i := 0; i < 100; i++ {
		if _, err := bus.PublishMessage(ctx, "spam", "human", "", ""); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
}
