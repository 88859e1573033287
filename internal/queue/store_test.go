package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/flitsinc/agent-worlds/internal/testutil"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, func()) {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	return NewStore(db, opts...), closeFn
}

func TestEnqueueDequeuePriorityOrder(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()

	low, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "first", Sender: "human", Priority: 0})
	if err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	high, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "second", Sender: "human", Priority: 10})
	if err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	got, err := store.Dequeue(ctx, "w")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.ID != high.ID {
		t.Fatalf("expected high-priority message %s first, got %+v", high.ID, got)
	}
	if got.Status != StatusProcessing || got.ProcessedAt.IsZero() || got.HeartbeatAt.IsZero() {
		t.Fatalf("dequeued message not stamped processing: %+v", got)
	}

	// Second dequeue must refuse while one is in flight.
	blocked, err := store.Dequeue(ctx, "w")
	if err != nil {
		t.Fatalf("dequeue while processing: %v", err)
	}
	if blocked != nil {
		t.Fatalf("expected nil while a message is processing, got %s", blocked.ID)
	}

	if err := store.MarkCompleted(ctx, high.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	next, err := store.Dequeue(ctx, "w")
	if err != nil {
		t.Fatalf("dequeue low: %v", err)
	}
	if next == nil || next.ID != low.ID {
		t.Fatalf("expected low-priority message after completion, got %+v", next)
	}
}

func TestDequeueFIFOWithinPriority(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store, closeFn := newTestStore(t, WithClock(func() time.Time { return clock }))
	defer closeFn()
	ctx := context.Background()

	first, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "a", Sender: "human"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clock = clock.Add(time.Second)
	if _, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "b", Sender: "human"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := store.Dequeue(ctx, "w")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("expected oldest message first, got %+v", got)
	}
}

func TestDequeueIsolatesWorlds(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, Spec{WorldID: "w1", Content: "a", Sender: "human"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, Spec{WorldID: "w2", Content: "b", Sender: "human"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	m1, err := store.Dequeue(ctx, "w1")
	if err != nil || m1 == nil {
		t.Fatalf("dequeue w1: %v %v", m1, err)
	}
	// w1 busy must not block w2.
	m2, err := store.Dequeue(ctx, "w2")
	if err != nil || m2 == nil {
		t.Fatalf("dequeue w2: %v %v", m2, err)
	}
}

func TestMarkFailedRetryArithmetic(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()

	msg, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "x", Sender: "human", MaxRetries: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if _, err := store.Dequeue(ctx, "w"); err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if err := store.MarkFailed(ctx, msg.ID, fmt.Errorf("boom %d", i)); err != nil {
			t.Fatalf("mark failed %d: %v", i, err)
		}
		got, err := store.Get(ctx, msg.ID)
		if err != nil || got == nil {
			t.Fatalf("get after failure %d: %v", i, err)
		}
		if got.Status != StatusPending {
			t.Fatalf("expected pending after failure %d, got %s", i, got.Status)
		}
		if got.RetryCount != i {
			t.Fatalf("expected retry_count %d, got %d", i, got.RetryCount)
		}
		if !got.ProcessedAt.IsZero() || !got.HeartbeatAt.IsZero() {
			t.Fatalf("expected cleared processing stamps after requeue")
		}
		if got.Error == "" {
			t.Fatalf("expected error recorded")
		}
	}

	// Third failure exhausts the budget: terminal failed, count stays at max.
	if _, err := store.Dequeue(ctx, "w"); err != nil {
		t.Fatalf("final dequeue: %v", err)
	}
	if err := store.MarkFailed(ctx, msg.ID, errors.New("boom 3")); err != nil {
		t.Fatalf("final mark failed: %v", err)
	}
	got, err := store.Get(ctx, msg.ID)
	if err != nil || got == nil {
		t.Fatalf("get terminal: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("expected retry_count to stay at max 2, got %d", got.RetryCount)
	}
	if got.CompletedAt.IsZero() {
		t.Fatalf("expected completed_at on terminal failure")
	}
}

func TestMarkFailedUnknownID(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()

	err := store.MarkFailed(context.Background(), "nope", errors.New("x"))
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestRetryMessageGuards(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()

	msg, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "x", Sender: "human", MaxRetries: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Pending message is not retryable.
	ok, err := store.RetryMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("retry pending: %v", err)
	}
	if ok {
		t.Fatalf("retry must refuse a pending message")
	}

	// Drive to terminal failed with one retry left (force-fail at retry 1).
	if _, err := store.Dequeue(ctx, "w"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := store.MarkFailed(ctx, msg.ID, errors.New("boom")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Dequeue(ctx, "w"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := store.ForceFail(ctx, msg.ID, "operator"); err != nil {
		t.Fatalf("force fail: %v", err)
	}

	got, _ := store.Get(ctx, msg.ID)
	if got.Status != StatusFailed || got.RetryCount != 1 {
		t.Fatalf("unexpected state before retry: %+v", got)
	}

	ok, err = store.RetryMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("retry failed message: %v", err)
	}
	if !ok {
		t.Fatalf("expected retry to succeed")
	}
	got, _ = store.Get(ctx, msg.ID)
	if got.Status != StatusPending || got.RetryCount != 2 {
		t.Fatalf("unexpected state after retry: %+v", got)
	}
	if !got.CompletedAt.IsZero() {
		t.Fatalf("expected completed_at cleared on manual retry")
	}

	// Budget now exhausted: not retryable even once failed again.
	if _, err := store.Dequeue(ctx, "w"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := store.MarkFailed(ctx, msg.ID, errors.New("boom")); err != nil {
		t.Fatalf("mark failed terminal: %v", err)
	}
	ok, err = store.RetryMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("retry exhausted: %v", err)
	}
	if ok {
		t.Fatalf("retry must refuse when retry budget is exhausted")
	}
}

func TestDetectStuckMessages(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store, closeFn := newTestStore(t, WithClock(func() time.Time { return clock }))
	defer closeFn()
	ctx := context.Background()

	stale, err := store.Enqueue(ctx, Spec{WorldID: "w1", Content: "stale", Sender: "human", TimeoutSeconds: 60, MaxRetries: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	fresh, err := store.Enqueue(ctx, Spec{WorldID: "w2", Content: "fresh", Sender: "human", TimeoutSeconds: 60})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := store.Dequeue(ctx, "w1"); err != nil {
		t.Fatalf("dequeue w1: %v", err)
	}
	if _, err := store.Dequeue(ctx, "w2"); err != nil {
		t.Fatalf("dequeue w2: %v", err)
	}

	// Advance past the stale message's timeout, then refresh only the fresh one.
	clock = clock.Add(2 * time.Minute)
	if err := store.UpdateHeartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	reclaimed, err := store.DetectStuckMessages(ctx)
	if err != nil {
		t.Fatalf("detect stuck: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", reclaimed)
	}

	got, _ := store.Get(ctx, stale.ID)
	if got.Status != StatusPending || got.RetryCount != 1 {
		t.Fatalf("stale message not requeued: %+v", got)
	}
	if !strings.Contains(got.Error, "timeout") {
		t.Fatalf("expected timeout error text, got %q", got.Error)
	}

	still, _ := store.Get(ctx, fresh.ID)
	if still.Status != StatusProcessing || still.RetryCount != 0 {
		t.Fatalf("fresh message must be untouched: %+v", still)
	}
}

func TestDetectStuckLeavesExhaustedProcessing(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store, closeFn := newTestStore(t, WithClock(func() time.Time { return clock }))
	defer closeFn()
	ctx := context.Background()

	msg, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "x", Sender: "human", TimeoutSeconds: 60, MaxRetries: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Burn the retry budget with one stuck sweep, then get stuck again.
	if _, err := store.Dequeue(ctx, "w"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if n, _ := store.DetectStuckMessages(ctx); n != 1 {
		t.Fatalf("expected first sweep to reclaim")
	}
	if _, err := store.Dequeue(ctx, "w"); err != nil {
		t.Fatalf("dequeue again: %v", err)
	}
	clock = clock.Add(2 * time.Minute)

	reclaimed, err := store.DetectStuckMessages(ctx)
	if err != nil {
		t.Fatalf("detect stuck: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("exhausted message must not be reclaimed, got %d", reclaimed)
	}
	got, _ := store.Get(ctx, msg.ID)
	if got.Status != StatusProcessing {
		t.Fatalf("exhausted stuck message must stay processing, got %s", got.Status)
	}

	// Operator escape hatch.
	if err := store.ForceFail(ctx, msg.ID, "stuck beyond retry budget"); err != nil {
		t.Fatalf("force fail: %v", err)
	}
	got, _ = store.Get(ctx, msg.ID)
	if got.Status != StatusFailed || got.CompletedAt.IsZero() {
		t.Fatalf("force fail did not terminate message: %+v", got)
	}
}

func TestCleanupOnlyTouchesTerminal(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store, closeFn := newTestStore(t, WithClock(func() time.Time { return clock }))
	defer closeFn()
	ctx := context.Background()

	done, _ := store.Enqueue(ctx, Spec{WorldID: "w", Content: "done", Sender: "human"})
	pendingOld, _ := store.Enqueue(ctx, Spec{WorldID: "w2", Content: "old pending", Sender: "human"})
	processing, _ := store.Enqueue(ctx, Spec{WorldID: "w3", Content: "in flight", Sender: "human"})

	if _, err := store.Dequeue(ctx, "w"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := store.MarkCompleted(ctx, done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.Dequeue(ctx, "w3"); err != nil {
		t.Fatalf("dequeue w3: %v", err)
	}

	clock = clock.Add(48 * time.Hour)
	deleted, err := store.Cleanup(ctx, clock.Add(-time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if got, _ := store.Get(ctx, done.ID); got != nil {
		t.Fatalf("completed message should be gone")
	}
	if got, _ := store.Get(ctx, pendingOld.ID); got == nil {
		t.Fatalf("pending message must survive cleanup regardless of age")
	}
	if got, _ := store.Get(ctx, processing.ID); got == nil {
		t.Fatalf("processing message must survive cleanup regardless of age")
	}

	// Fresh terminal rows are kept.
	if err := store.MarkCompleted(ctx, processing.ID); err != nil {
		t.Fatalf("complete w3: %v", err)
	}
	deleted, err = store.Cleanup(ctx, clock.Add(-time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deleted for fresh terminal row, got %d", deleted)
	}
}

func TestQueueDepthAndStats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store, closeFn := newTestStore(t, WithClock(func() time.Time { return clock }))
	defer closeFn()
	ctx := context.Background()

	oldest, _ := store.Enqueue(ctx, Spec{WorldID: "w", Content: "a", Sender: "human"})
	clock = clock.Add(time.Second)
	if _, err := store.Enqueue(ctx, Spec{WorldID: "w", Content: "b", Sender: "human"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	other, _ := store.Enqueue(ctx, Spec{WorldID: "other", Content: "c", Sender: "human"})

	depth, err := store.QueueDepth(ctx, "w")
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}

	if _, err := store.Dequeue(ctx, "other"); err != nil {
		t.Fatalf("dequeue other: %v", err)
	}
	if err := store.MarkFailed(ctx, other.ID, errors.New("boom")); err != nil {
		t.Fatalf("fail other: %v", err)
	}

	stats, err := store.Stats(ctx, "w")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected stats for one world, got %d", len(stats))
	}
	if stats[0].Pending != 2 || stats[0].Processing != 0 {
		t.Fatalf("unexpected stats: %+v", stats[0])
	}
	if !stats[0].OldestPending.Equal(oldest.CreatedAt) {
		t.Fatalf("expected oldest pending %v, got %v", oldest.CreatedAt, stats[0].OldestPending)
	}

	all, err := store.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected stats for two worlds, got %d", len(all))
	}
}

func TestGetUnknownIsNil(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()

	got, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestThreadWalkStopsOnCycle(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()

	// a -> b -> a forms a cycle through reply_to.
	if _, err := store.Enqueue(ctx, Spec{WorldID: "w", MessageID: "a", ReplyTo: "b", Content: "first", Sender: "human"}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := store.Enqueue(ctx, Spec{WorldID: "w", MessageID: "b", ReplyTo: "a", Content: "second", Sender: "human"}); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	thread, err := store.Thread(ctx, "a")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("expected 2 messages in cyclic thread, got %d", len(thread))
	}
	// Oldest-first: the ancestor b comes before the message walked from.
	if thread[0].MessageID != "b" || thread[1].MessageID != "a" {
		t.Fatalf("unexpected thread order: %+v", thread)
	}
}

func TestThreadWalkDepthCap(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		spec := Spec{WorldID: "w", MessageID: fmt.Sprintf("m%d", i), Content: "x", Sender: "human"}
		if i > 0 {
			spec.ReplyTo = fmt.Sprintf("m%d", i-1)
		}
		if _, err := store.Enqueue(ctx, spec); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	thread, err := store.Thread(ctx, "m39")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(thread) != 25 {
		t.Fatalf("expected walk capped at 25, got %d", len(thread))
	}
	if thread[0].MessageID != "m15" || thread[24].MessageID != "m39" {
		t.Fatalf("unexpected capped thread bounds: %s..%s", thread[0].MessageID, thread[24].MessageID)
	}
}
