package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flitsinc/agent-worlds/internal/eventbus"
	"github.com/flitsinc/agent-worlds/internal/metrics"
	"github.com/flitsinc/agent-worlds/internal/queue"
)

const (
	defaultPollInterval      = 250 * time.Millisecond
	defaultHeartbeatInterval = 10 * time.Second
)

// Dispatcher is the per-world processing loop. It holds the world's slot of
// the single-processing guarantee: one dequeued message is fanned out to
// every agent, sequentially, before the next message is picked up.
type Dispatcher struct {
	Runtime   *Runtime
	Processor *Processor
	Turns     *TurnPolicy
	Log       *slog.Logger

	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

// Run polls the queue until ctx is cancelled. It always returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	poll := d.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	worldID := d.Runtime.World.ID
	d.logger().Info("dispatcher started", "world", worldID, "poll_interval", poll)
	for {
		if err := ctx.Err(); err != nil {
			d.logger().Info("dispatcher stopped", "world", worldID)
			return err
		}
		msg, err := d.Runtime.Queue.Dequeue(ctx, worldID)
		if err != nil {
			d.logger().Error("dequeue failed", "world", worldID, "error", err)
		}
		if err != nil || msg == nil {
			select {
			case <-ctx.Done():
			case <-time.After(poll):
			}
			continue
		}
		d.process(ctx, msg)
	}
}

func (d *Dispatcher) process(ctx context.Context, msg *queue.Message) {
	start := time.Now()
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go d.heartbeatLoop(hbCtx, msg.ID)

	evt := eventbus.MessagePayload{
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
		ReplyTo:   msg.ReplyTo,
		Content:   msg.Content,
		Sender:    msg.Sender,
		Timestamp: msg.CreatedAt,
	}

	var firstErr error
	for _, a := range d.Runtime.Agents() {
		if err := ctx.Err(); err != nil {
			firstErr = err
			break
		}
		d.Turns.ResetIfNeeded(ctx, d.Runtime, a.ID, evt)
		current, ok := d.Runtime.Agent(a.ID)
		if !ok {
			continue
		}
		if !ShouldRespond(d.Runtime.World, d.Runtime.Agents(), current, evt) {
			metrics.ResponsesSkipped.WithLabelValues("gate").Inc()
			continue
		}
		d.setActivity(ctx, a.ID, "thinking")
		err := d.Processor.Process(ctx, d.Runtime, a.ID, evt)
		d.setActivity(context.WithoutCancel(ctx), a.ID, "idle")
		if err != nil {
			d.logger().Error("agent response failed",
				"world", d.Runtime.World.ID, "agent", a.ID,
				"queue_id", msg.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	stopHeartbeat()

	// Terminal status updates must land even when shutdown cancelled ctx,
	// otherwise the message sits in processing until the reaper finds it.
	finishCtx := context.WithoutCancel(ctx)
	if firstErr != nil {
		if errors.Is(firstErr, context.Canceled) {
			firstErr = fmt.Errorf("dispatcher stopped: %w", firstErr)
		}
		if err := d.Runtime.Queue.MarkFailed(finishCtx, msg.ID, firstErr); err != nil {
			d.logger().Error("failed to mark message failed",
				"queue_id", msg.ID, "error", err)
		}
	} else {
		if err := d.Runtime.Queue.MarkCompleted(finishCtx, msg.ID); err != nil {
			d.logger().Error("failed to mark message completed",
				"queue_id", msg.ID, "error", err)
		}
	}
	metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
	if depth, err := d.Runtime.Queue.QueueDepth(finishCtx, d.Runtime.World.ID); err == nil {
		metrics.QueueDepth.WithLabelValues(d.Runtime.World.ID).Set(float64(depth))
	}
}

// heartbeatLoop keeps the claim on id fresh while the fan-out runs.
func (d *Dispatcher) heartbeatLoop(ctx context.Context, id string) {
	interval := d.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Runtime.Queue.UpdateHeartbeat(ctx, id); err != nil {
				d.logger().Warn("heartbeat update failed", "queue_id", id, "error", err)
			}
		}
	}
}

func (d *Dispatcher) setActivity(ctx context.Context, agentID, state string) {
	if _, err := d.Runtime.Bus.Publish(ctx, eventbus.ActivityPayload{AgentID: agentID, State: state}); err != nil {
		d.logger().Warn("failed to publish activity",
			"world", d.Runtime.World.ID, "agent", agentID, "error", err)
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}
