package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flitsinc/agent-worlds/internal/eventbus"
	"github.com/flitsinc/agent-worlds/internal/idgen"
	"github.com/flitsinc/agent-worlds/internal/metrics"
	"github.com/flitsinc/agent-worlds/internal/schema"
	"github.com/flitsinc/agent-worlds/internal/world"
)

// contextWindowTurns is how many prior memory turns go into the model
// context ahead of the incoming message.
const contextWindowTurns = 10

// Processor turns one incoming message into at most one published response
// for one agent: record the message, call the model, address and publish
// the reply, and persist everything along the way.
type Processor struct {
	Store     Persistence
	Completer Completer
	Log       *slog.Logger

	nowFn func() time.Time
}

func (p *Processor) now() time.Time {
	if p.nowFn != nil {
		return p.nowFn()
	}
	return time.Now().UTC()
}

// Process runs the response pipeline for agent agentID. The call counter is
// charged as soon as the model is invoked, whether or not a response comes
// back. Persistence failures along the way are logged but do not abort the
// pipeline; only a model error is returned.
func (p *Processor) Process(ctx context.Context, rt *Runtime, agentID string, evt eventbus.MessagePayload) error {
	a, ok := rt.Agent(agentID)
	if !ok {
		return fmt.Errorf("agent %q not in world %q", agentID, rt.World.ID)
	}

	userTurn := world.Turn{
		Role:      world.RoleUser,
		Content:   evt.Content,
		Sender:    evt.Sender,
		CreatedAt: evt.Timestamp,
	}
	selfSent := strings.EqualFold(strings.TrimSpace(evt.Sender), a.ID)
	if !selfSent {
		a, _ = rt.UpdateAgent(agentID, func(a world.Agent) world.Agent {
			return a.WithTurn(userTurn)
		})
		if err := p.Store.AppendTurn(ctx, rt.World.ID, a.ID, userTurn); err != nil {
			p.logger().Error("failed to persist incoming turn",
				"world", rt.World.ID, "agent", a.ID, "error", err)
		}
	}

	turns := p.contextTurns(a, userTurn, selfSent)
	out, completeErr := p.Completer.Complete(ctx, rt.World, a, turns)

	// The attempt counts against the turn budget even when it fails or
	// comes back empty.
	now := p.now()
	a, _ = rt.UpdateAgent(agentID, func(a world.Agent) world.Agent {
		return a.WithCall(now)
	})
	if err := p.Store.SaveAgent(ctx, rt.World.ID, a); err != nil {
		p.logger().Error("failed to persist agent call state",
			"world", rt.World.ID, "agent", a.ID, "error", err)
	}

	if completeErr != nil {
		metrics.ResponsesSkipped.WithLabelValues("error").Inc()
		return fmt.Errorf("completion for agent %s: %w", a.ID, completeErr)
	}
	response := strings.TrimSpace(out)
	if response == "" {
		metrics.ResponsesSkipped.WithLabelValues("empty").Inc()
		p.logger().Info("empty completion, skipping response",
			"world", rt.World.ID, "agent", a.ID)
		return nil
	}

	// Replies to other agents get an explicit address so the mention
	// routing on the next hop stays deterministic.
	if schema.ClassifySender(evt.Sender, rt.AgentIDs()) == schema.SenderClassAgent &&
		!schema.HasAnyMention(response) {
		response = schema.Mention(evt.Sender) + " " + response
	}

	assistantTurn := world.Turn{
		Role:      world.RoleAssistant,
		Content:   response,
		Sender:    a.ID,
		CreatedAt: now,
	}
	a, _ = rt.UpdateAgent(agentID, func(a world.Agent) world.Agent {
		return a.WithTurn(assistantTurn)
	})
	if err := p.Store.AppendTurn(ctx, rt.World.ID, a.ID, assistantTurn); err != nil {
		p.logger().Error("failed to persist response turn",
			"world", rt.World.ID, "agent", a.ID, "error", err)
	}
	if _, err := rt.Bus.PublishMessage(ctx, response, a.ID, evt.ChatID, idgen.New()); err != nil {
		p.logger().Error("failed to publish response",
			"world", rt.World.ID, "agent", a.ID, "error", err)
	}
	metrics.ResponsesPublished.Inc()
	return nil
}

// contextTurns assembles the model context: system prompt, the last
// contextWindowTurns memory turns preceding the incoming message, then the
// message itself.
func (p *Processor) contextTurns(a world.Agent, userTurn world.Turn, selfSent bool) []world.Turn {
	var prior []world.Turn
	if selfSent {
		prior = a.LastTurns(contextWindowTurns)
	} else {
		// The incoming turn was just appended; exclude it from the window.
		prior = a.LastTurns(contextWindowTurns + 1)
		if len(prior) > 0 {
			prior = prior[:len(prior)-1]
		}
	}
	turns := make([]world.Turn, 0, len(prior)+2)
	if a.SystemPrompt != "" {
		turns = append(turns, world.Turn{Role: world.RoleSystem, Content: a.SystemPrompt})
	}
	turns = append(turns, prior...)
	turns = append(turns, userTurn)
	return turns
}

func (p *Processor) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
