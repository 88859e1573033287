package engine

import (
	"context"
	"log/slog"

	"github.com/flitsinc/agent-worlds/internal/eventbus"
	"github.com/flitsinc/agent-worlds/internal/schema"
	"github.com/flitsinc/agent-worlds/internal/world"
)

// TurnPolicy resets agent turn counters when a human or world message
// arrives, so agent chatter is rate-limited per burst of outside input
// rather than over the lifetime of the conversation.
type TurnPolicy struct {
	Store Persistence
	Log   *slog.Logger
}

// ResetIfNeeded zeroes the agent's call counter when the message sender
// warrants it. The in-memory reset always sticks; a failed persist is
// logged and the write retried implicitly by the next agent save.
func (p *TurnPolicy) ResetIfNeeded(ctx context.Context, rt *Runtime, agentID string, evt eventbus.MessagePayload) {
	class := schema.ClassifySender(evt.Sender, rt.AgentIDs())
	if !class.ResetsTurnCounter() {
		return
	}
	a, ok := rt.Agent(agentID)
	if !ok || a.LLMCallCount == 0 {
		return
	}
	next, _ := rt.UpdateAgent(agentID, func(a world.Agent) world.Agent {
		return a.WithCallCount(0)
	})
	if err := p.Store.SaveAgent(ctx, rt.World.ID, next); err != nil {
		p.logger().Error("failed to persist turn counter reset",
			"world", rt.World.ID, "agent", agentID, "error", err)
	}
}

func (p *TurnPolicy) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
