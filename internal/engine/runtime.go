package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/flitsinc/agent-worlds/internal/eventbus"
	"github.com/flitsinc/agent-worlds/internal/queue"
	"github.com/flitsinc/agent-worlds/internal/world"
)

// Persistence is the slice of the state store the engine writes through.
type Persistence interface {
	SaveAgent(ctx context.Context, worldID string, a world.Agent) error
	AppendTurn(ctx context.Context, worldID, agentID string, t world.Turn) error
}

// Completer produces a model response for an agent given its context turns.
type Completer interface {
	Complete(ctx context.Context, w world.World, a world.Agent, turns []world.Turn) (string, error)
}

// Runtime holds the live in-memory view of one world: its config, its
// agents, its event bus and its queue handle. Agent snapshots are immutable;
// all mutation goes through UpdateAgent so readers never see partial writes.
type Runtime struct {
	World world.World
	Bus   *eventbus.Bus
	Queue *queue.Store

	mu     sync.RWMutex
	agents map[string]world.Agent // keyed by lower-cased agent id
}

func NewRuntime(w world.World, agents []world.Agent, bus *eventbus.Bus, q *queue.Store) *Runtime {
	rt := &Runtime{
		World:  w,
		Bus:    bus,
		Queue:  q,
		agents: make(map[string]world.Agent, len(agents)),
	}
	for _, a := range agents {
		rt.agents[strings.ToLower(a.ID)] = a
	}
	return rt
}

// Agent returns the current snapshot for id, matched case-insensitively.
func (r *Runtime) Agent(id string) (world.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[strings.ToLower(id)]
	return a, ok
}

// Agents returns snapshots of every agent, ordered by id for stable fan-out.
func (r *Runtime) Agents() []world.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]world.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Runtime) AgentIDs() []string {
	agents := r.Agents()
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

// UpdateAgent applies fn to the current snapshot and installs the result.
// It returns the new snapshot, or false when the agent is unknown.
func (r *Runtime) UpdateAgent(id string, fn func(world.Agent) world.Agent) (world.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(id)
	a, ok := r.agents[key]
	if !ok {
		return world.Agent{}, false
	}
	next := fn(a)
	r.agents[key] = next
	return next, true
}

// AddAgent registers or replaces an agent snapshot.
func (r *Runtime) AddAgent(a world.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[strings.ToLower(a.ID)] = a
}
