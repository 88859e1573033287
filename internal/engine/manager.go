package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flitsinc/agent-worlds/internal/eventbus"
	"github.com/flitsinc/agent-worlds/internal/queue"
	"github.com/flitsinc/agent-worlds/internal/world"
)

// Manager owns the set of running worlds. Each started world gets its own
// runtime, event bus and dispatcher goroutine; stopping a world cancels its
// dispatcher and waits for in-flight work to settle.
type Manager struct {
	db        *sql.DB
	queue     *queue.Store
	store     Persistence
	completer Completer
	log       *slog.Logger

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	mu       sync.RWMutex
	runtimes map[string]*Runtime
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(db *sql.DB, q *queue.Store, store Persistence, completer Completer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		db:        db,
		queue:     q,
		store:     store,
		completer: completer,
		log:       log,
		runtimes:  make(map[string]*Runtime),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// StartWorld brings a world online. Starting an already-running world
// replaces its runtime after stopping the old dispatcher.
func (m *Manager) StartWorld(ctx context.Context, w world.World, agents []world.Agent) *Runtime {
	m.StopWorld(w.ID)

	bus := eventbus.NewBus(m.db, w.ID)
	rt := NewRuntime(w, agents, bus, m.queue)
	d := &Dispatcher{
		Runtime:           rt,
		Processor:         &Processor{Store: m.store, Completer: m.completer, Log: m.log},
		Turns:             &TurnPolicy{Store: m.store, Log: m.log},
		Log:               m.log,
		PollInterval:      m.PollInterval,
		HeartbeatInterval: m.HeartbeatInterval,
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.runtimes[w.ID] = rt
	m.cancels[w.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = d.Run(runCtx)
	}()
	m.log.Info("world started", "world", w.ID, "agents", len(agents))
	return rt
}

// Get returns the runtime for a running world.
func (m *Manager) Get(worldID string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[worldID]
	return rt, ok
}

// List returns the running runtimes ordered by world id.
func (m *Manager) List() []*Runtime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].World.ID < out[j].World.ID })
	return out
}

// StopWorld cancels the world's dispatcher if it is running. It does not
// wait; use StopAll for a drained shutdown.
func (m *Manager) StopWorld(worldID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[worldID]
	delete(m.cancels, worldID)
	delete(m.runtimes, worldID)
	m.mu.Unlock()
	if ok {
		cancel()
		m.log.Info("world stopped", "world", worldID)
	}
}

// StopAll cancels every dispatcher and waits for them to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
		delete(m.runtimes, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
