package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flitsinc/agent-worlds/internal/engine"
	"github.com/flitsinc/agent-worlds/internal/eventbus"
	"github.com/flitsinc/agent-worlds/internal/idgen"
	"github.com/flitsinc/agent-worlds/internal/queue"
	"github.com/flitsinc/agent-worlds/internal/state"
	"github.com/flitsinc/agent-worlds/internal/world"
)

const defaultTurnLimit = 5

type agentSpec struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

type createWorldRequest struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	ChatID    string      `json:"chat_id"`
	TurnLimit int         `json:"turn_limit"`
	Agents    []agentSpec `json:"agents"`
}

// agentView is an agent without its memory, for list responses.
type agentView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status,omitempty"`
	LLMCallCount int       `json:"llm_call_count"`
	LastLLMCall  time.Time `json:"last_llm_call,omitzero"`
	MemoryTurns  int       `json:"memory_turns"`
}

func viewOf(a world.Agent) agentView {
	return agentView{
		ID:           a.ID,
		Name:         a.Name,
		Status:       a.Status,
		LLMCallCount: a.LLMCallCount,
		LastLLMCall:  a.LastLLMCall,
		MemoryTurns:  len(a.Memory),
	}
}

func (s *Server) handleWorlds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		worlds, err := s.Store.ListWorlds(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, worlds)
	case http.MethodPost:
		s.handleCreateWorld(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req createWorldRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if req.ID == "" {
		req.ID = idgen.New()
	}
	if req.TurnLimit <= 0 {
		req.TurnLimit = s.TurnLimit
	}
	if req.TurnLimit <= 0 {
		req.TurnLimit = defaultTurnLimit
	}

	nw := world.World{
		ID:        req.ID,
		Name:      req.Name,
		ChatID:    req.ChatID,
		TurnLimit: req.TurnLimit,
	}
	if err := s.Store.SaveWorld(r.Context(), nw); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	agents := make([]world.Agent, 0, len(req.Agents))
	for _, spec := range req.Agents {
		if spec.ID == "" {
			writeError(w, http.StatusBadRequest, errors.New("agent id is required"))
			return
		}
		a := world.Agent{ID: spec.ID, Name: spec.Name, SystemPrompt: spec.SystemPrompt}
		if err := s.Store.SaveAgent(r.Context(), nw.ID, a); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		agents = append(agents, a)
	}

	// The dispatcher must outlive this request.
	s.Manager.StartWorld(context.WithoutCancel(r.Context()), nw, agents)

	views := make([]agentView, len(agents))
	for i, a := range agents {
		views[i] = viewOf(a)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"world": nw, "agents": views})
}

func (s *Server) handleWorldItem(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, "/api/worlds/")
	if len(segments) == 0 {
		writeError(w, http.StatusNotFound, errNotFound("world"))
		return
	}
	worldID := segments[0]
	if len(segments) == 1 {
		s.handleWorldDetail(w, r, worldID)
		return
	}
	switch segments[1] {
	case "messages":
		s.handleWorldMessages(w, r, worldID)
	case "agents":
		s.handleWorldAgents(w, r, worldID, segments[2:])
	case "queue":
		s.handleWorldQueue(w, r, worldID)
	case "events":
		if len(segments) == 3 && segments[2] == "ws" {
			s.handleEventsWS(w, r, worldID)
			return
		}
		s.handleEventsSSE(w, r, worldID)
	default:
		writeError(w, http.StatusNotFound, errNotFound("world resource"))
	}
}

func (s *Server) handleWorldDetail(w http.ResponseWriter, r *http.Request, worldID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	rt, running := s.Manager.Get(worldID)
	var (
		wld    world.World
		agents []world.Agent
		err    error
	)
	if running {
		wld = rt.World
		agents = rt.Agents()
	} else {
		wld, err = s.Store.GetWorld(r.Context(), worldID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		agents, err = s.Store.ListAgents(r.Context(), worldID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	views := make([]agentView, len(agents))
	for i, a := range agents {
		views[i] = viewOf(a)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"world":   wld,
		"agents":  views,
		"running": running,
	})
}

func (s *Server) handleWorldMessages(w http.ResponseWriter, r *http.Request, worldID string) {
	rt, ok := s.Manager.Get(worldID)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("world"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		events, err := rt.Bus.History(r.Context(), []eventbus.Kind{eventbus.KindMessage}, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	case http.MethodPost:
		var req struct {
			MessageID      string `json:"message_id"`
			ChatID         string `json:"chat_id"`
			ReplyTo        string `json:"reply_to"`
			Content        string `json:"content"`
			Sender         string `json:"sender"`
			Priority       int    `json:"priority"`
			MaxRetries     int    `json:"max_retries"`
			TimeoutSeconds int    `json:"timeout_seconds"`
		}
		if err := decodeJSON(r.Body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.ChatID == "" {
			req.ChatID = rt.World.ChatID
		}
		msg, err := s.Queue.Enqueue(r.Context(), queue.Spec{
			WorldID:        worldID,
			MessageID:      req.MessageID,
			ChatID:         req.ChatID,
			ReplyTo:        req.ReplyTo,
			Content:        req.Content,
			Sender:         req.Sender,
			Priority:       req.Priority,
			MaxRetries:     req.MaxRetries,
			TimeoutSeconds: req.TimeoutSeconds,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// Mirror the inbound message onto the bus so stream consumers see
		// it without waiting for the dispatcher.
		if _, err := rt.Bus.PublishMessage(r.Context(), msg.Content, msg.Sender, msg.ChatID, msg.MessageID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, msg)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleWorldAgents(w http.ResponseWriter, r *http.Request, worldID string, rest []string) {
	rt, ok := s.Manager.Get(worldID)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("world"))
		return
	}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			agents := rt.Agents()
			views := make([]agentView, len(agents))
			for i, a := range agents {
				views[i] = viewOf(a)
			}
			writeJSON(w, http.StatusOK, views)
		case http.MethodPost:
			var spec agentSpec
			if err := decodeJSON(r.Body, &spec); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if spec.ID == "" {
				writeError(w, http.StatusBadRequest, errors.New("agent id is required"))
				return
			}
			a := world.Agent{ID: spec.ID, Name: spec.Name, SystemPrompt: spec.SystemPrompt}
			if err := s.Store.SaveAgent(r.Context(), worldID, a); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			rt.AddAgent(a)
			writeJSON(w, http.StatusCreated, viewOf(a))
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	agentID := rest[0]
	if len(rest) == 2 && rest[1] == "archive" {
		s.handleAgentArchive(w, r, rt, worldID, agentID)
		return
	}
	if len(rest) == 1 && r.Method == http.MethodGet {
		a, ok := rt.Agent(agentID)
		if !ok {
			writeError(w, http.StatusNotFound, errNotFound("agent"))
			return
		}
		writeJSON(w, http.StatusOK, a)
		return
	}
	writeError(w, http.StatusNotFound, errNotFound("agent resource"))
}

// handleAgentArchive moves the agent's memory to the archive table and
// clears the live copy.
func (s *Server) handleAgentArchive(w http.ResponseWriter, r *http.Request, rt *engine.Runtime, worldID, agentID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if _, ok := rt.Agent(agentID); !ok {
		writeError(w, http.StatusNotFound, errNotFound("agent"))
		return
	}
	archived, err := s.Store.ArchiveMemory(r.Context(), worldID, agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rt.UpdateAgent(agentID, func(a world.Agent) world.Agent {
		return a.WithClearedMemory()
	})
	writeJSON(w, http.StatusOK, map[string]any{"archived_turns": archived})
}

func (s *Server) handleWorldQueue(w http.ResponseWriter, r *http.Request, worldID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	stats, err := s.Queue.Stats(r.Context(), worldID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	depth, err := s.Queue.QueueDepth(r.Context(), worldID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"depth": depth, "stats": stats})
}
