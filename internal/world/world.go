package world

import "time"

// World is a conversation scope: a set of member agents sharing one turn
// limit and one message queue.
type World struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ChatID      string    `json:"chat_id,omitempty"`
	TurnLimit   int       `json:"turn_limit"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Role of a memory turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in an agent's append-only memory.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is a member of a world. Memory is ordered oldest-first and owned
// exclusively by the world holding the agent.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Status       string    `json:"status,omitempty"`
	LLMCallCount int       `json:"llm_call_count"`
	LastLLMCall  time.Time `json:"last_llm_call,omitzero"`
	Memory       []Turn    `json:"memory,omitempty"`
}

// WithTurn returns a copy of the agent with the turn appended. The memory
// slice is copied so earlier snapshots stay valid.
func (a Agent) WithTurn(t Turn) Agent {
	mem := make([]Turn, len(a.Memory), len(a.Memory)+1)
	copy(mem, a.Memory)
	a.Memory = append(mem, t)
	return a
}

// WithCall returns a copy of the agent with one more LLM call recorded.
func (a Agent) WithCall(at time.Time) Agent {
	a.LLMCallCount++
	a.LastLLMCall = at
	return a
}

// WithCallCount returns a copy of the agent with the counter replaced.
func (a Agent) WithCallCount(n int) Agent {
	a.LLMCallCount = n
	return a
}

// WithStatus returns a copy of the agent with the status replaced.
func (a Agent) WithStatus(status string) Agent {
	a.Status = status
	return a
}

// WithClearedMemory returns a copy of the agent with empty memory. Callers
// archive the old turns before applying this.
func (a Agent) WithClearedMemory() Agent {
	a.Memory = nil
	return a
}

// LastTurns returns up to n trailing memory turns.
func (a Agent) LastTurns(n int) []Turn {
	if n <= 0 || len(a.Memory) == 0 {
		return nil
	}
	if len(a.Memory) <= n {
		return a.Memory
	}
	return a.Memory[len(a.Memory)-n:]
}
