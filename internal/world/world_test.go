package world

import (
	"testing"
	"time"
)

func TestWithTurnCopiesMemory(t *testing.T) {
	a := Agent{ID: "alpha"}
	b := a.WithTurn(Turn{Role: RoleUser, Content: "hi", CreatedAt: time.Now()})
	if len(a.Memory) != 0 {
		t.Fatalf("original agent mutated: %d turns", len(a.Memory))
	}
	if len(b.Memory) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(b.Memory))
	}

	c := b.WithTurn(Turn{Role: RoleAssistant, Content: "hello"})
	if len(b.Memory) != 1 || len(c.Memory) != 2 {
		t.Fatalf("snapshot isolation broken: %d/%d", len(b.Memory), len(c.Memory))
	}
}

func TestWithCall(t *testing.T) {
	now := time.Now()
	a := Agent{ID: "alpha", LLMCallCount: 2}
	b := a.WithCall(now)
	if b.LLMCallCount != 3 || !b.LastLLMCall.Equal(now) {
		t.Fatalf("unexpected call state: %d %v", b.LLMCallCount, b.LastLLMCall)
	}
	if a.LLMCallCount != 2 {
		t.Fatalf("original agent mutated")
	}
}

func TestLastTurns(t *testing.T) {
	a := Agent{}
	for i := 0; i < 15; i++ {
		a = a.WithTurn(Turn{Role: RoleUser, Content: string(rune('a' + i))})
	}
	got := a.LastTurns(10)
	if len(got) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(got))
	}
	if got[0].Content != "f" {
		t.Fatalf("expected window to start at f, got %q", got[0].Content)
	}
	if got := a.LastTurns(100); len(got) != 15 {
		t.Fatalf("expected all 15 turns, got %d", len(got))
	}
	if got := a.LastTurns(0); got != nil {
		t.Fatalf("expected nil for n=0")
	}
}
