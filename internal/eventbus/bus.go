package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bus is the event seam for one world: events are journaled to SQLite and
// fanned out to live subscribers. One Bus per world; there is no process-wide
// bus instance.
type Bus struct {
	db      *sql.DB
	worldID string

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	kinds map[Kind]struct{}
	ch    chan Event
}

func NewBus(db *sql.DB, worldID string) *Bus {
	return &Bus{db: db, worldID: worldID, subs: map[string]*subscriber{}}
}

func (b *Bus) WorldID() string {
	return b.worldID
}

// Publish journals the payload and broadcasts it to subscribers.
func (b *Bus) Publish(ctx context.Context, payload Payload) (Event, error) {
	if payload == nil {
		return Event{}, fmt.Errorf("payload is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode payload: %w", err)
	}

	event := Event{
		ID:        ulid.Make().String(),
		WorldID:   b.worldID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO events (id, world_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, b.worldID, string(payload.Kind()), string(raw), event.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	b.broadcast(event)
	return event, nil
}

// PublishMessage publishes a chat message event.
func (b *Bus) PublishMessage(ctx context.Context, content, sender, chatID, messageID string) (Event, error) {
	return b.Publish(ctx, MessagePayload{
		MessageID: messageID,
		ChatID:    chatID,
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	})
}

// PublishSSE publishes an incremental completion event.
func (b *Bus) PublishSSE(ctx context.Context, agentID, messageID, phase, content string) (Event, error) {
	return b.Publish(ctx, SSEPayload{
		AgentID:   agentID,
		MessageID: messageID,
		Phase:     phase,
		Content:   content,
	})
}

// Subscribe delivers matching events until the context is cancelled. An empty
// kinds list matches everything. Slow subscribers drop events rather than
// block publishers.
func (b *Bus) Subscribe(ctx context.Context, kinds ...Kind) <-chan Event {
	ch := make(chan Event, 64)
	kindSet := map[Kind]struct{}{}
	for _, k := range kinds {
		if k == "" {
			continue
		}
		kindSet[k] = struct{}{}
	}
	id := ulid.Make().String()

	sub := &subscriber{kinds: kindSet, ch: ch}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// History returns the world's journaled events oldest-first, decoded into
// their typed payloads. A zero limit defaults to 100.
func (b *Bus) History(ctx context.Context, kinds []Kind, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, payload, created_at FROM events WHERE world_id = ?`
	args := []any{b.worldID}
	if len(kinds) > 0 {
		query += " AND kind IN (" + placeholders(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var id, kind, payloadStr, createdAtStr string
		if err := rows.Scan(&id, &kind, &payloadStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		payload, err := decodePayload(Kind(kind), []byte(payloadStr))
		if err != nil {
			return nil, err
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, Event{ID: id, WorldID: b.worldID, Payload: payload, CreatedAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	// Reverse into oldest-first order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.kinds) > 0 {
			if _, ok := sub.kinds[event.Payload.Kind()]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}
