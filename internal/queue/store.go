package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flitsinc/agent-worlds/internal/idgen"
	"github.com/flitsinc/agent-worlds/internal/metrics"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var ErrMessageNotFound = errors.New("queue message not found")

// Message is a durable queue entry for one inbound world message.
// ProcessedAt, HeartbeatAt and CompletedAt use the zero time for "unset".
type Message struct {
	ID             string    `json:"id"`
	WorldID        string    `json:"world_id"`
	MessageID      string    `json:"message_id"`
	ChatID         string    `json:"chat_id,omitempty"`
	ReplyTo        string    `json:"reply_to,omitempty"`
	Content        string    `json:"content"`
	Sender         string    `json:"sender"`
	Status         Status    `json:"status"`
	Priority       int       `json:"priority"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `json:"max_retries"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ProcessedAt    time.Time `json:"processed_at,omitzero"`
	HeartbeatAt    time.Time `json:"heartbeat_at,omitzero"`
	CompletedAt    time.Time `json:"completed_at,omitzero"`
}

type Spec struct {
	WorldID        string `json:"world_id"`
	MessageID      string `json:"message_id"`
	ChatID         string `json:"chat_id,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
	Content        string `json:"content"`
	Sender         string `json:"sender"`
	Priority       int    `json:"priority"`
	MaxRetries     int    `json:"max_retries,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// WorldStats are per-world status counts. OldestPending is zero when the
// world has no pending messages.
type WorldStats struct {
	WorldID       string    `json:"world_id"`
	Pending       int       `json:"pending"`
	Processing    int       `json:"processing"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	OldestPending time.Time `json:"oldest_pending,omitzero"`
}

// Store is the per-world durable queue. Dequeue refuses to hand out a second
// message for a world that already has one processing, which is the only
// mutual-exclusion mechanism in the system.
type Store struct {
	db *sql.DB

	defaultMaxRetries int
	defaultTimeoutSec int
	nowFn             func() time.Time
	newIDFn           func() string
}

type Option func(*Store)

func WithClock(nowFn func() time.Time) Option {
	return func(s *Store) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

func WithIDGenerator(newIDFn func() string) Option {
	return func(s *Store) {
		if newIDFn != nil {
			s.newIDFn = newIDFn
		}
	}
}

func WithDefaults(maxRetries, timeoutSeconds int) Option {
	return func(s *Store) {
		if maxRetries >= 0 {
			s.defaultMaxRetries = maxRetries
		}
		if timeoutSeconds > 0 {
			s.defaultTimeoutSec = timeoutSeconds
		}
	}
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:                db,
		defaultMaxRetries: 3,
		defaultTimeoutSec: 300,
		nowFn:             func() time.Time { return time.Now().UTC() },
		newIDFn:           idgen.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) now() time.Time {
	return s.nowFn().UTC()
}

func (s *Store) Enqueue(ctx context.Context, spec Spec) (Message, error) {
	if strings.TrimSpace(spec.WorldID) == "" {
		return Message{}, fmt.Errorf("world_id is required")
	}
	if strings.TrimSpace(spec.Content) == "" {
		return Message{}, fmt.Errorf("content is required")
	}
	if strings.TrimSpace(spec.Sender) == "" {
		return Message{}, fmt.Errorf("sender is required")
	}

	msg := Message{
		ID:             s.newIDFn(),
		WorldID:        spec.WorldID,
		MessageID:      spec.MessageID,
		ChatID:         spec.ChatID,
		ReplyTo:        spec.ReplyTo,
		Content:        spec.Content,
		Sender:         spec.Sender,
		Status:         StatusPending,
		Priority:       spec.Priority,
		MaxRetries:     spec.MaxRetries,
		TimeoutSeconds: spec.TimeoutSeconds,
		CreatedAt:      s.now(),
	}
	if msg.MessageID == "" {
		msg.MessageID = msg.ID
	}
	if msg.MaxRetries <= 0 {
		msg.MaxRetries = s.defaultMaxRetries
	}
	if msg.TimeoutSeconds <= 0 {
		msg.TimeoutSeconds = s.defaultTimeoutSec
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_messages (id, world_id, message_id, chat_id, reply_to, content, sender, status, priority, retry_count, max_retries, timeout_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, msg.ID, msg.WorldID, msg.MessageID, nullString(msg.ChatID), nullString(msg.ReplyTo), msg.Content, msg.Sender,
		StatusPending, msg.Priority, msg.MaxRetries, msg.TimeoutSeconds, msg.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Message{}, fmt.Errorf("insert queue message: %w", err)
	}
	metrics.QueueMessagesEnqueued.Inc()
	return msg, nil
}

// Dequeue claims the next message for a world: highest priority first, oldest
// first within a priority. Returns nil when the queue is empty or another
// message for the world is still processing.
func (s *Store) Dequeue(ctx context.Context, worldID string) (*Message, error) {
	if worldID == "" {
		return nil, fmt.Errorf("world_id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var inFlight int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_messages WHERE world_id = ? AND status = ?
	`, worldID, StatusProcessing).Scan(&inFlight); err != nil {
		return nil, fmt.Errorf("count processing: %w", err)
	}
	if inFlight > 0 {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM queue_messages
		WHERE world_id = ? AND status = ?
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT 1
	`, worldID, StatusPending)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	res, err := tx.ExecContext(ctx, `
		UPDATE queue_messages SET status = ?, processed_at = ?, heartbeat_at = ?
		WHERE id = ? AND status = ?
	`, StatusProcessing, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), msg.ID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}

	msg.Status = StatusProcessing
	msg.ProcessedAt = now
	msg.HeartbeatAt = now
	return &msg, nil
}

// UpdateHeartbeat refreshes the liveness stamp on a processing message.
// No-op for messages in any other status.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages SET heartbeat_at = ? WHERE id = ? AND status = ?
	`, s.now().Format(time.RFC3339Nano), id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages SET status = ?, completed_at = ? WHERE id = ?
	`, StatusCompleted, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark completed rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark completed %s: %w", id, ErrMessageNotFound)
	}
	metrics.QueueMessagesCompleted.Inc()
	return nil
}

// MarkFailed records a processing failure. Below the retry budget the message
// is reincarnated as pending with processed_at/heartbeat_at cleared; at the
// budget it goes terminal failed with completed_at stamped.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	reason := "processing failed"
	if cause != nil {
		reason = cause.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var retryCount, maxRetries int
	err = tx.QueryRowContext(ctx, `SELECT retry_count, max_retries FROM queue_messages WHERE id = ?`, id).Scan(&retryCount, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark failed %s: %w", id, ErrMessageNotFound)
	}
	if err != nil {
		return fmt.Errorf("load retry state: %w", err)
	}

	if retryCount < maxRetries {
		_, err = tx.ExecContext(ctx, `
			UPDATE queue_messages
			SET status = ?, retry_count = retry_count + 1, error = ?, processed_at = NULL, heartbeat_at = NULL
			WHERE id = ?
		`, StatusPending, reason, id)
		if err != nil {
			return fmt.Errorf("requeue message: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit requeue: %w", err)
		}
		metrics.QueueMessagesRetried.Inc()
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE queue_messages SET status = ?, error = ?, completed_at = ? WHERE id = ?
	`, StatusFailed, reason, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("fail message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail: %w", err)
	}
	metrics.QueueMessagesFailed.Inc()
	return nil
}

// RetryMessage manually requeues a terminally failed message. Returns false
// with no mutation unless the message is failed with retry budget remaining.
func (s *Store) RetryMessage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET status = ?, retry_count = retry_count + 1, processed_at = NULL, heartbeat_at = NULL, completed_at = NULL
		WHERE id = ? AND status = ? AND retry_count < max_retries
	`, StatusPending, id, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("retry message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("retry rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	metrics.QueueMessagesRetried.Inc()
	return true, nil
}

// ForceFail is the operator escape hatch for processing messages whose retry
// budget is exhausted and that DetectStuckMessages deliberately leaves alone.
func (s *Store) ForceFail(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "force-failed by operator"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = ?
	`, StatusFailed, reason, s.now().Format(time.RFC3339Nano), id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("force fail: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("force fail rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("force fail %s: not processing: %w", id, ErrMessageNotFound)
	}
	metrics.QueueMessagesFailed.Inc()
	return nil
}

// DetectStuckMessages requeues processing messages whose heartbeat is absent
// or older than their timeout, charging the retry budget like an explicit
// failure. Messages already at max retries are left processing; see ForceFail.
// Returns the number of messages reclaimed.
func (s *Store) DetectStuckMessages(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, heartbeat_at, timeout_seconds FROM queue_messages
		WHERE status = ? AND retry_count < max_retries
	`, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("scan processing: %w", err)
	}
	defer rows.Close()

	now := s.now()
	type stuck struct {
		id      string
		timeout int
	}
	var stuckIDs []stuck
	for rows.Next() {
		var id string
		var heartbeatStr sql.NullString
		var timeoutSec int
		if err := rows.Scan(&id, &heartbeatStr, &timeoutSec); err != nil {
			return 0, fmt.Errorf("scan processing message: %w", err)
		}
		stale := true
		if heartbeatStr.Valid {
			heartbeat, err := time.Parse(time.RFC3339Nano, heartbeatStr.String)
			stale = err != nil || now.Sub(heartbeat) > time.Duration(timeoutSec)*time.Second
		}
		if stale {
			stuckIDs = append(stuckIDs, stuck{id: id, timeout: timeoutSec})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate processing: %w", err)
	}

	reclaimed := 0
	for _, st := range stuckIDs {
		reason := fmt.Sprintf("processing timeout after %ds without heartbeat", st.timeout)
		res, err := s.db.ExecContext(ctx, `
			UPDATE queue_messages
			SET status = ?, retry_count = retry_count + 1, error = ?, processed_at = NULL, heartbeat_at = NULL
			WHERE id = ? AND status = ? AND retry_count < max_retries
		`, StatusPending, reason, st.id, StatusProcessing)
		if err != nil {
			return reclaimed, fmt.Errorf("requeue stuck message: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return reclaimed, fmt.Errorf("requeue stuck rows affected: %w", err)
		}
		if affected > 0 {
			reclaimed++
			metrics.QueueMessagesStuck.Inc()
		}
	}
	return reclaimed, nil
}

func (s *Store) QueueDepth(ctx context.Context, worldID string) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_messages WHERE world_id = ? AND status = ?
	`, worldID, StatusPending).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Stats returns per-world status counts. An empty worldID covers all worlds.
func (s *Store) Stats(ctx context.Context, worldID string) ([]WorldStats, error) {
	query := `
		SELECT world_id, status, COUNT(*), MIN(CASE WHEN status = 'pending' THEN created_at END)
		FROM queue_messages
	`
	var args []any
	if worldID != "" {
		query += " WHERE world_id = ?"
		args = append(args, worldID)
	}
	query += " GROUP BY world_id, status ORDER BY world_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	byWorld := map[string]*WorldStats{}
	var order []string
	for rows.Next() {
		var wid, status string
		var count int
		var oldest sql.NullString
		if err := rows.Scan(&wid, &status, &count, &oldest); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		ws, ok := byWorld[wid]
		if !ok {
			ws = &WorldStats{WorldID: wid}
			byWorld[wid] = ws
			order = append(order, wid)
		}
		switch Status(status) {
		case StatusPending:
			ws.Pending = count
			if oldest.Valid {
				ws.OldestPending, _ = time.Parse(time.RFC3339Nano, oldest.String)
			}
		case StatusProcessing:
			ws.Processing = count
		case StatusCompleted:
			ws.Completed = count
		case StatusFailed:
			ws.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	out := make([]WorldStats, 0, len(order))
	for _, wid := range order {
		out = append(out, *byWorld[wid])
	}
	return out, nil
}

// Cleanup deletes terminal messages completed before the threshold. Pending
// and processing rows are never touched regardless of age.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_messages
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, StatusCompleted, StatusFailed, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return int(deleted), nil
}

// Get is a point lookup by queue id. Returns nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM queue_messages WHERE id = ?
	`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetByMessageID looks up a queue entry by its app-level message id.
func (s *Store) GetByMessageID(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM queue_messages WHERE message_id = ? ORDER BY rowid DESC LIMIT 1
	`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

const messageColumns = `id, world_id, message_id, chat_id, reply_to, content, sender, status, priority, retry_count, max_retries, timeout_seconds, error, created_at, processed_at, heartbeat_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	var status string
	var chatID, replyTo, errStr sql.NullString
	var createdAtStr string
	var processedAtStr, heartbeatAtStr, completedAtStr sql.NullString
	err := row.Scan(&msg.ID, &msg.WorldID, &msg.MessageID, &chatID, &replyTo, &msg.Content, &msg.Sender,
		&status, &msg.Priority, &msg.RetryCount, &msg.MaxRetries, &msg.TimeoutSeconds, &errStr,
		&createdAtStr, &processedAtStr, &heartbeatAtStr, &completedAtStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("scan queue message: %w", err)
	}
	msg.Status = Status(status)
	msg.ChatID = chatID.String
	msg.ReplyTo = replyTo.String
	msg.Error = errStr.String
	msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	msg.ProcessedAt = parseNullTime(processedAtStr)
	msg.HeartbeatAt = parseNullTime(heartbeatAtStr)
	msg.CompletedAt = parseNullTime(completedAtStr)
	return msg, nil
}

func parseNullTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, v.String)
	return t
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
