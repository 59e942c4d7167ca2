// Package state is the client-local store: last-selected provider and
// model, a cache of chat summaries for offline listing, and a journal of
// observed task transitions. Nothing here is authoritative; the platform
// owns chat history and task state.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veldt-ai/go-chat/internal/idgen"
)

// Preference keys consulted at startup and written on selection.
const (
	PrefProvider = "last_provider"
	PrefModel    = "last_model"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TaskTrace struct {
	ID           string    `json:"id"`
	ParentChatID string    `json:"parent_chat_id"`
	TaskID       string    `json:"task_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load preference %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("preference key is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("save preference %s: %w", key, err)
	}
	return nil
}

func (s *Store) UpsertChat(ctx context.Context, id, title string) error {
	if id == "" {
		return fmt.Errorf("chat id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at
	`, id, title, now, now)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func (s *Store) ListChats(ctx context.Context, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var chat Chat
		var title sql.NullString
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&chat.ID, &title, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chat.Title = title.String
		chat.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		chat.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
		out = append(out, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteChat(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

func (s *Store) RecordTaskTrace(ctx context.Context, trace TaskTrace) error {
	if trace.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	id := trace.ID
	if id == "" {
		id = idgen.New()
	}
	createdAt := trace.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_traces (id, parent_chat_id, task_id, trace_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, trace.ParentChatID, trace.TaskID, nullString(trace.TraceID), trace.Status, nullString(trace.Error), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task trace: %w", err)
	}
	return nil
}

func (s *Store) ListTaskTraces(ctx context.Context, parentChatID string, limit int) ([]TaskTrace, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_chat_id, task_id, trace_id, status, error, created_at
		FROM task_traces
		WHERE parent_chat_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, parentChatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task traces: %w", err)
	}
	defer rows.Close()

	var out []TaskTrace
	for rows.Next() {
		var trace TaskTrace
		var traceID, errStr sql.NullString
		var createdAtStr string
		if err := rows.Scan(&trace.ID, &trace.ParentChatID, &trace.TaskID, &traceID, &trace.Status, &errStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan task trace: %w", err)
		}
		trace.TraceID = traceID.String
		trace.Error = errStr.String
		trace.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, trace)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task traces: %w", err)
	}
	return out, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
