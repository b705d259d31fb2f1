package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SessionRepository handles chat sessions and their append-only messages.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const messageColumns = `id, session_id, role, content, citations, retrieval_meta, created_at`

// CreateSession creates a new session for userID.
func (r *SessionRepository) CreateSession(ctx context.Context, userID string, title *string) (*ChatSession, error) {
	session := &ChatSession{
		ID:      uuid.New().String(),
		UserID:  userID,
		Title:   title,
		Context: json.RawMessage(`{}`),
	}

	query := `
		INSERT INTO chat_sessions (id, user_id, title, context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		session.ID, session.UserID, nullableString(title), string(session.Context),
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return session, nil
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `
		SELECT id, user_id, title, context, last_message_at, created_at, updated_at
		FROM chat_sessions WHERE id = $1
	`
	session := &ChatSession{}
	var sessionContext []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.UserID, &session.Title, &sessionContext,
		&session.LastMessageAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	session.Context = sessionContext

	return session, nil
}

// AppendUserMessage appends a user message and bumps the session activity time.
func (r *SessionRepository) AppendUserMessage(ctx context.Context, sessionID, content string) (*ChatMessage, error) {
	return r.appendMessage(ctx, sessionID, RoleUser, content, nil, nil)
}

// AppendAssistantMessage appends an assistant reply with its citations and retrieval metadata.
func (r *SessionRepository) AppendAssistantMessage(ctx context.Context, sessionID, content string, citations, retrievalMeta json.RawMessage) (*ChatMessage, error) {
	return r.appendMessage(ctx, sessionID, RoleAssistant, content, citations, retrievalMeta)
}

func (r *SessionRepository) appendMessage(ctx context.Context, sessionID string, role MessageRole, content string, citations, retrievalMeta json.RawMessage) (*ChatMessage, error) {
	query := `
		WITH inserted AS (
			INSERT INTO chat_messages (id, session_id, role, content, citations, retrieval_meta, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			RETURNING ` + messageColumns + `
		), touched AS (
			UPDATE chat_sessions SET last_message_at = now(), updated_at = now() WHERE id = $2
		)
		SELECT ` + messageColumns + ` FROM inserted
	`
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query,
		uuid.New().String(), sessionID, string(role), content, nullableJSON(citations), nullableJSON(retrievalMeta),
	))
	if err != nil {
		return nil, fmt.Errorf("append %s message: %w", role, err)
	}
	return msg, nil
}

// LatestAssistantMessage returns the most recent assistant message in a session.
func (r *SessionRepository) LatestAssistantMessage(ctx context.Context, sessionID string) (*ChatMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE session_id = $1 AND role = 'assistant'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return nil, notFound(err)
	}
	return msg, nil
}

// ListMessages returns up to limit messages of a session in chronological order.
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*ChatMessage, error) {
	msg := &ChatMessage{}
	var role string
	var citations, meta []byte
	if err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &citations, &meta, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Role = MessageRole(role)
	if len(citations) > 0 {
		msg.Citations = citations
	}
	if len(meta) > 0 {
		msg.RetrievalMeta = meta
	}
	return msg, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	// lib/pq sends []byte as bytea; jsonb needs text.
	return string(raw)
}
