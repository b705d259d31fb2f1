// Package handlers provides HTTP handlers for the budget chat API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openaip/budget-chat/cmd/budget-chat-api/middleware"
	"github.com/openaip/budget-chat/internal/chat"
	"github.com/openaip/budget-chat/internal/routing"
	"github.com/openaip/budget-chat/internal/storage"
)

// ChatService is the slice of chat.Service the handler needs.
type ChatService interface {
	Send(ctx context.Context, req chat.SendRequest) (*chat.SendResult, error)
	ListMessages(ctx context.Context, sessionID, userID string) ([]*storage.ChatMessage, error)
}

var _ ChatService = (*chat.Service)(nil)

// ChatHandler handles chat message requests.
type ChatHandler struct {
	logger Logger
	svc    ChatService
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(logger Logger, svc ChatService) *ChatHandler {
	return &ChatHandler{logger: logger, svc: svc}
}

// SendMessageDTO is the body of POST /chat/messages.
type SendMessageDTO struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
}

// MessageDTO is a persisted chat message.
type MessageDTO struct {
	ID            string          `json:"id"`
	Role          string          `json:"role,omitempty"`
	Content       string          `json:"content"`
	Citations     json.RawMessage `json:"citations,omitempty"`
	RetrievalMeta json.RawMessage `json:"retrievalMeta,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

// SendMessageResponseDTO is the reply to POST /chat/messages.
type SendMessageResponseDTO struct {
	Status           string     `json:"status"`
	SessionID        string     `json:"sessionId"`
	AssistantMessage MessageDTO `json:"assistantMessage"`
}

// ListMessagesResponseDTO is the reply to GET /chat/sessions/{id}/messages.
type ListMessagesResponseDTO struct {
	SessionID string       `json:"sessionId"`
	Messages  []MessageDTO `json:"messages"`
}

// SendMessage handles POST /chat/messages.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var req SendMessageDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.svc.Send(ctx, chat.SendRequest{
		SessionID: req.SessionID,
		Content:   req.Content,
		Account:   actor.Account(),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SendMessageResponseDTO{
		Status:           string(res.Status),
		SessionID:        res.SessionID,
		AssistantMessage: toMessageDTO(res.AssistantMessage, false),
	})
}

// ListMessages handles GET /chat/sessions/{sessionId}/messages.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := middleware.ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	msgs, err := h.svc.ListMessages(ctx, sessionID, actor.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := ListMessagesResponseDTO{SessionID: sessionID, Messages: make([]MessageDTO, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessageDTO(m, true))
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps service errors onto HTTP statuses.
func (h *ChatHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, "invalid message", err.Error())
	case errors.Is(err, chat.ErrQuotaExceeded):
		writeError(w, http.StatusUnauthorized, "rate_limited", "")
	case errors.Is(err, chat.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found", "")
	case errors.Is(err, routing.ErrCollaborator):
		h.logger.Error().Err(err).Msg("Collaborator failure")
		writeError(w, http.StatusBadGateway, "answer generation failed", "")
	default:
		h.logger.Error().Err(err).Msg("Chat request failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func toMessageDTO(m *storage.ChatMessage, withRole bool) MessageDTO {
	dto := MessageDTO{
		ID:            m.ID,
		Content:       m.Content,
		Citations:     m.Citations,
		RetrievalMeta: m.RetrievalMeta,
		CreatedAt:     m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if withRole {
		dto.Role = string(m.Role)
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
