package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaip/budget-chat/cmd/budget-chat-api/middleware"
	"github.com/openaip/budget-chat/internal/chat"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/routing"
	"github.com/openaip/budget-chat/internal/storage"
)

type fakeChat struct {
	sendErr   error
	listErr   error
	lastReq   chat.SendRequest
	lastUID   string
	lastTrace string
}

func (f *fakeChat) Send(ctx context.Context, req chat.SendRequest) (*chat.SendResult, error) {
	f.lastReq = req
	f.lastTrace = observability.TraceIDFromContext(ctx)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &chat.SendResult{
		Status:    compose.StatusAnswer,
		SessionID: "session-1",
		AssistantMessage: &storage.ChatMessage{
			ID:            "msg-2",
			Role:          storage.RoleAssistant,
			Content:       "The top projects are...",
			Citations:     json.RawMessage(`[{"sourceId":"A1","snippet":"x","insufficient":false}]`),
			RetrievalMeta: json.RawMessage(`{"status":"answer","route":"aggregate_sql"}`),
			CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}, nil
}

func (f *fakeChat) ListMessages(ctx context.Context, sessionID, userID string) ([]*storage.ChatMessage, error) {
	f.lastUID = userID
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []*storage.ChatMessage{
		{ID: "msg-1", Role: storage.RoleUser, Content: "hi", CreatedAt: time.Now()},
		{ID: "msg-2", Role: storage.RoleAssistant, Content: "hello", CreatedAt: time.Now()},
	}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(svc *fakeChat, auth middleware.AuthConfig, db fakePinger) http.Handler {
	return NewRouter(observability.NopLogger(), RouterDeps{
		Chat: svc,
		DB:   db,
		Auth: auth,
	})
}

func postMessage(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(&fakeChat{}, middleware.AuthConfig{}, fakePinger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(&fakeChat{}, middleware.AuthConfig{}, fakePinger{err: errors.New("db down")})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSendMessage_OK(t *testing.T) {
	svc := &fakeChat{}
	h := newTestServer(svc, middleware.AuthConfig{}, fakePinger{})

	rec := postMessage(t, h, `{"content":"Top 3 projects in FY 2026"}`, map[string]string{
		middleware.HeaderUserID:    "user-7",
		middleware.HeaderScopeKind: "barangay",
		middleware.HeaderScopeID:   "b-pulo",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "answer", body["status"])
	assert.Equal(t, "session-1", body["sessionId"])
	msg := body["assistantMessage"].(map[string]interface{})
	assert.Equal(t, "msg-2", msg["id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", msg["createdAt"])
	assert.Equal(t, "aggregate_sql", msg["retrievalMeta"].(map[string]interface{})["route"])

	assert.Equal(t, "Top 3 projects in FY 2026", svc.lastReq.Content)
	assert.Equal(t, "user-7", svc.lastReq.Account.UserID)
	assert.Equal(t, storage.ScopeBarangay, svc.lastReq.Account.ScopeKind)
	assert.Equal(t, "b-pulo", svc.lastReq.Account.ScopeID)
}

func TestSendMessage_RequestIDBecomesTraceID(t *testing.T) {
	svc := &fakeChat{}
	h := newTestServer(svc, middleware.AuthConfig{}, fakePinger{})

	rec := postMessage(t, h, `{"content":"Top 3 projects in FY 2026"}`, map[string]string{
		middleware.HeaderUserID: "user-1",
		"X-Request-Id":          "req-7",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-7", svc.lastTrace)
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		errMsg string
	}{
		{"empty", chat.ErrEmptyMessage, http.StatusBadRequest, "invalid message"},
		{"too long", fmt.Errorf("%w: limit", chat.ErrMessageTooLong), http.StatusBadRequest, "invalid message"},
		{"quota", fmt.Errorf("%w: minute_limit_exceeded", chat.ErrQuotaExceeded), http.StatusUnauthorized, "rate_limited"},
		{"session", chat.ErrSessionNotFound, http.StatusNotFound, "session not found"},
		{"collaborator", fmt.Errorf("%w: embed query: timeout", routing.ErrCollaborator), http.StatusBadGateway, "answer generation failed"},
		{"store", errors.New("append assistant message: broken pipe"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeChat{sendErr: tt.err}, middleware.AuthConfig{}, fakePinger{})
			rec := postMessage(t, h, `{"content":"x"}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errMsg, decodeBody(t, rec)["error"])
		})
	}
}

func TestSendMessage_MalformedJSON(t *testing.T) {
	h := newTestServer(&fakeChat{}, middleware.AuthConfig{}, fakePinger{})
	rec := postMessage(t, h, `{"content":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decodeBody(t, rec)["error"])
}

func TestSendMessage_JWT(t *testing.T) {
	auth := middleware.AuthConfig{Enabled: true, Secret: "s3cret", Issuer: "openaip", Audience: "budget-chat"}
	svc := &fakeChat{}
	h := newTestServer(svc, auth, fakePinger{})

	rec := postMessage(t, h, `{"content":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := middleware.SignToken(auth, middleware.Actor{
		UserID:    "user-9",
		Role:      middleware.RoleBarangayOfficial,
		ScopeKind: storage.ScopeCity,
		ScopeID:   "city-cab",
	}, time.Hour)
	require.NoError(t, err)

	rec = postMessage(t, h, `{"content":"hi"}`, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", svc.lastReq.Account.UserID)
	assert.Equal(t, storage.ScopeCity, svc.lastReq.Account.ScopeKind)
	assert.Equal(t, "city-cab", svc.lastReq.Account.ScopeID)
}

func TestListMessages(t *testing.T) {
	svc := &fakeChat{}
	h := newTestServer(svc, middleware.AuthConfig{}, fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/sessions/session-1/messages", nil)
	req.Header.Set(middleware.HeaderUserID, "user-3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "session-1", body["sessionId"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "user-3", svc.lastUID)

	svc.listErr = chat.ErrSessionNotFound
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chat/sessions/other/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&fakeChat{}, middleware.AuthConfig{}, fakePinger{})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat/messages", nil)
	req.Header.Set("Origin", "https://openaip.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://openaip.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
