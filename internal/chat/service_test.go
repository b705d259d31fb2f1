package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openaip/budget-chat/internal/clarification"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/monitoring"
	"github.com/openaip/budget-chat/internal/quota"
	"github.com/openaip/budget-chat/internal/routing"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T { return &v }

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*storage.ChatSession
	messages map[string][]*storage.ChatMessage
	seq      int
	failGet  error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{
		sessions: map[string]*storage.ChatSession{},
		messages: map[string][]*storage.ChatMessage{},
	}
}

func (m *memorySessions) GetSession(ctx context.Context, id string) (*storage.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (m *memorySessions) CreateSession(ctx context.Context, userID string, title *string) (*storage.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	s := &storage.ChatSession{ID: fmt.Sprintf("session-%d", m.seq), UserID: userID, Title: title, CreatedAt: time.Now()}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memorySessions) append(sessionID string, role storage.MessageRole, content string, citations, meta json.RawMessage) *storage.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	msg := &storage.ChatMessage{
		ID:            fmt.Sprintf("msg-%d", m.seq),
		SessionID:     sessionID,
		Role:          role,
		Content:       content,
		Citations:     citations,
		RetrievalMeta: meta,
		CreatedAt:     time.Now(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg
}

func (m *memorySessions) AppendUserMessage(ctx context.Context, sessionID, content string) (*storage.ChatMessage, error) {
	return m.append(sessionID, storage.RoleUser, content, nil, nil), nil
}

func (m *memorySessions) AppendAssistantMessage(ctx context.Context, sessionID, content string, citations, meta json.RawMessage) (*storage.ChatMessage, error) {
	return m.append(sessionID, storage.RoleAssistant, content, citations, meta), nil
}

func (m *memorySessions) LatestAssistantMessage(ctx context.Context, sessionID string) (*storage.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == storage.RoleAssistant {
			return msgs[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memorySessions) ListMessages(ctx context.Context, sessionID string, limit int) ([]*storage.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*storage.ChatMessage(nil), msgs...), nil
}

func (m *memorySessions) count(sessionID string, role storage.MessageRole) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages[sessionID] {
		if msg.Role == role {
			n++
		}
	}
	return n
}

func (m *memorySessions) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msgs := range m.messages {
		n += len(msgs)
	}
	return n
}

type staticDirectory struct {
	dir *scope.Directory
	err error
}

func (d staticDirectory) Load(context.Context) (*scope.Directory, error) {
	return d.dir, d.err
}

type resumeCall struct {
	req     routing.Request
	pending *clarification.Pending
	index   int
}

// scriptedRouter answers Route with route and records every call.
type scriptedRouter struct {
	mu      sync.Mutex
	route   func(routing.Request) (compose.Draft, error)
	routed  []routing.Request
	resumed []resumeCall
}

func (r *scriptedRouter) Route(ctx context.Context, req routing.Request) (compose.Draft, error) {
	r.mu.Lock()
	r.routed = append(r.routed, req)
	r.mu.Unlock()
	if r.route == nil {
		return answerDraft("ok"), nil
	}
	return r.route(req)
}

func (r *scriptedRouter) Resume(ctx context.Context, req routing.Request, p *clarification.Pending, index int) (compose.Draft, error) {
	r.mu.Lock()
	r.resumed = append(r.resumed, resumeCall{req: req, pending: p, index: index})
	r.mu.Unlock()
	d := answerDraft("Resumed with barangays in " + p.Context.CityName)
	d.Meta.FallbackMode = clarification.FallbackBarangaysInCity
	d.Meta.AggregationSource = compose.SourceLineItems
	return d, nil
}

type fixedLimiter struct {
	decision quota.Decision
	err      error
	calls    int
}

func (l *fixedLimiter) Consume(context.Context, string) (quota.Decision, error) {
	l.calls++
	return l.decision, l.err
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []monitoring.RouteEvent
}

func (a *recordingAuditor) Record(ctx context.Context, e monitoring.RouteEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func answerDraft(content string) compose.Draft {
	return compose.Draft{
		Status:    compose.StatusAnswer,
		Content:   content,
		Citations: []compose.Citation{{SourceID: "A1", Snippet: content}},
		Meta:      compose.Meta{Route: routing.RouteAggregateSQL},
	}
}

func cityClarification() compose.Draft {
	p := &clarification.Pending{
		Kind:    clarification.KindCityFallback,
		Options: []string{"Use barangays in City of Cabuyao"},
		Context: clarification.Context{
			Kind:             clarification.KindCityFallback,
			OriginalIntent:   intent.TopProjects,
			CityID:           "city-cab",
			CityName:         "Cabuyao City",
			CityLabel:        "City of Cabuyao",
			FiscalYearParsed: ptr(2026),
		},
	}
	d := compose.Clarify("No published City AIP for City of Cabuyao.", p, "")
	d.Meta.Route = routing.RouteClarification
	return d
}

func testDirectory() *scope.Directory {
	return &scope.Directory{
		Barangays: []storage.LGU{
			{ID: "b-pulo", Name: "Pulo", Type: storage.ScopeBarangay, CityID: ptr("city-cab")},
			{ID: "b-banlic", Name: "Banlic", Type: storage.ScopeBarangay, CityID: ptr("city-cab")},
		},
		Cities: []storage.LGU{
			{ID: "city-cab", Name: "Cabuyao City", Type: storage.ScopeCity},
		},
	}
}

type fixture struct {
	svc      *Service
	sessions *memorySessions
	router   *scriptedRouter
	limiter  *fixedLimiter
	auditor  *recordingAuditor
}

func newFixture() *fixture {
	f := &fixture{
		sessions: newMemorySessions(),
		router:   &scriptedRouter{},
		limiter:  &fixedLimiter{decision: quota.Decision{Allowed: true, Reason: quota.ReasonOK}},
		auditor:  &recordingAuditor{},
	}
	f.svc = NewService(Deps{
		Sessions:  f.sessions,
		Directory: staticDirectory{dir: testDirectory()},
		Router:    f.router,
		Quota:     f.limiter,
		Auditor:   f.auditor,
	}, DefaultConfig(), nil)
	return f
}

var citizen = scope.Account{UserID: "user-1"}

func TestSend_NewSession(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Send(context.Background(), SendRequest{
		Content: "  Top 3 projects in FY 2026 in Barangay Pulo  ",
		Account: citizen,
	})
	require.NoError(t, err)

	assert.Equal(t, compose.StatusAnswer, res.Status)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "Top 3 projects in FY 2026 in Barangay Pulo", res.UserMessage.Content)
	assert.Equal(t, storage.RoleAssistant, res.AssistantMessage.Role)
	assert.Equal(t, 1, f.sessions.count(res.SessionID, storage.RoleUser))
	assert.Equal(t, 1, f.sessions.count(res.SessionID, storage.RoleAssistant))

	require.Len(t, f.router.routed, 1)
	req := f.router.routed[0]
	assert.Equal(t, intent.TopProjects, req.Intent.Intent)
	require.Len(t, req.Scope.Targets, 1)
	assert.Equal(t, "b-pulo", req.Scope.Targets[0].ScopeID)
	assert.NotNil(t, req.Directory)

	var meta compose.Meta
	require.NoError(t, json.Unmarshal(res.AssistantMessage.RetrievalMeta, &meta))
	assert.Equal(t, compose.StatusAnswer, meta.Status)
	assert.Equal(t, routing.RouteAggregateSQL, meta.Route)

	var citations []compose.Citation
	require.NoError(t, json.Unmarshal(res.AssistantMessage.Citations, &citations))
	assert.Len(t, citations, 1)

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, res.SessionID, f.auditor.events[0].SessionID)
	assert.Equal(t, res.AssistantMessage.ID, f.auditor.events[0].MessageID)
	assert.Equal(t, "answer", f.auditor.events[0].Status)
}

func TestSend_InputValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "empty", content: "", want: ErrEmptyMessage},
		{name: "whitespace", content: "   \n\t ", want: ErrEmptyMessage},
		{name: "too long", content: strings.Repeat("a", 12001), want: ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Send(context.Background(), SendRequest{Content: tt.content, Account: citizen})
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.limiter.calls)
			assert.Zero(t, f.sessions.total())
		})
	}
}

func TestSend_LengthLimitCountsCharacters(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Send(context.Background(), SendRequest{Content: strings.Repeat("ñ", 12000), Account: citizen})
	require.NoError(t, err)
}

func TestSend_UnknownSession(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Send(context.Background(), SendRequest{SessionID: "missing", Content: "hello", Account: citizen})
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, f.limiter.calls)
}

func TestSend_SessionOwnedByAnotherUser(t *testing.T) {
	f := newFixture()
	other, err := f.sessions.CreateSession(context.Background(), "user-2", nil)
	require.NoError(t, err)

	_, err = f.svc.Send(context.Background(), SendRequest{SessionID: other.ID, Content: "hello", Account: citizen})
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, f.sessions.total())
}

func TestSend_QuotaDeniedPersistsNothing(t *testing.T) {
	f := newFixture()
	f.limiter.decision = quota.Decision{Allowed: false, Reason: quota.ReasonMinuteExceeded}

	_, err := f.svc.Send(context.Background(), SendRequest{Content: "Top 3 projects in FY 2026", Account: citizen})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), quota.ReasonMinuteExceeded)
	assert.Zero(t, f.sessions.total())
	assert.Empty(t, f.router.routed)
	assert.Empty(t, f.auditor.events)
}

func TestSend_QuotaError(t *testing.T) {
	f := newFixture()
	f.limiter.err = errors.New("db down")

	_, err := f.svc.Send(context.Background(), SendRequest{Content: "hello", Account: citizen})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
}

func TestSend_CityClarificationThenSelection(t *testing.T) {
	f := newFixture()
	f.router.route = func(routing.Request) (compose.Draft, error) { return cityClarification(), nil }
	ctx := context.Background()

	first, err := f.svc.Send(ctx, SendRequest{Content: "Top 5 projects in Cabuyao City FY 2026", Account: citizen})
	require.NoError(t, err)
	assert.Equal(t, compose.StatusClarification, first.Status)

	pending := clarification.FromRetrievalMeta(first.AssistantMessage.RetrievalMeta)
	require.NotNil(t, pending)
	assert.Equal(t, clarification.KindCityFallback, pending.Kind)

	second, err := f.svc.Send(ctx, SendRequest{SessionID: first.SessionID, Content: "1", Account: citizen})
	require.NoError(t, err)
	assert.Equal(t, compose.StatusAnswer, second.Status)
	assert.Equal(t, first.SessionID, second.SessionID)

	require.Len(t, f.router.resumed, 1)
	call := f.router.resumed[0]
	assert.Equal(t, 0, call.index)
	assert.Equal(t, "city-cab", call.pending.Context.CityID)
	assert.Equal(t, intent.TopProjects, call.pending.Context.OriginalIntent)
	assert.Len(t, f.router.routed, 1)

	var meta compose.Meta
	require.NoError(t, json.Unmarshal(second.AssistantMessage.RetrievalMeta, &meta))
	assert.Equal(t, clarification.FallbackBarangaysInCity, meta.FallbackMode)
	assert.Equal(t, compose.SourceLineItems, meta.AggregationSource)
	assert.Nil(t, meta.Clarification)
}

func TestSend_ClarificationReminderAndCancel(t *testing.T) {
	f := newFixture()
	f.router.route = func(routing.Request) (compose.Draft, error) { return cityClarification(), nil }
	ctx := context.Background()

	first, err := f.svc.Send(ctx, SendRequest{Content: "Top 5 projects in Cabuyao City FY 2026", Account: citizen})
	require.NoError(t, err)

	reminded, err := f.svc.Send(ctx, SendRequest{SessionID: first.SessionID, Content: "7", Account: citizen})
	require.NoError(t, err)
	assert.Equal(t, compose.StatusClarification, reminded.Status)
	assert.Contains(t, reminded.Reply.Content, "Please reply with 1")
	assert.NotNil(t, clarification.FromRetrievalMeta(reminded.AssistantMessage.RetrievalMeta))

	cancelled, err := f.svc.Send(ctx, SendRequest{SessionID: first.SessionID, Content: "cancel", Account: citizen})
	require.NoError(t, err)
	assert.Equal(t, compose.StatusAnswer, cancelled.Status)
	assert.Equal(t, "clarification_cancelled", cancelled.Reply.Meta.Reason)
	assert.Nil(t, clarification.FromRetrievalMeta(cancelled.AssistantMessage.RetrievalMeta))

	assert.Len(t, f.router.routed, 1)
	assert.Empty(t, f.router.resumed)
}

func TestSend_NewQuestionIgnoresPendingClarification(t *testing.T) {
	f := newFixture()
	calls := 0
	f.router.route = func(routing.Request) (compose.Draft, error) {
		calls++
		if calls == 1 {
			return cityClarification(), nil
		}
		return answerDraft("sector totals"), nil
	}
	ctx := context.Background()

	first, err := f.svc.Send(ctx, SendRequest{Content: "Top 5 projects in Cabuyao City FY 2026", Account: citizen})
	require.NoError(t, err)

	next, err := f.svc.Send(ctx, SendRequest{
		SessionID: first.SessionID,
		Content:   "Budget totals by sector for FY 2026 in Barangay Pulo",
		Account:   citizen,
	})
	require.NoError(t, err)
	assert.Equal(t, "sector totals", next.Reply.Content)
	assert.Len(t, f.router.routed, 2)
	assert.Empty(t, f.router.resumed)
}

func TestSend_RoutingErrorPersistsNoAssistantMessage(t *testing.T) {
	f := newFixture()
	f.router.route = func(routing.Request) (compose.Draft, error) {
		return compose.Draft{}, fmt.Errorf("embed question: %w", routing.ErrCollaborator)
	}

	_, err := f.svc.Send(context.Background(), SendRequest{Content: "What are the health programs?", Account: citizen})
	require.ErrorIs(t, err, routing.ErrCollaborator)
	assert.Equal(t, 1, f.sessions.count("session-1", storage.RoleUser))
	assert.Zero(t, f.sessions.count("session-1", storage.RoleAssistant))
}

func TestSend_DirectoryError(t *testing.T) {
	f := newFixture()
	f.svc.deps.Directory = staticDirectory{err: errors.New("directory unavailable")}

	_, err := f.svc.Send(context.Background(), SendRequest{Content: "Top 3 projects", Account: citizen})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load directory")
	assert.Empty(t, f.router.routed)
}

func TestSend_ComposeFillsMissingCitation(t *testing.T) {
	f := newFixture()
	f.router.route = func(routing.Request) (compose.Draft, error) {
		return compose.Draft{Status: compose.StatusAnswer, Content: "plain"}, nil
	}

	res, err := f.svc.Send(context.Background(), SendRequest{Content: "hello there", Account: citizen})
	require.NoError(t, err)
	require.Len(t, res.Reply.Citations, 1)
	assert.Equal(t, "S0", res.Reply.Citations[0].SourceID)
}

func TestListMessages(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.svc.Send(ctx, SendRequest{Content: "Top 3 projects in FY 2026", Account: citizen})
	require.NoError(t, err)

	msgs, err := f.svc.ListMessages(ctx, res.SessionID, citizen.UserID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
	assert.Equal(t, storage.RoleAssistant, msgs[1].Role)

	_, err = f.svc.ListMessages(ctx, res.SessionID, "user-2")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.ListMessages(ctx, "missing", citizen.UserID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSend_SessionStoreFailure(t *testing.T) {
	f := newFixture()
	f.sessions.failGet = errors.New("connection reset")

	_, err := f.svc.Send(context.Background(), SendRequest{SessionID: "session-9", Content: "hello", Account: citizen})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
