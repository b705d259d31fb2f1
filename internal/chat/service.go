// Package chat runs one budget question end to end: validation, session
// ownership, quota, routing, composition and persistence.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/openaip/budget-chat/internal/clarification"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/monitoring"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/quota"
	"github.com/openaip/budget-chat/internal/routing"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

var (
	ErrEmptyMessage    = errors.New("message content is required")
	ErrMessageTooLong  = errors.New("message content is too long")
	ErrSessionNotFound = errors.New("chat session not found")
	ErrQuotaExceeded   = errors.New("chat quota exceeded")
)

// SessionStore persists sessions and their append-only messages.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*storage.ChatSession, error)
	CreateSession(ctx context.Context, userID string, title *string) (*storage.ChatSession, error)
	AppendUserMessage(ctx context.Context, sessionID, content string) (*storage.ChatMessage, error)
	AppendAssistantMessage(ctx context.Context, sessionID, content string, citations, retrievalMeta json.RawMessage) (*storage.ChatMessage, error)
	LatestAssistantMessage(ctx context.Context, sessionID string) (*storage.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*storage.ChatMessage, error)
}

// DirectoryProvider loads the active LGU directory.
type DirectoryProvider interface {
	Load(ctx context.Context) (*scope.Directory, error)
}

// Router drafts replies for new questions and clarification selections.
type Router interface {
	Route(ctx context.Context, req routing.Request) (compose.Draft, error)
	Resume(ctx context.Context, req routing.Request, p *clarification.Pending, index int) (compose.Draft, error)
}

// Auditor records one route event per answered message.
type Auditor interface {
	Record(ctx context.Context, event monitoring.RouteEvent) error
}

var (
	_ SessionStore      = (*storage.SessionRepository)(nil)
	_ DirectoryProvider = (*scope.DirectoryLoader)(nil)
	_ Router            = (*routing.Router)(nil)
	_ Auditor           = (*monitoring.RouteAuditor)(nil)
)

// Config tunes the service.
type Config struct {
	MaxMessageLength int
	HistoryLimit     int
	TitleLength      int
}

// DefaultConfig returns service defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageLength: 12000,
		HistoryLimit:     200,
		TitleLength:      80,
	}
}

// Deps are the service's collaborators. Quota and Auditor are optional.
type Deps struct {
	Sessions  SessionStore
	Directory DirectoryProvider
	Router    Router
	Quota     quota.Limiter
	Auditor   Auditor
}

// Service handles chat messages.
type Service struct {
	deps   Deps
	cfg    Config
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates a chat service.
func NewService(deps Deps, cfg Config, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	def := DefaultConfig()
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = def.MaxMessageLength
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.TitleLength <= 0 {
		cfg.TitleLength = def.TitleLength
	}
	if deps.Quota == nil {
		deps.Quota = quota.Noop{}
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger.WithOperation("chat"),
		now:    time.Now,
	}
}

// SendRequest is one user message.
type SendRequest struct {
	SessionID string
	Content   string
	Account   scope.Account
}

// SendResult is the persisted assistant reply.
type SendResult struct {
	Status           compose.Status
	SessionID        string
	UserMessage      *storage.ChatMessage
	AssistantMessage *storage.ChatMessage
	Reply            compose.Reply
}

// Send validates, routes and persists one message and its reply.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	start := s.now()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return nil, fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, s.cfg.MaxMessageLength)
	}

	var session *storage.ChatSession
	if req.SessionID != "" {
		var err error
		session, err = s.ownedSession(ctx, req.SessionID, req.Account.UserID)
		if err != nil {
			return nil, err
		}
	}

	decision, err := s.deps.Quota.Consume(ctx, req.Account.UserID)
	if err != nil {
		return nil, fmt.Errorf("consume quota: %w", err)
	}
	if !decision.Allowed {
		s.logger.WithContext(ctx).Warn().
			Str("user_id", req.Account.UserID).
			Str("reason", decision.Reason).
			Msg("Chat quota exceeded")
		return nil, fmt.Errorf("%w: %s", ErrQuotaExceeded, decision.Reason)
	}

	if session == nil {
		title := truncateRunes(content, s.cfg.TitleLength)
		session, err = s.deps.Sessions.CreateSession(ctx, req.Account.UserID, &title)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
	logger := s.logger.WithContext(ctx).WithSession(session.ID)

	userMsg, err := s.deps.Sessions.AppendUserMessage(ctx, session.ID, content)
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	rreq, pending, err := s.prepare(ctx, session.ID, req.SessionID != "", content, req.Account)
	if err != nil {
		return nil, err
	}

	draft, err := s.dispatch(ctx, rreq, pending, content)
	if err != nil {
		logger.Error().Err(err).Msg("Routing failed")
		return nil, err
	}

	reply := compose.Compose(draft)
	if reply.Meta.LatencyMs == 0 {
		reply.Meta.LatencyMs = s.now().Sub(start).Milliseconds()
	}

	citations, err := json.Marshal(reply.Citations)
	if err != nil {
		return nil, fmt.Errorf("marshal citations: %w", err)
	}
	meta, err := json.Marshal(reply.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval meta: %w", err)
	}

	assistantMsg, err := s.deps.Sessions.AppendAssistantMessage(ctx, session.ID, reply.Content, citations, meta)
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	s.audit(ctx, session.ID, req.Account.UserID, assistantMsg.ID, reply, s.now().Sub(start))

	logger.Info().
		Str("status", string(reply.Status)).
		Str("route", reply.Meta.Route).
		Int("citations", len(reply.Citations)).
		Msg("Chat message answered")

	return &SendResult{
		Status:           reply.Status,
		SessionID:        session.ID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Reply:            reply,
	}, nil
}

// prepare loads the directory and resolves scope in parallel with intent
// classification and the pending clarification lookup.
func (s *Service) prepare(ctx context.Context, sessionID string, existing bool, content string, account scope.Account) (routing.Request, *clarification.Pending, error) {
	var (
		dir     *scope.Directory
		res     scope.Resolution
		classed intent.Result
		pending *clarification.Pending
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := s.deps.Directory.Load(gctx)
		if err != nil {
			return fmt.Errorf("load directory: %w", err)
		}
		dir = d
		res = scope.Resolve(content, account, d)
		return nil
	})
	g.Go(func() error {
		classed = intent.Classify(content)
		return nil
	})
	if existing {
		g.Go(func() error {
			msg, err := s.deps.Sessions.LatestAssistantMessage(gctx, sessionID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load latest assistant message: %w", err)
			}
			pending = clarification.FromRetrievalMeta(msg.RetrievalMeta)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return routing.Request{}, nil, err
	}

	return routing.Request{
		Question:  content,
		Intent:    classed,
		Scope:     res,
		Directory: dir,
		Account:   account,
	}, pending, nil
}

func (s *Service) dispatch(ctx context.Context, req routing.Request, pending *clarification.Pending, content string) (compose.Draft, error) {
	match := clarification.Match(pending, content)
	if pending != nil {
		s.logger.WithContext(ctx).Debug().
			Str("kind", string(pending.Kind)).
			Str("outcome", match.Outcome.String()).
			Msg("Pending clarification matched")
	}

	switch match.Outcome {
	case clarification.Selected:
		return s.deps.Router.Resume(ctx, req, pending, match.Index)
	case clarification.Cancelled:
		return routing.Cancel(pending), nil
	case clarification.Reminder:
		return routing.Remind(pending), nil
	default:
		return s.deps.Router.Route(ctx, req)
	}
}

func (s *Service) audit(ctx context.Context, sessionID, userID, messageID string, reply compose.Reply, elapsed time.Duration) {
	if s.deps.Auditor == nil {
		return
	}
	event := monitoring.RouteEvent{
		SessionID:         sessionID,
		UserID:            userID,
		MessageID:         messageID,
		Route:             reply.Meta.Route,
		Intent:            string(reply.Meta.Intent),
		Status:            string(reply.Status),
		ScopeReason:       reply.Meta.ScopeReason,
		FallbackMode:      reply.Meta.FallbackMode,
		CityID:            reply.Meta.CityID,
		AggregationSource: reply.Meta.AggregationSource,
		RefusalReason:     string(reply.Meta.RefusalReason),
		CitationCount:     len(reply.Citations),
		LatencyMs:         elapsed.Milliseconds(),
	}
	if err := s.deps.Auditor.Record(ctx, event); err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("Failed to record route audit event")
	}
}

// ListMessages returns a session's messages after checking ownership.
func (s *Service) ListMessages(ctx context.Context, sessionID, userID string) ([]*storage.ChatMessage, error) {
	if _, err := s.ownedSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.deps.Sessions.ListMessages(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *Service) ownedSession(ctx context.Context, sessionID, userID string) (*storage.ChatSession, error) {
	session, err := s.deps.Sessions.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
