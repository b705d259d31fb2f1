// Package monitoring provides route audit events for chat messages.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openaip/budget-chat/internal/cache"
	"github.com/openaip/budget-chat/internal/observability"
)

// RouteAuditor logs and publishes one event per routed chat message.
type RouteAuditor struct {
	logger    *observability.Logger
	publisher cache.Publisher
	config    AuditConfig
	buffer    chan *RouteEvent
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	// mu orders enqueues before the close of stopCh so the drain sees them.
	mu sync.RWMutex
}

// AuditConfig configures the route auditor.
type AuditConfig struct {
	Channel       string
	BufferSize    int
	FlushInterval time.Duration
	EnableAsync   bool
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Channel:       "chat.route_audit",
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		EnableAsync:   true,
	}
}

// RouteEvent describes how a single message was answered.
type RouteEvent struct {
	ID                uuid.UUID `json:"id"`
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	MessageID         string    `json:"message_id,omitempty"`
	Route             string    `json:"route"`
	Intent            string    `json:"intent,omitempty"`
	Status            string    `json:"status"`
	ScopeReason       string    `json:"scope_reason,omitempty"`
	FallbackMode      string    `json:"fallback_mode,omitempty"`
	CityID            string    `json:"city_id,omitempty"`
	AggregationSource string    `json:"aggregation_source,omitempty"`
	RefusalReason     string    `json:"refusal_reason,omitempty"`
	CitationCount     int       `json:"citation_count"`
	LatencyMs         int64     `json:"latency_ms"`
	OccurredAt        time.Time `json:"occurred_at"`
}

const maxBatch = 100

// NewRouteAuditor creates a route auditor. A nil publisher logs only.
func NewRouteAuditor(logger *observability.Logger, publisher cache.Publisher, config AuditConfig) *RouteAuditor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.Channel == "" {
		config.Channel = "chat.route_audit"
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	a := &RouteAuditor{
		logger:    logger,
		publisher: publisher,
		config:    config,
		buffer:    make(chan *RouteEvent, config.BufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	if config.EnableAsync {
		go a.runFlushLoop()
	} else {
		close(a.done)
	}

	return a
}

// Record logs the event and publishes it, directly or through the buffer.
func (a *RouteAuditor) Record(ctx context.Context, event RouteEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	a.logger.WithContext(ctx).Info().
		Str("event_id", event.ID.String()).
		Str("session_id", event.SessionID).
		Str("route", event.Route).
		Str("intent", event.Intent).
		Str("status", event.Status).
		Str("scope_reason", event.ScopeReason).
		Str("fallback_mode", event.FallbackMode).
		Str("aggregation_source", event.AggregationSource).
		Int("citation_count", event.CitationCount).
		Int64("latency_ms", event.LatencyMs).
		Msg("Route audit event")

	if a.publisher == nil {
		return nil
	}

	if a.config.EnableAsync && a.enqueue(&event) {
		return nil
	}
	return a.publish(ctx, &event)
}

// enqueue buffers the event unless the auditor is stopped or the buffer is full.
func (a *RouteAuditor) enqueue(event *RouteEvent) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.stopped() {
		return false
	}
	select {
	case a.buffer <- event:
		return true
	default:
		a.logger.Warn().Msg("Audit buffer full, publishing synchronously")
		return false
	}
}

func (a *RouteAuditor) stopped() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

func (a *RouteAuditor) publish(ctx context.Context, event *RouteEvent) error {
	return a.publisher.Publish(ctx, a.config.Channel, event)
}

func (a *RouteAuditor) runFlushLoop() {
	defer close(a.done)

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	var batch []*RouteEvent

	for {
		select {
		case event := <-a.buffer:
			batch = append(batch, event)
			if len(batch) >= maxBatch {
				a.flushBatch(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flushBatch(batch)
				batch = nil
			}
		case <-a.stopCh:
			for {
				select {
				case event := <-a.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						a.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

func (a *RouteAuditor) flushBatch(batch []*RouteEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := 0
	for _, event := range batch {
		if err := a.publish(ctx, event); err != nil {
			failed++
			a.logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to publish audit event")
		}
	}
	a.logger.Debug().Int("count", len(batch)).Int("failed", failed).Msg("Flushed audit batch")
}

// Stop drains buffered events and waits for the flush loop to exit.
func (a *RouteAuditor) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		close(a.stopCh)
		a.mu.Unlock()
	})
	<-a.done
}
