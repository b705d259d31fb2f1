package monitoring

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	events   []*RouteEvent
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.events = append(p.events, message.(*RouteEvent))
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestRecord_Sync(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Output: &buf})
	pub := &fakePublisher{}

	a := NewRouteAuditor(logger, pub, AuditConfig{Channel: "audit", EnableAsync: false})
	defer a.Stop()

	err := a.Record(context.Background(), RouteEvent{
		SessionID:         "s-1",
		Route:             "aggregate_sql",
		Status:            "answer",
		AggregationSource: "aip_line_items",
	})
	require.NoError(t, err)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, "audit", pub.channels[0])
	ev := pub.events[0]
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.False(t, ev.OccurredAt.IsZero())
	assert.Equal(t, "aggregate_sql", ev.Route)

	assert.Contains(t, buf.String(), `"message":"Route audit event"`)
	assert.Contains(t, buf.String(), `"route":"aggregate_sql"`)
}

func TestRecord_SyncPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	a := NewRouteAuditor(nil, pub, AuditConfig{EnableAsync: false})
	defer a.Stop()

	err := a.Record(context.Background(), RouteEvent{Route: "sql_totals"})
	require.Error(t, err)
}

func TestRecord_NilPublisherLogsOnly(t *testing.T) {
	a := NewRouteAuditor(nil, nil, DefaultAuditConfig())
	defer a.Stop()

	require.NoError(t, a.Record(context.Background(), RouteEvent{Route: "row_sum"}))
}

func TestRecord_AsyncFlushOnStop(t *testing.T) {
	pub := &fakePublisher{}
	a := NewRouteAuditor(nil, pub, AuditConfig{
		Channel:       "audit",
		BufferSize:    10,
		FlushInterval: time.Hour,
		EnableAsync:   true,
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(context.Background(), RouteEvent{Route: "aggregate_sql"}))
	}
	a.Stop()

	assert.Equal(t, 5, pub.count())

	// Records after Stop are published directly.
	require.NoError(t, a.Record(context.Background(), RouteEvent{Route: "pipeline_fallback"}))
	assert.Equal(t, 6, pub.count())
}

func TestRecord_AsyncFlushOnTick(t *testing.T) {
	pub := &fakePublisher{}
	a := NewRouteAuditor(nil, pub, AuditConfig{
		BufferSize:    10,
		FlushInterval: 10 * time.Millisecond,
		EnableAsync:   true,
	})
	defer a.Stop()

	require.NoError(t, a.Record(context.Background(), RouteEvent{Route: "sql_totals"}))

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	a := NewRouteAuditor(nil, &fakePublisher{}, DefaultAuditConfig())
	a.Stop()
	a.Stop()
}

func TestRecord_ConcurrentWithStopLosesNothing(t *testing.T) {
	for round := 0; round < 20; round++ {
		pub := &fakePublisher{}
		a := NewRouteAuditor(nil, pub, AuditConfig{
			BufferSize:    64,
			FlushInterval: time.Hour,
			EnableAsync:   true,
		})

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					assert.NoError(t, a.Record(context.Background(), RouteEvent{Route: "aggregate_sql"}))
				}
			}()
		}
		a.Stop()
		wg.Wait()

		require.Equal(t, 200, pub.count(), "round %d", round)
	}
}
