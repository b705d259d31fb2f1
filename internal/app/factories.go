// Package app wires the budget chat stack from configuration. The API server
// and the operator CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openaip/budget-chat/internal/cache"
	"github.com/openaip/budget-chat/internal/chat"
	"github.com/openaip/budget-chat/internal/config"
	"github.com/openaip/budget-chat/internal/embedding"
	"github.com/openaip/budget-chat/internal/monitoring"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/pipeline"
	"github.com/openaip/budget-chat/internal/quota"
	"github.com/openaip/budget-chat/internal/routing"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

// ErrAnswererUnavailable is returned on the semantic path when the answer
// pipeline is not configured.
var ErrAnswererUnavailable = errors.New("answer pipeline is not configured")

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	DB        *sql.DB
	Store     *storage.Store
	Cache     cache.Client
	Directory *scope.DirectoryLoader
	Router    *routing.Router
	Quota     quota.Limiter
	Auditor   *monitoring.RouteAuditor
	Chat      *chat.Service

	closers []func() error
}

// New opens the database and cache and builds the routing and chat services.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	db, err := storage.Open(ctx, cfg.Database.DSN, storage.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, DB: db}
	a.closers = append(a.closers, db.Close)

	if err := a.build(cfg, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, logger *observability.Logger) error {
	a.Store = storage.NewStore(a.DB)

	var publisher cache.Publisher
	var counter cache.Counter
	switch cfg.Cache.Driver {
	case "redis":
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.Cache, publisher, counter = rc, rc, rc
		a.closers = append(a.closers, rc.Close)
	default:
		mc := cache.NewMemoryClient(cfg.Cache.MaxEntries)
		a.Cache, counter = mc, mc
		a.closers = append(a.closers, mc.Close)
	}

	a.Directory = scope.NewDirectoryLoader(a.Store.Directory, a.Cache, cfg.Cache.DirectoryTTL, logger)

	limiter, err := newLimiter(cfg.Quota, a.Store.RPC, counter)
	if err != nil {
		return err
	}
	a.Quota = limiter

	a.Router = routing.NewRouter(routing.Deps{
		AIPs:      a.Store.AIPs,
		LineItems: a.Store.LineItems,
		RPC:       a.Store.RPC,
		Embedder:  newEmbedder(cfg.Embedding, logger),
		Answerer:  newAnswerer(cfg.Pipeline, logger),
	}, RoutingConfig(cfg.Router), logger)

	auditCfg := monitoring.DefaultAuditConfig()
	auditCfg.Channel = cfg.Observability.AuditChannel
	a.Auditor = monitoring.NewRouteAuditor(logger, publisher, auditCfg)
	a.closers = append(a.closers, func() error {
		a.Auditor.Stop()
		return nil
	})

	a.Chat = chat.NewService(chat.Deps{
		Sessions:  a.Store.Sessions,
		Directory: a.Directory,
		Router:    a.Router,
		Quota:     a.Quota,
		Auditor:   a.Auditor,
	}, chat.Config{MaxMessageLength: cfg.Router.MaxMessageLength}, logger)

	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Ping checks database connectivity.
func (a *App) Ping(ctx context.Context) error {
	return a.DB.PingContext(ctx)
}

// RoutingConfig maps router settings onto routing.Config.
func RoutingConfig(rc config.RouterConfig) routing.Config {
	cfg := routing.DefaultConfig()
	cfg.DefaultTopLimit = rc.DefaultTopLimit
	cfg.MaxTopLimit = rc.MaxTopLimit
	cfg.MatchCount = rc.MatchCount
	cfg.MinMatchSimilarity = rc.MinMatchSimilarity
	cfg.ClarifyDistanceGap = rc.ClarifyDistanceGap
	cfg.MaxClarifyOptions = rc.MaxClarifyOptions
	cfg.CoverageConcurrency = rc.CoverageConcurrency
	return cfg
}

func newLimiter(qc config.QuotaConfig, rpc quota.QuotaRPC, counter cache.Counter) (quota.Limiter, error) {
	limits := quota.Limits{PerMinute: qc.PerMinute, PerDay: qc.PerDay, Route: qc.Route}
	switch qc.Driver {
	case "sql":
		return quota.NewSQLLimiter(rpc, limits), nil
	case "redis":
		if counter == nil {
			return nil, fmt.Errorf("quota driver redis requires the redis cache driver")
		}
		return quota.NewRedisLimiter(counter, limits), nil
	case "none":
		return quota.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown quota driver: %s", qc.Driver)
	}
}

func newEmbedder(ec config.EmbeddingConfig, logger *observability.Logger) embedding.Embedder {
	if ec.Driver == "mock" {
		return embedding.NewMockClient(ec.Dimension)
	}
	client, err := embedding.NewClient(embedding.Config{
		BaseURL: ec.BaseURL,
		Token:   ec.Token,
		Timeout: ec.Timeout,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Embedding client not configured, using mock embeddings")
		return embedding.NewMockClient(ec.Dimension)
	}
	return client
}

func newAnswerer(pc config.PipelineConfig, logger *observability.Logger) pipeline.Answerer {
	client, err := pipeline.NewClient(pipeline.Config{
		BaseURL: pc.BaseURL,
		Token:   pc.Token,
		Timeout: pc.Timeout,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Answer pipeline not configured, semantic questions will fail")
		return unavailableAnswerer{}
	}
	return client
}

type unavailableAnswerer struct{}

func (unavailableAnswerer) Answer(context.Context, pipeline.AnswerRequest) (*pipeline.Answer, error) {
	return nil, ErrAnswererUnavailable
}
