package routing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

// Router selects a data path per question. It holds no per-session state.
type Router struct {
	deps   Deps
	cfg    Config
	logger *observability.Logger
	tracer trace.Tracer
}

// NewRouter creates a Router.
func NewRouter(deps Deps, cfg Config, logger *observability.Logger) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	def := DefaultConfig()
	if cfg.DefaultTopLimit <= 0 {
		cfg.DefaultTopLimit = def.DefaultTopLimit
	}
	if cfg.MaxTopLimit <= 0 {
		cfg.MaxTopLimit = def.MaxTopLimit
	}
	if cfg.MatchCount <= 0 {
		cfg.MatchCount = def.MatchCount
	}
	if cfg.ClarifyDistanceGap <= 0 {
		cfg.ClarifyDistanceGap = def.ClarifyDistanceGap
	}
	if cfg.MaxClarifyOptions <= 0 {
		cfg.MaxClarifyOptions = def.MaxClarifyOptions
	}
	if cfg.CoverageConcurrency <= 0 {
		cfg.CoverageConcurrency = def.CoverageConcurrency
	}
	if cfg.PipelineTopK <= 0 {
		cfg.PipelineTopK = def.PipelineTopK
	}
	if cfg.PipelineMinSim <= 0 {
		cfg.PipelineMinSim = def.PipelineMinSim
	}

	return &Router{
		deps:   deps,
		cfg:    cfg,
		logger: logger.WithOperation("routing"),
		tracer: observability.Tracer("routing"),
	}
}

// Route answers one classified question.
func (r *Router) Route(ctx context.Context, req Request) (compose.Draft, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, r.tracer, "routing.Route",
		"intent", string(req.Intent.Intent),
		"scope_reason", string(req.Scope.Reason),
	)
	defer span.End()

	if req.Directory == nil {
		req.Directory = &scope.Directory{}
	}

	res := req.Intent
	if field := res.LineItem.DocLimit; field != "" {
		return r.finish(ctx, req, RouteGuard, compose.DocumentLimitation(field), start), nil
	}

	if req.Fallback == nil {
		res = intent.Refine(res, targetNames(req.Scope.ExplicitTargets()))
		req.Intent = res
	}

	if res.Intent == intent.Semantic && intent.HasUnsupportedCue(req.Question) {
		return r.finish(ctx, req, RouteGuard, compose.UnsupportedRequest(), start), nil
	}

	if req.Fallback == nil && req.Scope.HasUnmatchedMentions() {
		return r.finish(ctx, req, RouteGuard, compose.AmbiguousScope(req.Scope.UnmatchedMentions()...), start), nil
	}

	route, err := RouteTotals(ctx, res.Intent,
		func(ctx context.Context) (compose.Draft, error) { return r.routeTotals(ctx, req) },
		func(ctx context.Context) (compose.Draft, error) { return r.routeNormal(ctx, req) },
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.WithContext(ctx).Error().Err(err).
			Str("intent", string(res.Intent)).
			Str("path", string(route.Path)).
			Msg("Routing failed")
		return compose.Draft{}, err
	}

	name := RouteAggregateSQL
	if route.Path == PathTotals {
		name = RouteSQLTotals
	}
	return r.finish(ctx, req, name, route.Value, start), nil
}

func (r *Router) routeNormal(ctx context.Context, req Request) (compose.Draft, error) {
	switch req.Intent.Intent {
	case intent.TopProjects, intent.TotalsBySector, intent.TotalsByFundSource, intent.CompareYears:
		return r.routeAggregate(ctx, req)
	case intent.RefLookup, intent.FactLookup:
		return r.routeLineItem(ctx, req)
	default:
		return r.routeSemantic(ctx, req)
	}
}

// finish stamps routing metadata on the draft and logs the decision.
func (r *Router) finish(ctx context.Context, req Request, route string, d compose.Draft, start time.Time) compose.Draft {
	if d.Meta.Route == "" {
		d.Meta.Route = route
	}
	d.Meta.Intent = req.Intent.Intent
	if d.Meta.ScopeReason == "" {
		d.Meta.ScopeReason = string(req.Scope.Reason)
	}
	resolution := req.Scope
	d.Meta.ScopeResolution = &resolution
	d.Meta.LatencyMs = time.Since(start).Milliseconds()

	status := d.Status
	if status == "" {
		status = compose.StatusAnswer
	}

	ev := r.logger.WithContext(ctx).Info().
		Str("route", d.Meta.Route).
		Str("intent", string(d.Meta.Intent)).
		Str("scope_reason", d.Meta.ScopeReason).
		Str("status", string(status))
	if d.Meta.FallbackMode != "" {
		ev = ev.Str("fallback_mode", d.Meta.FallbackMode)
	}
	if d.Meta.CityID != "" {
		ev = ev.Str("city_id", d.Meta.CityID)
	}
	if d.Meta.AggregationSource != "" {
		ev = ev.Str("aggregation_source", d.Meta.AggregationSource)
	}
	if d.Meta.RefusalReason != "" {
		ev = ev.Str("refusal_reason", string(d.Meta.RefusalReason))
	}
	ev.Msg("Route decision")

	return d
}

func targetNames(targets []scope.Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.ScopeName)
	}
	return out
}

func barangayIDs(targets []scope.Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.ScopeType == storage.ScopeBarangay {
			out = append(out, t.ScopeID)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }
