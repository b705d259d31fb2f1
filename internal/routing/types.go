// Package routing maps a classified question to the cheapest verifiable
// data path and drafts the reply.
package routing

import (
	"context"
	"errors"

	"github.com/openaip/budget-chat/internal/embedding"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/pipeline"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

// ErrCollaborator marks failures of the embedding or answer-generation
// collaborators on the semantic path.
var ErrCollaborator = errors.New("collaborator failure")

// Route names recorded in logs and metadata.
const (
	RouteSQLTotals     = "sql_totals"
	RouteAggregateSQL  = "aggregate_sql"
	RouteLineItem      = "line_item"
	RouteSemantic      = "semantic_pipeline"
	RouteGuard         = "guard"
	RouteClarification = "clarification"
)

// AIPReader reads published AIPs and their printed totals.
type AIPReader interface {
	FindPublished(ctx context.Context, scopeType storage.ScopeType, scopeID string, fiscalYear *int) (*storage.AIP, error)
	GetTotal(ctx context.Context, aipID string) (*storage.AipTotal, error)
}

// LineItemReader reads line items directly.
type LineItemReader interface {
	GetByID(ctx context.Context, id string) (*storage.LineItem, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*storage.LineItem, error)
	FindByRefCode(ctx context.Context, refCode string, filter storage.LineItemFilter) ([]*storage.LineItem, error)
	SearchByTitle(ctx context.Context, phrase string, filter storage.LineItemFilter, limit int) ([]*storage.LineItem, error)
	SumByAIP(ctx context.Context, aipID string) (float64, int, error)
	TopByAIPs(ctx context.Context, aipIDs []string, limit int) ([]storage.TopProject, error)
	TotalsBySectorForAIPs(ctx context.Context, aipIDs []string) ([]storage.GroupTotal, error)
	TotalsByFundSourceForAIPs(ctx context.Context, aipIDs []string) ([]storage.GroupTotal, error)
}

// AggregateRPC is the stored-function surface.
type AggregateRPC interface {
	TopProjects(ctx context.Context, limit, fiscalYear int, barangayID *string) ([]storage.TopProject, error)
	TopProjectsForBarangays(ctx context.Context, limit, fiscalYear int, barangayIDs []string) ([]storage.TopProject, error)
	TotalsBySector(ctx context.Context, fiscalYear int, barangayID *string) ([]storage.GroupTotal, error)
	TotalsBySectorForBarangays(ctx context.Context, fiscalYear int, barangayIDs []string) ([]storage.GroupTotal, error)
	TotalsByFundSource(ctx context.Context, fiscalYear int, barangayID *string) ([]storage.GroupTotal, error)
	TotalsByFundSourceForBarangays(ctx context.Context, fiscalYear int, barangayIDs []string) ([]storage.GroupTotal, error)
	CompareFiscalYearTotals(ctx context.Context, yearA, yearB int, barangayID *string) (*storage.YearComparison, error)
	CompareFiscalYearTotalsForBarangays(ctx context.Context, yearA, yearB int, barangayIDs []string) (*storage.YearComparison, error)
	MatchLineItems(ctx context.Context, p storage.MatchParams) ([]storage.LineItemMatch, error)
}

var (
	_ AIPReader      = (*storage.AIPRepository)(nil)
	_ LineItemReader = (*storage.LineItemRepository)(nil)
	_ AggregateRPC   = (*storage.RPCRepository)(nil)
)

// Config tunes routing.
type Config struct {
	DefaultTopLimit     int
	MaxTopLimit         int
	MatchCount          int
	MinMatchSimilarity  float64
	ClarifyDistanceGap  float64
	MaxClarifyOptions   int
	CoverageConcurrency int
	PipelineTopK        int
	PipelineMinSim      float64
}

// DefaultConfig returns routing defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTopLimit:     intent.DefaultLimit,
		MaxTopLimit:         intent.MaxLimit,
		MatchCount:          20,
		ClarifyDistanceGap:  0.05,
		MaxClarifyOptions:   3,
		CoverageConcurrency: 8,
		PipelineTopK:        8,
		PipelineMinSim:      0.3,
	}
}

// Fallback pins a scope expansion chosen in a clarification turn.
type Fallback struct {
	Mode     string
	CityID   string
	CityName string
}

// Request is one question ready for routing.
type Request struct {
	Question  string
	Intent    intent.Result
	Scope     scope.Resolution
	Directory *scope.Directory
	Account   scope.Account
	Fallback  *Fallback
}

// Deps are the router's collaborators.
type Deps struct {
	AIPs      AIPReader
	LineItems LineItemReader
	RPC       AggregateRPC
	Embedder  embedding.Embedder
	Answerer  pipeline.Answerer
}
