package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openaip/budget-chat/internal/embedding"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/pipeline"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	name string
	args []interface{}
}

// fakeStore serves AIPReader, LineItemReader and AggregateRPC from memory
// and records every data call except AIP lookups.
type fakeStore struct {
	aips    []*storage.AIP
	totals  map[string]*storage.AipTotal
	items   []*storage.LineItem
	matches []storage.LineItemMatch
	top     []storage.TopProject
	groups  []storage.GroupTotal
	cmp     *storage.YearComparison

	mu    sync.Mutex
	calls []call
}

func (s *fakeStore) record(name string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{name: name, args: args})
}

func (s *fakeStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.name)
	}
	return out
}

func (s *fakeStore) lastCall(name string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].name == name {
			c := s.calls[i]
			return &c
		}
	}
	return nil
}

func ownerID(aip *storage.AIP, scopeType storage.ScopeType) *string {
	switch scopeType {
	case storage.ScopeCity:
		return aip.CityID
	case storage.ScopeMunicipality:
		return aip.MunicipalityID
	default:
		return aip.BarangayID
	}
}

func (s *fakeStore) FindPublished(_ context.Context, scopeType storage.ScopeType, scopeID string, fiscalYear *int) (*storage.AIP, error) {
	var found []*storage.AIP
	for _, aip := range s.aips {
		owner := ownerID(aip, scopeType)
		if owner == nil || *owner != scopeID {
			continue
		}
		if fiscalYear != nil && aip.FiscalYear != *fiscalYear {
			continue
		}
		found = append(found, aip)
	}
	if len(found) == 0 {
		return nil, storage.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].FiscalYear > found[j].FiscalYear })
	return found[0], nil
}

func (s *fakeStore) GetTotal(_ context.Context, aipID string) (*storage.AipTotal, error) {
	if t, ok := s.totals[aipID]; ok {
		return t, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*storage.LineItem, error) {
	s.record("get_line_item", id)
	for _, it := range s.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) GetByIDs(_ context.Context, ids []string) (map[string]*storage.LineItem, error) {
	s.record("get_line_items", ids)
	out := make(map[string]*storage.LineItem, len(ids))
	for _, id := range ids {
		for _, it := range s.items {
			if it.ID == id {
				out[id] = it
			}
		}
	}
	return out, nil
}

func matchesFilter(it *storage.LineItem, f storage.LineItemFilter) bool {
	if f.FiscalYear != nil && it.FiscalYear != *f.FiscalYear {
		return false
	}
	if f.BarangayID != nil && (it.BarangayID == nil || *it.BarangayID != *f.BarangayID) {
		return false
	}
	return true
}

func (s *fakeStore) FindByRefCode(_ context.Context, refCode string, filter storage.LineItemFilter) ([]*storage.LineItem, error) {
	s.record("find_by_ref_code", refCode, filter)
	var out []*storage.LineItem
	for _, it := range s.items {
		if it.AipRefCode != nil && strings.EqualFold(*it.AipRefCode, refCode) && matchesFilter(it, filter) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeStore) SearchByTitle(_ context.Context, phrase string, filter storage.LineItemFilter, limit int) ([]*storage.LineItem, error) {
	s.record("search_by_title", phrase, filter)
	var out []*storage.LineItem
	for _, it := range s.items {
		if strings.Contains(strings.ToLower(it.ProgramProjectTitle), strings.ToLower(phrase)) && matchesFilter(it, filter) {
			out = append(out, it)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SumByAIP(_ context.Context, aipID string) (float64, int, error) {
	s.record("sum_by_aip", aipID)
	var sum float64
	count := 0
	for _, it := range s.items {
		if it.AipID == aipID && it.Total != nil {
			sum += *it.Total
			count++
		}
	}
	return sum, count, nil
}

func (s *fakeStore) TopByAIPs(_ context.Context, aipIDs []string, limit int) ([]storage.TopProject, error) {
	s.record("top_by_aips", aipIDs, limit)
	return s.top, nil
}

func (s *fakeStore) TotalsBySectorForAIPs(_ context.Context, aipIDs []string) ([]storage.GroupTotal, error) {
	s.record("totals_by_sector_for_aips", aipIDs)
	return s.groups, nil
}

func (s *fakeStore) TotalsByFundSourceForAIPs(_ context.Context, aipIDs []string) ([]storage.GroupTotal, error) {
	s.record("totals_by_fund_source_for_aips", aipIDs)
	return s.groups, nil
}

func (s *fakeStore) TopProjects(_ context.Context, limit, fiscalYear int, barangayID *string) ([]storage.TopProject, error) {
	s.record("get_top_projects", limit, fiscalYear, barangayID)
	return s.top, nil
}

func (s *fakeStore) TopProjectsForBarangays(_ context.Context, limit, fiscalYear int, barangayIDs []string) ([]storage.TopProject, error) {
	s.record("get_top_projects_for_barangays", limit, fiscalYear, barangayIDs)
	return s.top, nil
}

func (s *fakeStore) TotalsBySector(_ context.Context, fiscalYear int, barangayID *string) ([]storage.GroupTotal, error) {
	s.record("get_totals_by_sector", fiscalYear, barangayID)
	return s.groups, nil
}

func (s *fakeStore) TotalsBySectorForBarangays(_ context.Context, fiscalYear int, barangayIDs []string) ([]storage.GroupTotal, error) {
	s.record("get_totals_by_sector_for_barangays", fiscalYear, barangayIDs)
	return s.groups, nil
}

func (s *fakeStore) TotalsByFundSource(_ context.Context, fiscalYear int, barangayID *string) ([]storage.GroupTotal, error) {
	s.record("get_totals_by_fund_source", fiscalYear, barangayID)
	return s.groups, nil
}

func (s *fakeStore) TotalsByFundSourceForBarangays(_ context.Context, fiscalYear int, barangayIDs []string) ([]storage.GroupTotal, error) {
	s.record("get_totals_by_fund_source_for_barangays", fiscalYear, barangayIDs)
	return s.groups, nil
}

func (s *fakeStore) CompareFiscalYearTotals(_ context.Context, yearA, yearB int, barangayID *string) (*storage.YearComparison, error) {
	s.record("compare_fiscal_year_totals", yearA, yearB, barangayID)
	return s.cmp, nil
}

func (s *fakeStore) CompareFiscalYearTotalsForBarangays(_ context.Context, yearA, yearB int, barangayIDs []string) (*storage.YearComparison, error) {
	s.record("compare_fiscal_year_totals_for_barangays", yearA, yearB, barangayIDs)
	return s.cmp, nil
}

func (s *fakeStore) MatchLineItems(_ context.Context, p storage.MatchParams) ([]storage.LineItemMatch, error) {
	s.record("match_aip_line_items", p)
	return s.matches, nil
}

type fakeAnswerer struct {
	answer   *pipeline.Answer
	err      error
	requests []pipeline.AnswerRequest
}

func (a *fakeAnswerer) Answer(_ context.Context, req pipeline.AnswerRequest) (*pipeline.Answer, error) {
	a.requests = append(a.requests, req)
	if a.err != nil {
		return nil, a.err
	}
	return a.answer, nil
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedQuery(context.Context, string) (*embedding.QueryEmbedding, error) {
	return nil, errors.New("connection refused")
}

func ptr[T any](v T) *T { return &v }

func testDirectory() *scope.Directory {
	return &scope.Directory{
		Barangays: []storage.LGU{
			{ID: "b-pulo", Name: "Pulo", Type: storage.ScopeBarangay, CityID: ptr("city-cab")},
			{ID: "b-banlic", Name: "Banlic", Type: storage.ScopeBarangay, CityID: ptr("city-cab")},
			{ID: "b-mamatid", Name: "Mamatid", Type: storage.ScopeBarangay, CityID: ptr("city-cab")},
			{ID: "b-dila", Name: "Dila", Type: storage.ScopeBarangay, CityID: ptr("city-sta")},
		},
		Cities: []storage.LGU{
			{ID: "city-cab", Name: "Cabuyao City", Type: storage.ScopeCity},
			{ID: "city-sta", Name: "Santa Rosa City", Type: storage.ScopeCity},
		},
	}
}

func testStore() *fakeStore {
	return &fakeStore{
		aips: []*storage.AIP{
			{ID: "aip-pulo-2026", Status: storage.AIPStatusPublished, FiscalYear: 2026, BarangayID: ptr("b-pulo")},
			{ID: "aip-banlic-2025", Status: storage.AIPStatusPublished, FiscalYear: 2025, BarangayID: ptr("b-banlic")},
			{ID: "aip-banlic-2026", Status: storage.AIPStatusPublished, FiscalYear: 2026, BarangayID: ptr("b-banlic")},
			{ID: "aip-sta-2026", Status: storage.AIPStatusPublished, FiscalYear: 2026, CityID: ptr("city-sta")},
		},
		totals: map[string]*storage.AipTotal{
			"aip-pulo-2026": {
				AipID:                  "aip-pulo-2026",
				SourceLabel:            storage.SourceLabelTotalInvestmentProgram,
				TotalInvestmentProgram: 5000000,
				PageNo:                 ptr(3),
				EvidenceText:           "TOTAL INVESTMENT PROGRAM 5,000,000.00",
			},
			"aip-banlic-2025": {
				AipID:                  "aip-banlic-2025",
				SourceLabel:            storage.SourceLabelTotalInvestmentProgram,
				TotalInvestmentProgram: 2000000,
			},
		},
		items: []*storage.LineItem{
			{
				ID: "li-road", AipID: "aip-banlic-2026", FiscalYear: 2026, BarangayID: ptr("b-banlic"),
				AipRefCode: ptr("1000-001-000-001"), ProgramProjectTitle: "Road Concreting",
				FundSource: ptr("General Fund"), StartDate: ptr("2026-01"), EndDate: ptr("2026-06"),
				Total: ptr(1000000.0),
			},
			{
				ID: "li-drain", AipID: "aip-banlic-2026", FiscalYear: 2026, BarangayID: ptr("b-banlic"),
				AipRefCode: ptr("1000-002-000-001"), ProgramProjectTitle: "Construction of Drainage System",
				Total: ptr(300000.0),
			},
			{
				ID: "li-canal", AipID: "aip-banlic-2026", FiscalYear: 2026, BarangayID: ptr("b-banlic"),
				AipRefCode: ptr("1000-003-000-001"), ProgramProjectTitle: "Canal Rehabilitation",
				FundSource: ptr("20% Development Fund"), Total: ptr(200000.0),
			},
			{
				ID: "li-pulo-road", AipID: "aip-pulo-2026", FiscalYear: 2026, BarangayID: ptr("b-pulo"),
				AipRefCode: ptr("3000-001-000-001"), ProgramProjectTitle: "Road Concreting",
				Total: ptr(750000.0),
			},
		},
		top: []storage.TopProject{
			{LineItemID: "li-road", AipID: "aip-banlic-2026", FiscalYear: 2026, BarangayID: ptr("b-banlic"),
				AipRefCode: ptr("1000-001-000-001"), ProgramProjectTitle: "Road Concreting", Total: ptr(1000000.0)},
			{LineItemID: "li-pulo-road", AipID: "aip-pulo-2026", FiscalYear: 2026, BarangayID: ptr("b-pulo"),
				ProgramProjectTitle: "Road Concreting", Total: ptr(750000.0)},
		},
		groups: []storage.GroupTotal{
			{Key: "1000", Label: "General Public Services", Total: 1200000, Count: 2},
			{Key: "3000", Label: "Social Services", Total: 750000, Count: 1},
		},
		cmp: &storage.YearComparison{YearA: 2025, YearATotal: 2000000, YearB: 2026, YearBTotal: 1500000, Difference: -500000},
	}
}

type harness struct {
	store    *fakeStore
	embedder *embedding.MockClient
	answerer *fakeAnswerer
	router   *Router
	dir      *scope.Directory
	logs     *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    testStore(),
		embedder: embedding.NewMockClient(8),
		answerer: &fakeAnswerer{},
		dir:      testDirectory(),
		logs:     &bytes.Buffer{},
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: h.logs})
	h.router = NewRouter(Deps{
		AIPs:      h.store,
		LineItems: h.store,
		RPC:       h.store,
		Embedder:  h.embedder,
		Answerer:  h.answerer,
	}, DefaultConfig(), logger)
	return h
}

func (h *harness) request(question string, account scope.Account) Request {
	return Request{
		Question:  question,
		Intent:    intent.Classify(question),
		Scope:     scope.Resolve(question, account, h.dir),
		Directory: h.dir,
		Account:   account,
	}
}

// routeLogs returns the "Route decision" log entries in order.
func (h *harness) routeLogs(t *testing.T) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(h.logs.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "Route decision" {
			out = append(out, entry)
		}
	}
	return out
}
