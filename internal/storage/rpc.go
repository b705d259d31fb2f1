package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// RPCRepository calls the aggregation and retrieval functions installed by the schema migration.
type RPCRepository struct {
	db DB
}

// NewRPCRepository creates a new RPC repository.
func NewRPCRepository(db DB) *RPCRepository {
	return &RPCRepository{db: db}
}

// MatchParams are the arguments of match_aip_line_items.
type MatchParams struct {
	Embedding     []float32
	MatchCount    int
	MinSimilarity float64
	FiscalYear    *int
	BarangayID    *string
	BarangayIDs   []string
}

const topProjectColumns = `line_item_id, aip_id, fiscal_year, barangay_id, aip_ref_code, program_project_title,
	fund_source, sector_name, total, page_no, row_no, table_no`

// TopProjects calls get_top_projects.
func (r *RPCRepository) TopProjects(ctx context.Context, limit, fiscalYear int, barangayID *string) ([]TopProject, error) {
	query := `SELECT ` + topProjectColumns + ` FROM get_top_projects($1, $2, $3::uuid)`
	rows, err := r.db.QueryContext(ctx, query, limit, fiscalYear, nullableString(barangayID))
	if err != nil {
		return nil, fmt.Errorf("get_top_projects: %w", err)
	}
	defer rows.Close()
	return scanTopProjects(rows)
}

// TopProjectsForBarangays calls get_top_projects_for_barangays.
func (r *RPCRepository) TopProjectsForBarangays(ctx context.Context, limit, fiscalYear int, barangayIDs []string) ([]TopProject, error) {
	query := `SELECT ` + topProjectColumns + ` FROM get_top_projects_for_barangays($1, $2, $3::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, limit, fiscalYear, pq.Array(barangayIDs))
	if err != nil {
		return nil, fmt.Errorf("get_top_projects_for_barangays: %w", err)
	}
	defer rows.Close()
	return scanTopProjects(rows)
}

// TotalsBySector calls get_totals_by_sector.
func (r *RPCRepository) TotalsBySector(ctx context.Context, fiscalYear int, barangayID *string) ([]GroupTotal, error) {
	query := `SELECT sector_code, sector_name, sector_total, item_count FROM get_totals_by_sector($1, $2::uuid)`
	return r.queryGroups(ctx, "get_totals_by_sector", query, fiscalYear, nullableString(barangayID))
}

// TotalsBySectorForBarangays calls get_totals_by_sector_for_barangays.
func (r *RPCRepository) TotalsBySectorForBarangays(ctx context.Context, fiscalYear int, barangayIDs []string) ([]GroupTotal, error) {
	query := `SELECT sector_code, sector_name, sector_total, item_count FROM get_totals_by_sector_for_barangays($1, $2::uuid[])`
	return r.queryGroups(ctx, "get_totals_by_sector_for_barangays", query, fiscalYear, pq.Array(barangayIDs))
}

// TotalsByFundSource calls get_totals_by_fund_source.
func (r *RPCRepository) TotalsByFundSource(ctx context.Context, fiscalYear int, barangayID *string) ([]GroupTotal, error) {
	query := `SELECT fund_source, fund_source, fund_total, item_count FROM get_totals_by_fund_source($1, $2::uuid)`
	return r.queryGroups(ctx, "get_totals_by_fund_source", query, fiscalYear, nullableString(barangayID))
}

// TotalsByFundSourceForBarangays calls get_totals_by_fund_source_for_barangays.
func (r *RPCRepository) TotalsByFundSourceForBarangays(ctx context.Context, fiscalYear int, barangayIDs []string) ([]GroupTotal, error) {
	query := `SELECT fund_source, fund_source, fund_total, item_count FROM get_totals_by_fund_source_for_barangays($1, $2::uuid[])`
	return r.queryGroups(ctx, "get_totals_by_fund_source_for_barangays", query, fiscalYear, pq.Array(barangayIDs))
}

// CompareFiscalYearTotals calls compare_fiscal_year_totals.
func (r *RPCRepository) CompareFiscalYearTotals(ctx context.Context, yearA, yearB int, barangayID *string) (*YearComparison, error) {
	query := `SELECT year_a_total, year_b_total, difference FROM compare_fiscal_year_totals($1, $2, $3::uuid)`
	return r.compare(ctx, "compare_fiscal_year_totals", query, yearA, yearB, nullableString(barangayID))
}

// CompareFiscalYearTotalsForBarangays calls compare_fiscal_year_totals_for_barangays.
func (r *RPCRepository) CompareFiscalYearTotalsForBarangays(ctx context.Context, yearA, yearB int, barangayIDs []string) (*YearComparison, error) {
	query := `SELECT year_a_total, year_b_total, difference FROM compare_fiscal_year_totals_for_barangays($1, $2, $3::uuid[])`
	return r.compare(ctx, "compare_fiscal_year_totals_for_barangays", query, yearA, yearB, pq.Array(barangayIDs))
}

func (r *RPCRepository) compare(ctx context.Context, name, query string, yearA, yearB int, scope interface{}) (*YearComparison, error) {
	out := &YearComparison{YearA: yearA, YearB: yearB}
	if err := r.db.QueryRowContext(ctx, query, yearA, yearB, scope).Scan(&out.YearATotal, &out.YearBTotal, &out.Difference); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// MatchLineItems calls match_aip_line_items with a pgvector literal.
func (r *RPCRepository) MatchLineItems(ctx context.Context, p MatchParams) ([]LineItemMatch, error) {
	if len(p.Embedding) == 0 {
		return nil, fmt.Errorf("match_aip_line_items: empty embedding")
	}

	var ids interface{}
	if len(p.BarangayIDs) > 0 {
		ids = pq.Array(p.BarangayIDs)
	}

	query := `
		SELECT line_item_id, aip_id, fiscal_year, barangay_id, aip_ref_code, program_project_title,
			page_no, row_no, table_no, distance, score
		FROM match_aip_line_items($1::vector, $2, $3, $4::int, $5::uuid, $6::uuid[])
	`
	rows, err := r.db.QueryContext(ctx, query,
		VectorLiteral(p.Embedding), p.MatchCount, p.MinSimilarity,
		nullableInt(p.FiscalYear), nullableString(p.BarangayID), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("match_aip_line_items: %w", err)
	}
	defer rows.Close()

	var out []LineItemMatch
	for rows.Next() {
		var m LineItemMatch
		if err := rows.Scan(
			&m.LineItemID, &m.AipID, &m.FiscalYear, &m.BarangayID, &m.AipRefCode, &m.ProgramProjectTitle,
			&m.PageNo, &m.RowNo, &m.TableNo, &m.Distance, &m.Score,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ConsumeChatQuota calls consume_chat_quota and reports whether the message may proceed.
func (r *RPCRepository) ConsumeChatQuota(ctx context.Context, userID string, perMinute, perDay int, route string) (*QuotaDecision, error) {
	query := `SELECT allowed, reason FROM consume_chat_quota($1, $2, $3, $4)`
	out := &QuotaDecision{}
	if err := r.db.QueryRowContext(ctx, query, userID, perMinute, perDay, route).Scan(&out.Allowed, &out.Reason); err != nil {
		return nil, fmt.Errorf("consume_chat_quota: %w", err)
	}
	return out, nil
}

func (r *RPCRepository) queryGroups(ctx context.Context, name, query string, args ...interface{}) ([]GroupTotal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()
	return scanGroupTotals(rows)
}

// VectorLiteral renders an embedding in pgvector text form.
func VectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func scanTopProjects(rows *sql.Rows) ([]TopProject, error) {
	var out []TopProject
	for rows.Next() {
		var p TopProject
		if err := rows.Scan(
			&p.LineItemID, &p.AipID, &p.FiscalYear, &p.BarangayID, &p.AipRefCode, &p.ProgramProjectTitle,
			&p.FundSource, &p.SectorName, &p.Total, &p.PageNo, &p.RowNo, &p.TableNo,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanGroupTotals(rows *sql.Rows) ([]GroupTotal, error) {
	var out []GroupTotal
	for rows.Next() {
		var key, label sql.NullString
		var g GroupTotal
		if err := rows.Scan(&key, &label, &g.Total, &g.Count); err != nil {
			return nil, err
		}
		g.Key = key.String
		g.Label = label.String
		if g.Key == "" {
			g.Key = "unspecified"
		}
		if g.Label == "" {
			g.Label = "Unspecified"
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
