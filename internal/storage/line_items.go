package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// LineItemRepository reads line items of published AIPs.
type LineItemRepository struct {
	db DB
}

// NewLineItemRepository creates a new line item repository.
func NewLineItemRepository(db DB) *LineItemRepository {
	return &LineItemRepository{db: db}
}

// LineItemFilter narrows lookups by fiscal year and barangay.
type LineItemFilter struct {
	FiscalYear *int
	BarangayID *string
}

const lineItemColumns = `
	li.id, li.aip_id, li.fiscal_year, li.barangay_id, li.aip_ref_code, li.program_project_title,
	li.implementing_agency, li.start_date, li.end_date, li.fund_source, li.sector_code, li.sector_name,
	li.ps, li.mooe, li.co, li.fe, li.total, li.expected_output, li.page_no, li.row_no, li.table_no`

func scanLineItem(row rowScanner) (*LineItem, error) {
	item := &LineItem{}
	err := row.Scan(
		&item.ID, &item.AipID, &item.FiscalYear, &item.BarangayID, &item.AipRefCode, &item.ProgramProjectTitle,
		&item.ImplementingAgency, &item.StartDate, &item.EndDate, &item.FundSource, &item.SectorCode, &item.SectorName,
		&item.PS, &item.MOOE, &item.CO, &item.FE, &item.Total, &item.ExpectedOutput, &item.PageNo, &item.RowNo, &item.TableNo,
	)
	return item, err
}

// GetByID retrieves a published line item by ID.
func (r *LineItemRepository) GetByID(ctx context.Context, id string) (*LineItem, error) {
	query := `
		SELECT ` + lineItemColumns + `
		FROM aip_line_items li
		JOIN aips a ON a.id = li.aip_id AND a.status = 'published'
		WHERE li.id = $1
	`
	item, err := scanLineItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

// GetByIDs retrieves published line items keyed by ID.
func (r *LineItemRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*LineItem, error) {
	out := make(map[string]*LineItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT ` + lineItemColumns + `
		FROM aip_line_items li
		JOIN aips a ON a.id = li.aip_id AND a.status = 'published'
		WHERE li.id = ANY($1::uuid[])
	`
	items, err := r.queryItems(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get line items: %w", err)
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

// FindByRefCode looks up line items by case-insensitive ref code.
func (r *LineItemRepository) FindByRefCode(ctx context.Context, refCode string, filter LineItemFilter) ([]*LineItem, error) {
	query := `
		SELECT ` + lineItemColumns + `
		FROM aip_line_items li
		JOIN aips a ON a.id = li.aip_id AND a.status = 'published'
		WHERE upper(li.aip_ref_code) = upper($1)
		  AND ($2::int IS NULL OR li.fiscal_year = $2)
		  AND ($3::uuid IS NULL OR li.barangay_id = $3)
		ORDER BY li.fiscal_year DESC, a.created_at DESC
		LIMIT 10
	`
	items, err := r.queryItems(ctx, query, strings.TrimSpace(refCode), nullableInt(filter.FiscalYear), nullableString(filter.BarangayID))
	if err != nil {
		return nil, fmt.Errorf("find by ref code: %w", err)
	}
	return items, nil
}

// SearchByTitle runs an ILIKE title search.
func (r *LineItemRepository) SearchByTitle(ctx context.Context, phrase string, filter LineItemFilter, limit int) ([]*LineItem, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ` + lineItemColumns + `
		FROM aip_line_items li
		JOIN aips a ON a.id = li.aip_id AND a.status = 'published'
		WHERE li.program_project_title ILIKE '%' || $1 || '%'
		  AND ($2::int IS NULL OR li.fiscal_year = $2)
		  AND ($3::uuid IS NULL OR li.barangay_id = $3)
		ORDER BY li.fiscal_year DESC, li.total DESC NULLS LAST
		LIMIT $4
	`
	items, err := r.queryItems(ctx, query, escapeLike(phrase), nullableInt(filter.FiscalYear), nullableString(filter.BarangayID), limit)
	if err != nil {
		return nil, fmt.Errorf("search by title: %w", err)
	}
	return items, nil
}

// SumByAIP sums line item totals of one AIP.
func (r *LineItemRepository) SumByAIP(ctx context.Context, aipID string) (float64, int, error) {
	query := `SELECT COALESCE(SUM(total), 0), COUNT(*) FROM aip_line_items WHERE aip_id = $1`
	var total float64
	var count int
	if err := r.db.QueryRowContext(ctx, query, aipID).Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("sum line items: %w", err)
	}
	return total, count, nil
}

// TopByAIPs returns the largest line items across the given AIPs.
func (r *LineItemRepository) TopByAIPs(ctx context.Context, aipIDs []string, limit int) ([]TopProject, error) {
	query := `
		SELECT id, aip_id, fiscal_year, barangay_id, aip_ref_code, program_project_title,
			fund_source, sector_name, total, page_no, row_no, table_no
		FROM aip_line_items
		WHERE aip_id = ANY($1::uuid[]) AND total IS NOT NULL
		ORDER BY total DESC, id
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(aipIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("top line items: %w", err)
	}
	defer rows.Close()
	return scanTopProjects(rows)
}

// TotalsBySectorForAIPs groups line item totals by sector across the given AIPs.
func (r *LineItemRepository) TotalsBySectorForAIPs(ctx context.Context, aipIDs []string) ([]GroupTotal, error) {
	query := `
		SELECT COALESCE(sector_code, 'unspecified'), COALESCE(MAX(sector_name), 'Unspecified'),
			COALESCE(SUM(total), 0), COUNT(*)
		FROM aip_line_items
		WHERE aip_id = ANY($1::uuid[])
		GROUP BY COALESCE(sector_code, 'unspecified')
		ORDER BY 3 DESC, 1
	`
	return r.queryGroups(ctx, "sector", query, pq.Array(aipIDs))
}

// TotalsByFundSourceForAIPs groups line item totals by fund source across the given AIPs.
func (r *LineItemRepository) TotalsByFundSourceForAIPs(ctx context.Context, aipIDs []string) ([]GroupTotal, error) {
	query := `
		SELECT COALESCE(fund_source, 'Unspecified'), COALESCE(fund_source, 'Unspecified'),
			COALESCE(SUM(total), 0), COUNT(*)
		FROM aip_line_items
		WHERE aip_id = ANY($1::uuid[])
		GROUP BY COALESCE(fund_source, 'Unspecified')
		ORDER BY 3 DESC, 1
	`
	return r.queryGroups(ctx, "fund source", query, pq.Array(aipIDs))
}

func (r *LineItemRepository) queryItems(ctx context.Context, query string, args ...interface{}) ([]*LineItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *LineItemRepository) queryGroups(ctx context.Context, kind, query string, args ...interface{}) ([]GroupTotal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("totals by %s: %w", kind, err)
	}
	defer rows.Close()
	return scanGroupTotals(rows)
}
