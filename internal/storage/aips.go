package storage

import (
	"context"
	"fmt"
)

// AIPRepository reads published AIPs and their extracted totals.
type AIPRepository struct {
	db DB
}

// NewAIPRepository creates a new AIP repository.
func NewAIPRepository(db DB) *AIPRepository {
	return &AIPRepository{db: db}
}

// FindPublished returns the published AIP owned by the scope for fiscalYear.
// A nil fiscalYear selects the latest year. Duplicates resolve to the most
// recently created row.
func (r *AIPRepository) FindPublished(ctx context.Context, scopeType ScopeType, scopeID string, fiscalYear *int) (*AIP, error) {
	var column string
	switch scopeType {
	case ScopeBarangay:
		column = "barangay_id"
	case ScopeCity:
		column = "city_id"
	case ScopeMunicipality:
		column = "municipality_id"
	default:
		return nil, fmt.Errorf("unknown scope type %q", scopeType)
	}

	query := `
		SELECT id, status, fiscal_year, barangay_id, city_id, municipality_id, created_at
		FROM aips
		WHERE status = 'published' AND ` + column + ` = $1
		  AND ($2::int IS NULL OR fiscal_year = $2)
		ORDER BY fiscal_year DESC, created_at DESC
		LIMIT 1
	`
	aip := &AIP{}
	var status string
	err := r.db.QueryRowContext(ctx, query, scopeID, nullableInt(fiscalYear)).Scan(
		&aip.ID, &status, &aip.FiscalYear, &aip.BarangayID, &aip.CityID, &aip.MunicipalityID, &aip.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	aip.Status = AIPStatus(status)
	return aip, nil
}

// GetTotal returns the printed total investment program of an AIP.
func (r *AIPRepository) GetTotal(ctx context.Context, aipID string) (*AipTotal, error) {
	query := `
		SELECT aip_id, source_label, total_investment_program, page_no, evidence_text
		FROM aip_totals
		WHERE aip_id = $1 AND source_label = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	total := &AipTotal{}
	err := r.db.QueryRowContext(ctx, query, aipID, SourceLabelTotalInvestmentProgram).Scan(
		&total.AipID, &total.SourceLabel, &total.TotalInvestmentProgram, &total.PageNo, &total.EvidenceText,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return total, nil
}
