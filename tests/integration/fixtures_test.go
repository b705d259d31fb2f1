package integration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	cityCabuyao     = "11111111-1111-4111-8111-111111111111"
	barangayPulo    = "22222222-2222-4222-8222-222222222222"
	barangayMamatid = "33333333-3333-4333-8333-333333333333"

	aipPulo2026    = "a0000000-0000-4000-8000-000000000001"
	aipPulo2025    = "a0000000-0000-4000-8000-000000000002"
	aipMamatid2026 = "a0000000-0000-4000-8000-000000000003"
	aipPuloDraft   = "a0000000-0000-4000-8000-000000000004"

	itemRoad     = "b0000000-0000-4000-8000-000000000001"
	itemHealth   = "b0000000-0000-4000-8000-000000000002"
	itemDrainage = "b0000000-0000-4000-8000-000000000003"
)

// seedBudget loads a small directory with published AIPs for two barangays of Cabuyao.
func seedBudget(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()

	statements := []string{
		`INSERT INTO cities (id, name) VALUES ('` + cityCabuyao + `', 'Cabuyao')`,
		`INSERT INTO barangays (id, name, city_id) VALUES
			('` + barangayPulo + `', 'Pulo', '` + cityCabuyao + `'),
			('` + barangayMamatid + `', 'Mamatid', '` + cityCabuyao + `')`,
		`INSERT INTO aips (id, status, fiscal_year, barangay_id) VALUES
			('` + aipPulo2026 + `', 'published', 2026, '` + barangayPulo + `'),
			('` + aipPulo2025 + `', 'published', 2025, '` + barangayPulo + `'),
			('` + aipMamatid2026 + `', 'published', 2026, '` + barangayMamatid + `'),
			('` + aipPuloDraft + `', 'draft', 2027, '` + barangayPulo + `')`,
		`INSERT INTO aip_totals (aip_id, source_label, total_investment_program, page_no, evidence_text) VALUES
			('` + aipPulo2026 + `', 'total_investment_program', 12345678.90, 3, '')`,
		`INSERT INTO aip_line_items
			(id, aip_id, fiscal_year, barangay_id, aip_ref_code, program_project_title, fund_source,
			 sector_code, sector_name, total, page_no, row_no, table_no, embedding) VALUES
			('` + itemRoad + `', '` + aipPulo2026 + `', 2026, '` + barangayPulo + `', '1000-001', 'Road Concreting',
			 'General Fund', '1000', 'General Public Services', 5000000, 4, 1, 1, '[1,0,0]'),
			('` + itemHealth + `', '` + aipPulo2026 + `', 2026, '` + barangayPulo + `', '3000-001', 'Health Center Upgrade',
			 'General Fund', '3000', 'Social Services', 2000000, 4, 2, 1, '[0,1,0]'),
			('` + itemDrainage + `', '` + aipPulo2026 + `', 2026, '` + barangayPulo + `', '8000-001', 'Drainage Improvement',
			 '20% Development Fund', '8000', 'Economic Services', 1000000, 5, 1, 1, NULL),
			('b0000000-0000-4000-8000-000000000004', '` + aipPulo2025 + `', 2025, '` + barangayPulo + `', '1000-001', 'Road Repair',
			 'General Fund', '1000', 'General Public Services', 3000000, 4, 1, 1, NULL),
			('b0000000-0000-4000-8000-000000000005', '` + aipMamatid2026 + `', 2026, '` + barangayMamatid + `', '1000-002', 'Mamatid Covered Court',
			 'General Fund', '1000', 'General Public Services', 7000000, 2, 1, 1, '[0.9,0.1,0]'),
			('b0000000-0000-4000-8000-000000000006', '` + aipPuloDraft + `', 2027, '` + barangayPulo + `', '1000-003', 'Unpublished Bridge',
			 'General Fund', '1000', 'General Public Services', 90000000, 1, 1, 1, NULL)`,
	}
	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }
