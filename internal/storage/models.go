// Package storage provides database models and repositories for the budget chat service.
package storage

import (
	"encoding/json"
	"time"
)

// ScopeType identifies the kind of local government unit that owns an AIP.
type ScopeType string

const (
	ScopeBarangay     ScopeType = "barangay"
	ScopeCity         ScopeType = "city"
	ScopeMunicipality ScopeType = "municipality"
)

// AIPStatus represents the publication status of an AIP.
type AIPStatus string

const (
	AIPStatusDraft     AIPStatus = "draft"
	AIPStatusPublished AIPStatus = "published"
)

// MessageRole represents the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// SourceLabelTotalInvestmentProgram is the aip_totals label of the printed grand total.
const SourceLabelTotalInvestmentProgram = "total_investment_program"

// LGU is an active barangay, city, or municipality from the directory.
type LGU struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Type           ScopeType `json:"type" db:"-"`
	CityID         *string   `json:"city_id,omitempty" db:"city_id"`
	MunicipalityID *string   `json:"municipality_id,omitempty" db:"municipality_id"`
}

// AIP represents an Annual Investment Program document owned by exactly one LGU.
type AIP struct {
	ID             string    `json:"id" db:"id"`
	Status         AIPStatus `json:"status" db:"status"`
	FiscalYear     int       `json:"fiscal_year" db:"fiscal_year"`
	BarangayID     *string   `json:"barangay_id,omitempty" db:"barangay_id"`
	CityID         *string   `json:"city_id,omitempty" db:"city_id"`
	MunicipalityID *string   `json:"municipality_id,omitempty" db:"municipality_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// AipTotal is a pre-extracted total printed on the source document.
type AipTotal struct {
	AipID                  string  `json:"aip_id" db:"aip_id"`
	SourceLabel            string  `json:"source_label" db:"source_label"`
	TotalInvestmentProgram float64 `json:"total_investment_program" db:"total_investment_program"`
	PageNo                 *int    `json:"page_no,omitempty" db:"page_no"`
	EvidenceText           string  `json:"evidence_text" db:"evidence_text"`
}

// LineItem is a single row of a published AIP.
type LineItem struct {
	ID                  string   `json:"id" db:"id"`
	AipID               string   `json:"aip_id" db:"aip_id"`
	FiscalYear          int      `json:"fiscal_year" db:"fiscal_year"`
	BarangayID          *string  `json:"barangay_id,omitempty" db:"barangay_id"`
	AipRefCode          *string  `json:"aip_ref_code,omitempty" db:"aip_ref_code"`
	ProgramProjectTitle string   `json:"program_project_title" db:"program_project_title"`
	ImplementingAgency  *string  `json:"implementing_agency,omitempty" db:"implementing_agency"`
	StartDate           *string  `json:"start_date,omitempty" db:"start_date"`
	EndDate             *string  `json:"end_date,omitempty" db:"end_date"`
	FundSource          *string  `json:"fund_source,omitempty" db:"fund_source"`
	SectorCode          *string  `json:"sector_code,omitempty" db:"sector_code"`
	SectorName          *string  `json:"sector_name,omitempty" db:"sector_name"`
	PS                  *float64 `json:"ps,omitempty" db:"ps"`
	MOOE                *float64 `json:"mooe,omitempty" db:"mooe"`
	CO                  *float64 `json:"co,omitempty" db:"co"`
	FE                  *float64 `json:"fe,omitempty" db:"fe"`
	Total               *float64 `json:"total,omitempty" db:"total"`
	ExpectedOutput      *string  `json:"expected_output,omitempty" db:"expected_output"`
	PageNo              *int     `json:"page_no,omitempty" db:"page_no"`
	RowNo               *int     `json:"row_no,omitempty" db:"row_no"`
	TableNo             *int     `json:"table_no,omitempty" db:"table_no"`
}

// TopProject is a row returned by the get_top_projects family of functions.
type TopProject struct {
	LineItemID          string   `json:"line_item_id"`
	AipID               string   `json:"aip_id"`
	FiscalYear          int      `json:"fiscal_year"`
	BarangayID          *string  `json:"barangay_id,omitempty"`
	AipRefCode          *string  `json:"aip_ref_code,omitempty"`
	ProgramProjectTitle string   `json:"program_project_title"`
	FundSource          *string  `json:"fund_source,omitempty"`
	SectorName          *string  `json:"sector_name,omitempty"`
	Total               *float64 `json:"total,omitempty"`
	PageNo              *int     `json:"page_no,omitempty"`
	RowNo               *int     `json:"row_no,omitempty"`
	TableNo             *int     `json:"table_no,omitempty"`
}

// GroupTotal is a grouped sum of line item totals, keyed by sector or fund source.
type GroupTotal struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// YearComparison holds the totals of two fiscal years.
type YearComparison struct {
	YearA      int     `json:"year_a"`
	YearATotal float64 `json:"year_a_total"`
	YearB      int     `json:"year_b"`
	YearBTotal float64 `json:"year_b_total"`
	Difference float64 `json:"difference"`
}

// LineItemMatch is a vector similarity candidate from match_aip_line_items.
type LineItemMatch struct {
	LineItemID          string   `json:"line_item_id"`
	AipID               string   `json:"aip_id"`
	FiscalYear          *int     `json:"fiscal_year,omitempty"`
	BarangayID          *string  `json:"barangay_id,omitempty"`
	AipRefCode          *string  `json:"aip_ref_code,omitempty"`
	ProgramProjectTitle string   `json:"program_project_title"`
	PageNo              *int     `json:"page_no,omitempty"`
	RowNo               *int     `json:"row_no,omitempty"`
	TableNo             *int     `json:"table_no,omitempty"`
	Distance            *float64 `json:"distance,omitempty"`
	Score               *float64 `json:"score,omitempty"`
}

// QuotaDecision is the result of consume_chat_quota.
type QuotaDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// ChatSession is a conversation owned by one user.
type ChatSession struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Title         *string         `json:"title,omitempty" db:"title"`
	Context       json.RawMessage `json:"context" db:"context"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ChatMessage is an append-only message in a session.
type ChatMessage struct {
	ID            string          `json:"id" db:"id"`
	SessionID     string          `json:"session_id" db:"session_id"`
	Role          MessageRole     `json:"role" db:"role"`
	Content       string          `json:"content" db:"content"`
	Citations     json.RawMessage `json:"citations,omitempty" db:"citations"`
	RetrievalMeta json.RawMessage `json:"retrieval_meta,omitempty" db:"retrieval_meta"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
