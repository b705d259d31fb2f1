package compose

import (
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/storage"
)

// LineItemDisclosure returns the scope note appended to a line-item answer.
// Explicitly scoped answers carry none.
func LineItemDisclosure(fromAccount, global bool, barangayName string) string {
	if global {
		return "(Scope: all barangays)"
	}
	if fromAccount {
		label := "your barangay"
		if strings.TrimSpace(barangayName) != "" {
			label = ScopeLabel(storage.ScopeBarangay, barangayName)
		}
		return "(" + label + " - based on your account scope)"
	}
	return ""
}

// LineItemAnswer renders the requested fields of one line item.
func LineItemAnswer(row *storage.LineItem, fields []intent.FactField, disclosure string) string {
	title := strings.TrimSpace(row.ProgramProjectTitle)
	if title == "" {
		title = "the selected line item"
	}
	refText := ""
	if ref := trimPtr(row.AipRefCode); ref != "" {
		refText = " (Ref " + ref + ")"
	}

	clauses := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case intent.FieldAmount:
			clauses = append(clauses, "total allocation: "+FormatPHPPtr(row.Total))
		case intent.FieldSchedule:
			clauses = append(clauses, "schedule: "+FormatSchedule(row.StartDate, row.EndDate))
		case intent.FieldFundSource:
			clauses = append(clauses, "fund source: "+orNA(row.FundSource))
		case intent.FieldImplementingAgency:
			clauses = append(clauses, "implementing agency: "+orNA(row.ImplementingAgency))
		case intent.FieldExpectedOutput:
			clauses = append(clauses, "expected output: "+orNA(row.ExpectedOutput))
		}
	}

	if len(clauses) == 0 {
		return "I found " + title + refText + ", but I need a specific field (amount, schedule, fund source, implementing agency, or expected output)."
	}

	if disclosure != "" {
		disclosure = " " + disclosure
	}
	return "For " + title + refText + disclosure + ", " + strings.Join(clauses, "; ") + "."
}

// LineItemSnippet is the citation snippet for a line item.
func LineItemSnippet(row *storage.LineItem) string {
	title := strings.TrimSpace(row.ProgramProjectTitle)
	if title == "" {
		title = "Untitled line item"
	}
	schedule := strings.Replace(FormatSchedule(row.StartDate, row.EndDate), " to ", "..", 1)
	return title + " - Fund: " + orNA(row.FundSource) + " - Schedule: " + schedule + " - Total: " + FormatPHPPtr(row.Total)
}

// LineItemScopeName is the citation scope name for a line item.
func LineItemScopeName(row *storage.LineItem, barangayName string, global bool) string {
	title := strings.TrimSpace(row.ProgramProjectTitle)
	if title == "" {
		title = "Untitled line item"
	}
	place := "All barangays"
	if !global && strings.TrimSpace(barangayName) != "" {
		place = ScopeLabel(storage.ScopeBarangay, barangayName)
	}
	return place + " - FY " + strconv.Itoa(row.FiscalYear) + " - " + title
}

// LineItemCitation cites one line item.
func LineItemCitation(sourceID string, row *storage.LineItem, barangayName string, global bool, extra map[string]interface{}) Citation {
	meta := map[string]interface{}{
		"type":               "aip_line_item",
		"line_item_id":       row.ID,
		"aggregation_source": SourceLineItemDB,
	}
	if row.AipRefCode != nil {
		meta["aip_ref_code"] = *row.AipRefCode
	}
	if row.PageNo != nil {
		meta["page_no"] = *row.PageNo
	}
	if row.RowNo != nil {
		meta["row_no"] = *row.RowNo
	}
	if row.TableNo != nil {
		meta["table_no"] = *row.TableNo
	}
	for k, v := range extra {
		meta[k] = v
	}

	aipID := row.AipID
	fy := row.FiscalYear
	c := Citation{
		SourceID:   sourceID,
		AipID:      &aipID,
		FiscalYear: &fy,
		ScopeType:  "barangay",
		ScopeID:    row.BarangayID,
		ScopeName:  LineItemScopeName(row, barangayName, global),
		Snippet:    LineItemSnippet(row),
		Metadata:   meta,
	}
	if row.BarangayID == nil {
		c.ScopeType = "unknown"
	}
	return c
}

// LineItemOption renders a disambiguation option.
func LineItemOption(row *storage.LineItem, placeLabel string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(row.ProgramProjectTitle))
	if ref := trimPtr(row.AipRefCode); ref != "" {
		b.WriteString(" (Ref " + ref + ")")
	}
	b.WriteString(" - Total: " + FormatPHPPtr(row.Total))
	b.WriteString(" - FY " + strconv.Itoa(row.FiscalYear))
	b.WriteString(" - " + placeLabel)
	return b.String()
}
