package compose

import (
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/clarification"
	"github.com/openaip/budget-chat/internal/storage"
)

// AllBarangaysLabel is the scope label of global aggregates.
const AllBarangaysLabel = "All barangays"

// FallbackLabel is the scope label of a barangays-in-city aggregate.
func FallbackLabel(cityLabel string) string {
	return "All barangays in " + cityLabel
}

// TopProjectsAnswer renders a ranked project list.
func TopProjectsAnswer(rows []storage.TopProject, fiscalYear int, scopeLabel string, names func(id string) string) string {
	if len(rows) == 0 {
		return "No published line items were found for FY " + strconv.Itoa(fiscalYear) + " (" + scopeLabel + ")."
	}

	var b strings.Builder
	b.WriteString("Top " + strconv.Itoa(len(rows)) + " projects for FY " + strconv.Itoa(fiscalYear) + " (" + scopeLabel + "):")
	for i, row := range rows {
		b.WriteString("\n" + strconv.Itoa(i+1) + ". " + strings.TrimSpace(row.ProgramProjectTitle))
		if ref := trimPtr(row.AipRefCode); ref != "" {
			b.WriteString(" (Ref " + ref + ")")
		}
		b.WriteString(" - " + FormatPHPPtr(row.Total))
		if fs := trimPtr(row.FundSource); fs != "" {
			b.WriteString(" - Fund: " + fs)
		}
		if row.BarangayID != nil && names != nil {
			if name := names(*row.BarangayID); name != "" {
				b.WriteString(" - " + ScopeLabel(storage.ScopeBarangay, name))
			}
		}
	}
	return b.String()
}

// GroupTotalsAnswer renders sector or fund source totals. dimension is
// "sector" or "fund source".
func GroupTotalsAnswer(dimension string, groups []storage.GroupTotal, fiscalYear int, scopeLabel string) string {
	if len(groups) == 0 {
		return "No published line items were found for FY " + strconv.Itoa(fiscalYear) + " (" + scopeLabel + ")."
	}

	var grand float64
	var b strings.Builder
	b.WriteString("Budget totals by " + dimension + " for FY " + strconv.Itoa(fiscalYear) + " (" + scopeLabel + "):")
	for i, g := range groups {
		label := strings.TrimSpace(g.Label)
		if label == "" {
			label = "Unspecified"
		}
		b.WriteString("\n" + strconv.Itoa(i+1) + ". " + label + ": " + FormatPHP(g.Total))
		if g.Count > 0 {
			b.WriteString(" (" + strconv.Itoa(g.Count) + " items)")
		}
		grand += g.Total
	}
	b.WriteString("\nTotal: " + FormatPHP(grand))
	return b.String()
}

// CompareAnswer renders a two-year comparison with full coverage.
func CompareAnswer(cmp *storage.YearComparison, scopeLabel string) string {
	a, bYear := strconv.Itoa(cmp.YearA), strconv.Itoa(cmp.YearB)
	var b strings.Builder
	b.WriteString("Fiscal year comparison (" + scopeLabel + "):")
	b.WriteString("\nFY" + a + ": " + FormatPHP(cmp.YearATotal))
	b.WriteString("\nFY" + bYear + ": " + FormatPHP(cmp.YearBTotal))
	b.WriteString("\nDifference (FY" + bYear + " - FY" + a + "): " + FormatPHP(cmp.Difference))
	return b.String()
}

// LGUYearTotals is one jurisdiction's totals per compared year; a nil
// total means no published AIP.
type LGUYearTotals struct {
	Name   string
	Totals map[int]*float64
}

// VerboseCompareAnswer renders a compare with explicit per-LGU coverage.
func VerboseCompareAnswer(scopeLabel string, yearA, yearB int, rows []LGUYearTotals) string {
	years := []int{yearA, yearB}
	var b strings.Builder
	b.WriteString("Fiscal year comparison (" + scopeLabel + "):")

	sums := make(map[int]float64, 2)
	for _, y := range years {
		var covered []string
		for _, r := range rows {
			if v := r.Totals[y]; v != nil {
				covered = append(covered, r.Name)
				sums[y] += *v
			}
		}
		list := "none"
		if len(covered) > 0 {
			list = strings.Join(covered, ", ")
		}
		b.WriteString("\nCoverage FY" + strconv.Itoa(y) + ": " + list)
	}

	for _, r := range rows {
		parts := make([]string, 0, len(years))
		for _, y := range years {
			val := "No published AIP"
			if v := r.Totals[y]; v != nil {
				val = FormatPHP(*v)
			}
			parts = append(parts, "FY"+strconv.Itoa(y)+"="+val)
		}
		b.WriteString("\n" + r.Name + ": " + strings.Join(parts, "; "))
	}

	b.WriteString("\nOverall totals (covered LGUs only): FY" + strconv.Itoa(yearA) + "=" + FormatPHP(sums[yearA]) +
		"; FY" + strconv.Itoa(yearB) + "=" + FormatPHP(sums[yearB]) +
		"; difference=" + FormatPHP(sums[yearB]-sums[yearA]))
	return b.String()
}

// TotalsAnswer renders an authoritative printed total.
func TotalsAnswer(fiscalYear int, scopeLabel string, total *storage.AipTotal) string {
	page := "page not specified"
	if total.PageNo != nil {
		page = "page " + strconv.Itoa(*total.PageNo)
	}
	out := "The Total Investment Program for FY " + strconv.Itoa(fiscalYear) + " (" + scopeLabel + ") is " +
		FormatPHP(total.TotalInvestmentProgram) + ". Evidence: " + page
	if ev := strings.TrimSpace(total.EvidenceText); ev != "" {
		out += ", \"" + ev + "\""
	}
	return out + "."
}

// ComputedTotalsAnswer renders a total summed from line items.
func ComputedTotalsAnswer(fiscalYear int, scopeLabel string, sum float64, count int) string {
	return "The printed Total Investment Program for FY " + strconv.Itoa(fiscalYear) + " (" + scopeLabel +
		") was not extracted. The sum of " + strconv.Itoa(count) + " published line items is " + FormatPHP(sum) +
		". This figure is computed from line items and is not the printed grand total."
}

// NoAIPAnswer reports a missing AIP for a totals question.
func NoAIPAnswer(fiscalYear *int, scopeLabel string) string {
	if fiscalYear == nil {
		return "I couldn't find a published AIP (" + scopeLabel + ")."
	}
	return "I couldn't find a published AIP for FY " + strconv.Itoa(*fiscalYear) + " (" + scopeLabel + ")."
}

// CityFallbackPrompt is the text of the barangays-in-city clarification.
func CityFallbackPrompt(cityLabel string, years []int, option string) string {
	return "No published City AIP for " + cityLabel + " (FY " + joinYears(years) + ").\n" +
		"I can aggregate the published barangay AIPs in " + cityLabel + " instead." +
		clarification.OptionList([]string{option})
}

// NoCityAIPLine opens a fallback answer.
func NoCityAIPLine(cityLabel string, years []int) string {
	return "No published City AIP for " + cityLabel + " (FY " + joinYears(years) + ")."
}

// NoFallbackDataAnswer reports that neither the city nor its barangays published.
func NoFallbackDataAnswer(cityLabel string, years []int, missing []string) string {
	return "No published City AIP and no published Barangay AIPs found for " + cityLabel + " (FY " + joinYears(years) + ").\n" +
		"Coverage: 0 of " + strconv.Itoa(len(missing)) + " barangays" + missingSuffix(missing) + "\n" +
		"Please try another fiscal year."
}

// CoverageLine renders "Coverage: A, B (2 of 3 barangays). No published AIP: C".
func CoverageLine(covered, missing []string) string {
	list := "none"
	if len(covered) > 0 {
		list = strings.Join(covered, ", ")
	}
	total := len(covered) + len(missing)
	return "Coverage: " + list + " (" + strconv.Itoa(len(covered)) + " of " + strconv.Itoa(total) + " barangays)" + missingSuffix(missing)
}

func missingSuffix(missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	return ". No published AIP: " + strings.Join(missing, ", ")
}

func joinYears(years []int) string {
	parts := make([]string, 0, len(years))
	for _, y := range years {
		parts = append(parts, strconv.Itoa(y))
	}
	return strings.Join(parts, ", FY ")
}
