package routing

import (
	"context"
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

const aggregateTypeVerbose = "compare_years_verbose"

// compare answers a fiscal year comparison for a global or barangay scope.
// Barangay scopes missing a year fall through to the verbose compare.
func (r *Router) compare(ctx context.Context, req Request, targets []scope.Target) (compose.Draft, error) {
	a, b := *req.Intent.YearA, *req.Intent.YearB

	if len(targets) == 0 {
		cmp, err := r.deps.RPC.CompareFiscalYearTotals(ctx, a, b, nil)
		if err != nil {
			return compose.Draft{}, err
		}
		d := compareDraft(cmp, compose.AllBarangaysLabel, compose.SourceLineItems)
		d.Citations[0].Metadata["rpc"] = "compare_fiscal_year_totals"
		return d, nil
	}

	barangays := make([]storage.LGU, 0, len(targets))
	for _, t := range targets {
		barangays = append(barangays, storage.LGU{ID: t.ScopeID, Name: t.ScopeName, Type: storage.ScopeBarangay})
	}
	report, err := r.expandCoverage(ctx, barangays, []int{a, b})
	if err != nil {
		return compose.Draft{}, err
	}

	label := joinLabels(targets)
	if !report.Complete() {
		d, err := r.verboseCompare(ctx, report, label, a, b)
		if err != nil {
			return compose.Draft{}, err
		}
		d.Citations[0].Metadata["scope_mode"] = string(scope.ModeNamedScopes)
		return d, nil
	}

	var (
		cmp *storage.YearComparison
		rpc string
	)
	if len(targets) == 1 {
		rpc = "compare_fiscal_year_totals"
		cmp, err = r.deps.RPC.CompareFiscalYearTotals(ctx, a, b, strPtr(targets[0].ScopeID))
	} else {
		rpc = "compare_fiscal_year_totals_for_barangays"
		cmp, err = r.deps.RPC.CompareFiscalYearTotalsForBarangays(ctx, a, b, barangayIDs(targets))
	}
	if err != nil {
		return compose.Draft{}, err
	}

	d := compareDraft(cmp, label, compose.SourceLineItems)
	d.Citations[0].Metadata["rpc"] = rpc
	d.Citations[0].Metadata["barangay_ids_count"] = len(targets)
	if len(targets) == 1 {
		d.Citations[0].ScopeType = string(storage.ScopeBarangay)
		d.Citations[0].ScopeID = strPtr(targets[0].ScopeID)
	}
	return d, nil
}

// compareFallback runs the verbose compare across a city's barangays.
func (r *Router) compareFallback(ctx context.Context, req Request) (compose.Draft, error) {
	a, b := *req.Intent.YearA, *req.Intent.YearB
	cityID, _, cityLabel := fallbackCity(req)
	years := []int{a, b}

	barangays := req.Directory.BarangaysInCity(cityID)
	report, err := r.expandCoverage(ctx, barangays, years)
	if err != nil {
		return compose.Draft{}, err
	}

	if report.Empty() {
		d := compose.Draft{
			Content: compose.NoFallbackDataAnswer(cityLabel, years, entryNames(report.Entries)),
			Citations: []compose.Citation{compose.SystemCitation("No published AIPs for the requested fiscal years.",
				fallbackMetadata(cityID, nil, nil, compose.SourceAipTotals))},
		}
		markFallback(&d, cityID, compose.SourceAipTotals)
		return d, nil
	}

	d, err := r.verboseCompare(ctx, report, compose.FallbackLabel(cityLabel), a, b)
	if err != nil {
		return compose.Draft{}, err
	}

	covered := make([]CoverageEntry, 0, len(report.Entries))
	for _, e := range report.Entries {
		if len(e.AIPs) > 0 {
			covered = append(covered, e)
		}
	}
	for k, v := range fallbackMetadata(cityID, entryIDs(report.Entries), covered, compose.SourceAipTotals) {
		d.Citations[0].Metadata[k] = v
	}
	d.Citations[0].Metadata["scope_mode"] = "barangays_in_city"
	d.Citations[0].ScopeType = string(storage.ScopeCity)
	d.Citations[0].ScopeID = strPtr(cityID)
	markFallback(&d, cityID, compose.SourceAipTotals)
	return d, nil
}

// verboseCompare lists per-LGU totals for both years with explicit gaps.
func (r *Router) verboseCompare(ctx context.Context, report *CoverageReport, label string, a, b int) (compose.Draft, error) {
	rows := make([]compose.LGUYearTotals, 0, len(report.Entries))
	var computed []string
	for _, e := range report.Entries {
		row := compose.LGUYearTotals{
			Name:   compose.ShortBarangayName(e.Barangay.Name),
			Totals: make(map[int]*float64, 2),
		}
		for _, y := range []int{a, b} {
			aip := e.AIPs[y]
			if aip == nil {
				continue
			}
			total, printed, err := r.aipTotal(ctx, aip.ID)
			if err != nil {
				return compose.Draft{}, err
			}
			if !printed {
				computed = append(computed, row.Name+" FY"+strconv.Itoa(y))
			}
			row.Totals[y] = &total
		}
		rows = append(rows, row)
	}

	content := compose.VerboseCompareAnswer(label, a, b, rows)
	if len(computed) > 0 {
		content += "\nComputed from line items (no printed total): " + strings.Join(computed, ", ")
	}

	c := compose.Citation{
		SourceID:  "A1",
		ScopeType: "global",
		ScopeName: label,
		Snippet:   "Fiscal year comparison FY" + strconv.Itoa(a) + " vs FY" + strconv.Itoa(b) + " (" + label + ")",
		Metadata: map[string]interface{}{
			"type":                          "aggregate_compare_years",
			"aggregate_type":                aggregateTypeVerbose,
			"aggregation_source":            compose.SourceAipTotals,
			"year_a":                        a,
			"year_b":                        b,
			"coverage_fy" + strconv.Itoa(a): entryNames(report.Covered(a)),
			"coverage_fy" + strconv.Itoa(b): entryNames(report.Covered(b)),
		},
	}
	if len(computed) > 0 {
		c.Metadata["computed_from_line_items"] = computed
	}

	return compose.Draft{
		Content:   content,
		Citations: []compose.Citation{c},
		Meta:      compose.Meta{AggregationSource: compose.SourceAipTotals},
	}, nil
}

func compareDraft(cmp *storage.YearComparison, label, source string) compose.Draft {
	c := compose.Citation{
		SourceID:  "A1",
		ScopeType: "global",
		ScopeName: label,
		Snippet: "FY" + strconv.Itoa(cmp.YearA) + "=" + compose.FormatPHP(cmp.YearATotal) +
			"; FY" + strconv.Itoa(cmp.YearB) + "=" + compose.FormatPHP(cmp.YearBTotal),
		Metadata: map[string]interface{}{
			"type":               "aggregate_compare_years",
			"aggregation_source": source,
			"year_a":             cmp.YearA,
			"year_b":             cmp.YearB,
		},
	}
	return compose.Draft{
		Content:   compose.CompareAnswer(cmp, label),
		Citations: []compose.Citation{c},
		Meta:      compose.Meta{AggregationSource: source},
	}
}
