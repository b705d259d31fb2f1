package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

// Path is the branch taken by RouteTotals.
type Path string

const (
	PathTotals Path = "totals"
	PathNormal Path = "normal"
)

// TotalsRoute is the discriminated result of RouteTotals.
type TotalsRoute[T any] struct {
	Path  Path
	Value T
}

// RouteTotals invokes resolveTotals for total investment program questions
// and resolveNormal for everything else. Exactly one resolver runs.
func RouteTotals[T any](ctx context.Context, in intent.Intent, resolveTotals, resolveNormal func(context.Context) (T, error)) (TotalsRoute[T], error) {
	if in == intent.TotalInvestmentProgram {
		v, err := resolveTotals(ctx)
		return TotalsRoute[T]{Path: PathTotals, Value: v}, err
	}
	v, err := resolveNormal(ctx)
	return TotalsRoute[T]{Path: PathNormal, Value: v}, err
}

const (
	msgOnePlaceAtATime = "Please ask about one place at a time for total investment queries (one barangay/city/municipality)."
	msgNoTotalsScope   = "I couldn't determine the place scope for this total investment query."
)

// totalsTarget picks the single place a totals question is about.
func totalsTarget(res scope.Resolution) (*scope.Target, string) {
	explicit := res.ExplicitTargets()
	switch {
	case len(explicit) > 1:
		return nil, msgOnePlaceAtATime
	case len(explicit) == 1:
		return &explicit[0], ""
	}
	if acct := res.AccountTarget(); acct != nil {
		return acct, ""
	}
	return nil, msgNoTotalsScope
}

// routeTotals answers a total investment program question, preferring the
// printed total over a line item sum.
func (r *Router) routeTotals(ctx context.Context, req Request) (compose.Draft, error) {
	ctx, span := observability.StartSpan(ctx, r.tracer, "routing.totals")
	defer span.End()

	if req.Fallback != nil && req.Fallback.Mode != "" {
		return r.totalsFallback(ctx, req)
	}

	target, problem := totalsTarget(req.Scope)
	if target == nil {
		d := compose.Clarify(problem, nil, compose.ReasonAmbiguousScope,
			"Name one barangay or city, such as Barangay Pulo.")
		return d, nil
	}

	label := compose.ScopeLabel(target.ScopeType, target.ScopeName)
	if target.FromAccount {
		label += " - based on your account scope"
	}
	fy := req.Intent.FiscalYear

	aip, err := r.deps.AIPs.FindPublished(ctx, target.ScopeType, target.ScopeID, fy)
	if errors.Is(err, storage.ErrNotFound) {
		if target.ScopeType == storage.ScopeCity && fy != nil {
			return r.cityClarification(req, *target, []int{*fy}), nil
		}
		return compose.Draft{
			Content: compose.NoAIPAnswer(fy, label),
			Citations: []compose.Citation{compose.SystemCitation("No published AIP for the requested scope and fiscal year.",
				map[string]interface{}{"reason": "aip_missing", "scope_type": string(target.ScopeType), "scope_id": target.ScopeID})},
		}, nil
	}
	if err != nil {
		return compose.Draft{}, fmt.Errorf("find AIP: %w", err)
	}

	total, err := r.deps.AIPs.GetTotal(ctx, aip.ID)
	switch {
	case err == nil:
		c := totalsCitation(aip, target, label)
		c.Snippet = strings.TrimSpace(total.EvidenceText)
		if c.Snippet == "" {
			c.Snippet = "Total Investment Program " + compose.FormatPHP(total.TotalInvestmentProgram)
		}
		c.Metadata["source_label"] = total.SourceLabel
		c.Metadata["total_investment_program"] = total.TotalInvestmentProgram
		if total.PageNo != nil {
			c.Metadata["page_no"] = *total.PageNo
		}
		return compose.Draft{
			Content:   compose.TotalsAnswer(aip.FiscalYear, label, total),
			Citations: []compose.Citation{c},
			Meta:      compose.Meta{AggregationSource: compose.SourceAipTotals},
		}, nil
	case errors.Is(err, storage.ErrNotFound):
		sum, count, err := r.deps.LineItems.SumByAIP(ctx, aip.ID)
		if err != nil {
			return compose.Draft{}, err
		}
		c := totalsCitation(aip, target, label)
		c.Snippet = "Sum of " + strconv.Itoa(count) + " line items: " + compose.FormatPHP(sum)
		c.Metadata["type"] = "aip_line_item_sum"
		c.Metadata["aggregation_source"] = compose.SourceLineItems
		c.Metadata["computed_from_line_items"] = true
		c.Metadata["line_item_count"] = count
		return compose.Draft{
			Content:   compose.ComputedTotalsAnswer(aip.FiscalYear, label, sum, count),
			Citations: []compose.Citation{c},
			Meta:      compose.Meta{AggregationSource: compose.SourceLineItems},
		}, nil
	default:
		return compose.Draft{}, fmt.Errorf("get AIP total: %w", err)
	}
}

func totalsCitation(aip *storage.AIP, target *scope.Target, label string) compose.Citation {
	aipID := aip.ID
	fy := aip.FiscalYear
	return compose.Citation{
		SourceID:   "T1",
		AipID:      &aipID,
		FiscalYear: &fy,
		ScopeType:  string(target.ScopeType),
		ScopeID:    strPtr(target.ScopeID),
		ScopeName:  label,
		Metadata: map[string]interface{}{
			"type":               "aip_total",
			"aip_id":             aip.ID,
			"fiscal_year":        aip.FiscalYear,
			"aggregation_source": compose.SourceAipTotals,
		},
	}
}

// totalsFallback sums barangay totals across a city without a city AIP.
func (r *Router) totalsFallback(ctx context.Context, req Request) (compose.Draft, error) {
	cityID, _, cityLabel := fallbackCity(req)
	if req.Intent.FiscalYear == nil {
		return compose.MissingFiscalYear(), nil
	}
	year := *req.Intent.FiscalYear
	years := []int{year}

	report, err := r.expandCoverage(ctx, req.Directory.BarangaysInCity(cityID), years)
	if err != nil {
		return compose.Draft{}, err
	}
	covered, missing := report.Covered(year), report.Missing(year)

	if len(covered) == 0 {
		d := compose.Draft{
			Content: compose.NoFallbackDataAnswer(cityLabel, years, entryNames(missing)),
			Citations: []compose.Citation{compose.SystemCitation("No published AIPs for the requested fiscal year.",
				fallbackMetadata(cityID, nil, nil, compose.SourceAipTotals))},
		}
		markFallback(&d, cityID, compose.SourceAipTotals)
		return d, nil
	}

	var (
		sum      float64
		computed []string
	)
	for _, e := range covered {
		total, printed, err := r.aipTotal(ctx, e.AIPs[year].ID)
		if err != nil {
			return compose.Draft{}, err
		}
		if !printed {
			computed = append(computed, compose.ShortBarangayName(e.Barangay.Name))
		}
		sum += total
	}

	source := compose.SourceAipTotals
	if len(computed) == len(covered) {
		source = compose.SourceLineItems
	}

	var b strings.Builder
	b.WriteString(compose.NoCityAIPLine(cityLabel, years))
	b.WriteString("\nTotal Investment Program (sum of barangay totals) for FY " + strconv.Itoa(year) +
		" (" + compose.FallbackLabel(cityLabel) + "): " + compose.FormatPHP(sum))
	b.WriteString("\n" + compose.CoverageLine(entryNames(covered), entryNames(missing)))
	if len(computed) > 0 {
		b.WriteString("\nComputed from line items (no printed total): " + strings.Join(computed, ", "))
	}

	fy := year
	c := compose.Citation{
		SourceID:   "T1",
		FiscalYear: &fy,
		ScopeType:  string(storage.ScopeCity),
		ScopeID:    strPtr(cityID),
		ScopeName:  compose.FallbackLabel(cityLabel),
		Snippet:    "Sum of " + strconv.Itoa(len(covered)) + " barangay totals: " + compose.FormatPHP(sum),
		Metadata:   fallbackMetadata(cityID, entryIDs(report.Entries), covered, source),
	}
	c.Metadata["type"] = "aip_total_sum"
	if len(computed) > 0 {
		c.Metadata["computed_from_line_items"] = computed
	}

	d := compose.Draft{Content: b.String(), Citations: []compose.Citation{c}}
	markFallback(&d, cityID, source)
	return d, nil
}
