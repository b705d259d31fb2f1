package routing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

type aggregateKind int

const (
	aggGlobal aggregateKind = iota
	aggBarangays
	aggCity
	aggFallback
	aggUnsupported
)

// aggregateScope decides what an aggregate filters on. Only explicit
// targets count; the account default never narrows an aggregate.
func aggregateScope(req Request) (aggregateKind, []scope.Target) {
	if req.Fallback != nil && req.Fallback.Mode != "" {
		return aggFallback, nil
	}

	explicit := req.Scope.ExplicitTargets()
	if barangays := req.Scope.TargetsOfType(storage.ScopeBarangay); len(barangays) > 0 {
		return aggBarangays, barangays
	}
	switch {
	case len(explicit) == 0:
		return aggGlobal, nil
	case len(explicit) == 1 && explicit[0].ScopeType == storage.ScopeCity:
		return aggCity, explicit
	default:
		return aggUnsupported, explicit
	}
}

func (r *Router) routeAggregate(ctx context.Context, req Request) (compose.Draft, error) {
	ctx, span := observability.StartSpan(ctx, r.tracer, "routing.aggregate", "intent", string(req.Intent.Intent))
	defer span.End()

	res := req.Intent
	if res.Intent == intent.CompareYears {
		if res.YearA == nil || res.YearB == nil {
			return compose.MissingCompareYears(), nil
		}
	} else if res.FiscalYear == nil {
		return compose.MissingFiscalYear(), nil
	}

	kind, targets := aggregateScope(req)
	switch kind {
	case aggUnsupported:
		return compose.UnsupportedAggregateScope(), nil
	case aggFallback:
		if res.Intent == intent.CompareYears {
			return r.compareFallback(ctx, req)
		}
		return r.aggregateFallback(ctx, req)
	case aggCity:
		return r.aggregateCity(ctx, req, targets[0])
	}

	if res.Intent == intent.CompareYears {
		return r.compare(ctx, req, targets)
	}

	label := compose.AllBarangaysLabel
	var single *string
	ids := barangayIDs(targets)
	switch len(targets) {
	case 0:
	case 1:
		single = strPtr(targets[0].ScopeID)
		label = compose.ScopeLabel(storage.ScopeBarangay, targets[0].ScopeName)
	default:
		label = joinLabels(targets)
	}

	year := *res.FiscalYear
	var (
		d   compose.Draft
		rpc string
		err error
	)
	switch res.Intent {
	case intent.TopProjects:
		var rows []storage.TopProject
		limit := r.limit(res.Limit)
		if len(ids) > 1 {
			rpc = "get_top_projects_for_barangays"
			rows, err = r.deps.RPC.TopProjectsForBarangays(ctx, limit, year, ids)
		} else {
			rpc = "get_top_projects"
			rows, err = r.deps.RPC.TopProjects(ctx, limit, year, single)
		}
		if err != nil {
			return compose.Draft{}, err
		}
		d = r.topProjectsDraft(req, rows, year, label)
	default:
		dimension, groups := "", []storage.GroupTotal(nil)
		if res.Intent == intent.TotalsBySector {
			dimension = "sector"
			if len(ids) > 1 {
				rpc = "get_totals_by_sector_for_barangays"
				groups, err = r.deps.RPC.TotalsBySectorForBarangays(ctx, year, ids)
			} else {
				rpc = "get_totals_by_sector"
				groups, err = r.deps.RPC.TotalsBySector(ctx, year, single)
			}
		} else {
			dimension = "fund source"
			if len(ids) > 1 {
				rpc = "get_totals_by_fund_source_for_barangays"
				groups, err = r.deps.RPC.TotalsByFundSourceForBarangays(ctx, year, ids)
			} else {
				rpc = "get_totals_by_fund_source"
				groups, err = r.deps.RPC.TotalsByFundSource(ctx, year, single)
			}
		}
		if err != nil {
			return compose.Draft{}, err
		}
		d = groupDraft(dimension, groups, year, label)
	}

	d.Meta.AggregationSource = compose.SourceLineItems
	d.Citations[0].Metadata["rpc"] = rpc
	if len(ids) > 0 {
		d.Citations[0].Metadata["barangay_ids_count"] = len(ids)
	}
	if single != nil {
		d.Citations[0].ScopeType = string(storage.ScopeBarangay)
		d.Citations[0].ScopeID = single
	}
	return d, nil
}

// aggregateCity answers a city-scoped aggregate from the city's own AIP.
func (r *Router) aggregateCity(ctx context.Context, req Request, city scope.Target) (compose.Draft, error) {
	res := req.Intent
	years := []int{*res.FiscalYear}
	if res.Intent == intent.CompareYears {
		years = []int{*res.YearA, *res.YearB}
	}

	aips, clarify, err := r.resolveCityScope(ctx, req, city, years)
	if err != nil {
		return compose.Draft{}, err
	}
	if clarify != nil {
		return *clarify, nil
	}

	label := compose.ScopeLabel(storage.ScopeCity, city.ScopeName)
	var d compose.Draft
	switch res.Intent {
	case intent.CompareYears:
		a, b := *res.YearA, *res.YearB
		totalA, printedA, err := r.aipTotal(ctx, aips[a].ID)
		if err != nil {
			return compose.Draft{}, err
		}
		totalB, printedB, err := r.aipTotal(ctx, aips[b].ID)
		if err != nil {
			return compose.Draft{}, err
		}
		cmp := &storage.YearComparison{YearA: a, YearATotal: totalA, YearB: b, YearBTotal: totalB, Difference: totalB - totalA}
		source := compose.SourceAipTotals
		if !printedA || !printedB {
			source = compose.SourceLineItems
		}
		d = compareDraft(cmp, label, source)
	case intent.TopProjects:
		year := *res.FiscalYear
		rows, err := r.deps.LineItems.TopByAIPs(ctx, []string{aips[year].ID}, r.limit(res.Limit))
		if err != nil {
			return compose.Draft{}, err
		}
		d = r.topProjectsDraft(req, rows, year, label)
		d.Meta.AggregationSource = compose.SourceLineItems
	default:
		year := *res.FiscalYear
		ids := []string{aips[year].ID}
		var groups []storage.GroupTotal
		dimension := "sector"
		if res.Intent == intent.TotalsBySector {
			groups, err = r.deps.LineItems.TotalsBySectorForAIPs(ctx, ids)
		} else {
			dimension = "fund source"
			groups, err = r.deps.LineItems.TotalsByFundSourceForAIPs(ctx, ids)
		}
		if err != nil {
			return compose.Draft{}, err
		}
		d = groupDraft(dimension, groups, year, label)
		d.Meta.AggregationSource = compose.SourceLineItems
	}

	d.Meta.CityID = city.ScopeID
	d.Citations[0].ScopeType = string(storage.ScopeCity)
	d.Citations[0].ScopeID = strPtr(city.ScopeID)
	d.Citations[0].Metadata["scope_mode"] = "city_aip"
	d.Citations[0].Metadata["city_id"] = city.ScopeID
	for y, aip := range aips {
		d.Citations[0].Metadata["aip_id_fy"+strconv.Itoa(y)] = aip.ID
	}
	return d, nil
}

// aggregateFallback answers top/sector/fund aggregates across a city's barangays.
func (r *Router) aggregateFallback(ctx context.Context, req Request) (compose.Draft, error) {
	res := req.Intent
	cityID, _, cityLabel := fallbackCity(req)
	year := *res.FiscalYear
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
				fallbackMetadata(cityID, nil, nil, compose.SourceLineItems))},
		}
		markFallback(&d, cityID, compose.SourceLineItems)
		return d, nil
	}

	ids := entryIDs(covered)
	label := compose.FallbackLabel(cityLabel)

	var d compose.Draft
	switch res.Intent {
	case intent.TopProjects:
		rows, err := r.deps.RPC.TopProjectsForBarangays(ctx, r.limit(res.Limit), year, ids)
		if err != nil {
			return compose.Draft{}, err
		}
		d = r.topProjectsDraft(req, rows, year, label)
	case intent.TotalsBySector:
		groups, err := r.deps.RPC.TotalsBySectorForBarangays(ctx, year, ids)
		if err != nil {
			return compose.Draft{}, err
		}
		d = groupDraft("sector", groups, year, label)
	case intent.TotalsByFundSource:
		groups, err := r.deps.RPC.TotalsByFundSourceForBarangays(ctx, year, ids)
		if err != nil {
			return compose.Draft{}, err
		}
		d = groupDraft("fund source", groups, year, label)
	default:
		return compose.Draft{}, fmt.Errorf("intent %s has no barangays-in-city aggregate", res.Intent)
	}

	d.Content = compose.NoCityAIPLine(cityLabel, years) + "\n" + d.Content + "\n" +
		compose.CoverageLine(entryNames(covered), entryNames(missing))
	for k, v := range fallbackMetadata(cityID, ids, covered, compose.SourceLineItems) {
		d.Citations[0].Metadata[k] = v
	}
	d.Citations[0].ScopeType = string(storage.ScopeCity)
	d.Citations[0].ScopeID = strPtr(cityID)
	markFallback(&d, cityID, compose.SourceLineItems)
	return d, nil
}

func (r *Router) limit(parsed int) int {
	if parsed <= 0 {
		parsed = r.cfg.DefaultTopLimit
	}
	return intent.ClampLimit(parsed, r.cfg.MaxTopLimit)
}

func (r *Router) topProjectsDraft(req Request, rows []storage.TopProject, year int, label string) compose.Draft {
	names := func(id string) string {
		if lgu := req.Directory.Lookup(storage.ScopeBarangay, id); lgu != nil {
			return lgu.Name
		}
		return ""
	}

	d := compose.Draft{Content: compose.TopProjectsAnswer(rows, year, label, names)}
	if len(rows) == 0 {
		d.Citations = []compose.Citation{aggregateCitation("A1", "No published line items matched.", year, label, true)}
		return d
	}

	for i, row := range rows {
		c := aggregateCitation("A"+strconv.Itoa(i+1), rowSnippet(row), year, label, false)
		aipID := row.AipID
		c.AipID = &aipID
		c.ScopeID = row.BarangayID
		c.Metadata["type"] = "top_project"
		c.Metadata["line_item_id"] = row.LineItemID
		c.Metadata["rank"] = i + 1
		if row.PageNo != nil {
			c.Metadata["page_no"] = *row.PageNo
		}
		d.Citations = append(d.Citations, c)
	}
	d.Meta.AggregationSource = compose.SourceLineItems
	return d
}

func rowSnippet(row storage.TopProject) string {
	s := row.ProgramProjectTitle + " - Total: " + compose.FormatPHPPtr(row.Total)
	if row.AipRefCode != nil {
		s = row.ProgramProjectTitle + " (Ref " + *row.AipRefCode + ") - Total: " + compose.FormatPHPPtr(row.Total)
	}
	return s
}

func groupDraft(dimension string, groups []storage.GroupTotal, year int, label string) compose.Draft {
	content := compose.GroupTotalsAnswer(dimension, groups, year, label)
	c := aggregateCitation("A1", "Budget totals by "+dimension+" for FY "+strconv.Itoa(year)+" ("+label+")", year, label, len(groups) == 0)
	c.Metadata["type"] = "aggregate_by_" + dimension
	c.Metadata["group_count"] = len(groups)
	return compose.Draft{
		Content:   content,
		Citations: []compose.Citation{c},
		Meta:      compose.Meta{AggregationSource: compose.SourceLineItems},
	}
}

func aggregateCitation(id, snippet string, year int, label string, insufficient bool) compose.Citation {
	fy := year
	return compose.Citation{
		SourceID:     id,
		FiscalYear:   &fy,
		ScopeType:    "global",
		ScopeName:    label,
		Snippet:      snippet,
		Insufficient: insufficient,
		Metadata: map[string]interface{}{
			"aggregation_source": compose.SourceLineItems,
			"fiscal_year":        year,
		},
	}
}

func joinLabels(targets []scope.Target) string {
	out := ""
	for i, t := range targets {
		if i > 0 {
			out += ", "
		}
		out += compose.ScopeLabel(t.ScopeType, t.ScopeName)
	}
	return out
}
