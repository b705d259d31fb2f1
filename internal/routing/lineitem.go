package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/clarification"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/observability"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

// Line item scope reasons.
const (
	lineScopeGlobal          = "global"
	lineScopeOurBarangay     = "explicit_our_barangay"
	lineScopeExplicit        = "explicit_barangay"
	lineScopeDefaultBarangay = "default_user_barangay"
	lineScopeUnknown         = "unknown"
)

var defaultFactFields = []intent.FactField{intent.FieldAmount, intent.FieldFundSource, intent.FieldSchedule}

// lineItemScope decides which barangay filters a line item lookup.
type lineItemScope struct {
	Reason       string
	BarangayID   *string
	BarangayName string
}

func (s lineItemScope) global() bool {
	return s.Reason == lineScopeGlobal
}

func (s lineItemScope) disclosure() string {
	return compose.LineItemDisclosure(s.Reason == lineScopeDefaultBarangay, s.global(), s.BarangayName)
}

func decideLineItemScope(req Request) lineItemScope {
	if req.Intent.LineItem.GlobalScopeCue {
		return lineItemScope{Reason: lineScopeGlobal}
	}

	if req.Scope.Reason == scope.ReasonExplicitOurBarangay && len(req.Scope.Targets) > 0 {
		t := req.Scope.Targets[0]
		return lineItemScope{Reason: lineScopeOurBarangay, BarangayID: strPtr(t.ScopeID), BarangayName: t.ScopeName}
	}

	if explicit := req.Scope.ExplicitTargets(); len(explicit) > 0 {
		if len(explicit) == 1 && explicit[0].ScopeType == storage.ScopeBarangay {
			return lineItemScope{Reason: lineScopeExplicit, BarangayID: strPtr(explicit[0].ScopeID), BarangayName: explicit[0].ScopeName}
		}
		return lineItemScope{Reason: lineScopeGlobal}
	}

	if acct := req.Scope.AccountTarget(); acct != nil && acct.ScopeType == storage.ScopeBarangay {
		return lineItemScope{Reason: lineScopeDefaultBarangay, BarangayID: strPtr(acct.ScopeID), BarangayName: acct.ScopeName}
	}

	return lineItemScope{Reason: lineScopeUnknown}
}

// routeLineItem answers ref code and fact questions by direct lookup,
// using vector matching only for fact questions without an exact title hit.
func (r *Router) routeLineItem(ctx context.Context, req Request) (compose.Draft, error) {
	ctx, span := observability.StartSpan(ctx, r.tracer, "routing.line_item", "intent", string(req.Intent.Intent))
	defer span.End()

	res := req.Intent
	li := res.LineItem
	ls := decideLineItemScope(req)
	filter := storage.LineItemFilter{FiscalYear: res.FiscalYear, BarangayID: ls.BarangayID}

	fields := li.FactFields
	if len(fields) == 0 {
		fields = defaultFactFields
	}

	if res.Intent == intent.RefLookup {
		rows, err := r.deps.LineItems.FindByRefCode(ctx, res.RefCode, filter)
		if err != nil {
			return compose.Draft{}, err
		}
		if len(rows) == 0 {
			return r.lineItemMiss(req, ls), nil
		}
		return r.lineItemAnswer(req, rows[0], fields, ls, "ref_code"), nil
	}

	if li.TitlePhrase != "" {
		rows, err := r.deps.LineItems.SearchByTitle(ctx, li.TitlePhrase, filter, 10)
		if err != nil {
			return compose.Draft{}, err
		}
		if row := singleTitle(rows); row != nil {
			return r.lineItemAnswer(req, row, fields, ls, "title_match"), nil
		}
	}

	emb, err := r.deps.Embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		return compose.Draft{}, fmt.Errorf("%w: embed query: %v", ErrCollaborator, err)
	}
	matches, err := r.deps.RPC.MatchLineItems(ctx, storage.MatchParams{
		Embedding:     emb.Embedding,
		MatchCount:    r.cfg.MatchCount,
		MinSimilarity: r.cfg.MinMatchSimilarity,
		FiscalYear:    res.FiscalYear,
		BarangayID:    ls.BarangayID,
	})
	if err != nil {
		return compose.Draft{}, err
	}

	ranked := rerank(li, matches, res.FiscalYear)
	if len(ranked) == 0 {
		return r.lineItemMiss(req, ls), nil
	}

	if shouldClarify(li, ranked, r.cfg.ClarifyDistanceGap) {
		return r.lineItemClarification(ctx, req, ranked, fields, ls)
	}

	row, err := r.deps.LineItems.GetByID(ctx, ranked[0].LineItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return r.lineItemMiss(req, ls), nil
	}
	if err != nil {
		return compose.Draft{}, err
	}
	return r.lineItemAnswer(req, row, fields, ls, "vector_match"), nil
}

// singleTitle returns the first row when every row shares one normalized title.
func singleTitle(rows []*storage.LineItem) *storage.LineItem {
	if len(rows) == 0 {
		return nil
	}
	first := intent.NormalizeTitle(rows[0].ProgramProjectTitle)
	for _, row := range rows[1:] {
		if intent.NormalizeTitle(row.ProgramProjectTitle) != first {
			return nil
		}
	}
	return rows[0]
}

func (r *Router) lineItemMiss(req Request, ls lineItemScope) compose.Draft {
	label := ""
	if ls.BarangayName != "" {
		label = compose.ScopeLabel(storage.ScopeBarangay, ls.BarangayName)
	}
	d := compose.RetrievalFailure(label, req.Intent.FiscalYear)
	d.Meta.Route = RouteLineItem
	d.Meta.ScopeReason = ls.Reason
	return d
}

func (r *Router) lineItemAnswer(req Request, row *storage.LineItem, fields []intent.FactField, ls lineItemScope, matchedBy string) compose.Draft {
	name := ls.BarangayName
	if row.BarangayID != nil {
		if lgu := req.Directory.Lookup(storage.ScopeBarangay, *row.BarangayID); lgu != nil {
			name = lgu.Name
		}
	}

	c := compose.LineItemCitation("L1", row, name, ls.global(), map[string]interface{}{
		"scope_reason": ls.Reason,
		"matched_by":   matchedBy,
	})
	return compose.Draft{
		Content:   compose.LineItemAnswer(row, fields, ls.disclosure()),
		Citations: []compose.Citation{c},
		Meta: compose.Meta{
			Route:             RouteLineItem,
			ScopeReason:       ls.Reason,
			AggregationSource: compose.SourceLineItemDB,
		},
	}
}

func (r *Router) lineItemClarification(ctx context.Context, req Request, ranked []rankedMatch, fields []intent.FactField, ls lineItemScope) (compose.Draft, error) {
	ids := make([]string, 0, len(ranked))
	for _, m := range ranked {
		ids = append(ids, m.LineItemID)
	}
	rows, err := r.deps.LineItems.GetByIDs(ctx, ids)
	if err != nil {
		return compose.Draft{}, err
	}

	place := compose.AllBarangaysLabel
	if !ls.global() {
		place = "Barangay (unspecified)"
		if ls.BarangayName != "" {
			place = compose.ScopeLabel(storage.ScopeBarangay, ls.BarangayName)
		}
	}

	var (
		options  []string
		chosen   []string
		refCodes []string
	)
	seen := make(map[string]bool)
	for _, m := range ranked {
		row := rows[m.LineItemID]
		if row == nil || strings.TrimSpace(row.ProgramProjectTitle) == "" {
			continue
		}
		opt := compose.LineItemOption(row, place)
		if seen[opt] {
			continue
		}
		seen[opt] = true
		options = append(options, opt)
		chosen = append(chosen, row.ID)
		ref := ""
		if row.AipRefCode != nil {
			ref = *row.AipRefCode
		}
		refCodes = append(refCodes, ref)
		if len(options) == r.cfg.MaxClarifyOptions {
			break
		}
	}

	if len(options) < 2 {
		if len(chosen) == 1 {
			return r.lineItemAnswer(req, rows[chosen[0]], fields, ls, "vector_match"), nil
		}
		return r.lineItemMiss(req, ls), nil
	}

	pending := &clarification.Pending{
		Kind:    clarification.KindLineItem,
		Options: options,
		Context: clarification.Context{
			Kind:             clarification.KindLineItem,
			OriginalIntent:   req.Intent.Intent,
			FiscalYearParsed: req.Intent.FiscalYear,
			LineItemIDs:      chosen,
			RefCodes:         refCodes,
			FactFields:       fields,
			ScopeReason:      ls.Reason,
			BarangayName:     ls.BarangayName,
		},
	}

	content := "I found multiple matching line items. Which one did you mean?" +
		clarification.OptionList(options) +
		"\nReply with 1-" + strconv.Itoa(len(options)) + ", or type the Ref code."

	d := compose.Clarify(content, pending, "")
	d.Meta.Route = RouteLineItem
	d.Meta.ScopeReason = ls.Reason
	return d, nil
}

// resumeLineItem answers the selected option without another vector search.
func (r *Router) resumeLineItem(ctx context.Context, p *clarification.Pending, idx int, dir *scope.Directory) (compose.Draft, error) {
	c := p.Context
	id := c.LineItemIDs[idx]
	row, err := r.deps.LineItems.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		d := compose.RetrievalFailure("", c.FiscalYearParsed)
		d.Meta.Route = RouteLineItem
		return d, nil
	}
	if err != nil {
		return compose.Draft{}, err
	}

	fields := c.FactFields
	if len(fields) == 0 {
		fields = defaultFactFields
	}
	ls := lineItemScope{Reason: c.ScopeReason, BarangayName: c.BarangayName}
	req := Request{Intent: intent.Result{Intent: c.OriginalIntent}, Directory: dir}
	return r.lineItemAnswer(req, row, fields, ls, "clarification_selection"), nil
}

type rankedMatch struct {
	storage.LineItemMatch
	Rerank          float64
	TokenOverlap    int
	RefMatch        bool
	YearMatch       bool
	TitlePhraseHit  bool
	normalizedTitle string
}

func baseScore(m storage.LineItemMatch) float64 {
	if m.Score != nil && !math.IsNaN(*m.Score) {
		return *m.Score
	}
	if m.Distance != nil {
		return 1 / (1 + *m.Distance)
	}
	return 0
}

// rerank boosts vector candidates by title token overlap, ref code and year.
func rerank(li intent.LineItemQuestion, matches []storage.LineItemMatch, year *int) []rankedMatch {
	ref := intent.NormalizeRefCode(li.RefCode)
	out := make([]rankedMatch, 0, len(matches))
	for _, m := range matches {
		title := intent.NormalizeTitle(m.ProgramProjectTitle)
		rm := rankedMatch{LineItemMatch: m, normalizedTitle: title}
		for _, tok := range li.KeyTokens {
			if strings.Contains(title, tok) {
				rm.TokenOverlap++
			}
		}
		if ref != "" && m.AipRefCode != nil {
			rm.RefMatch = intent.NormalizeRefCode(*m.AipRefCode) == ref
		}
		if year != nil && m.FiscalYear != nil {
			rm.YearMatch = *m.FiscalYear == *year
		}
		if li.TitlePhrase != "" {
			rm.TitlePhraseHit = strings.Contains(title, li.TitlePhrase)
		}

		rm.Rerank = baseScore(m) + math.Min(0.12, float64(rm.TokenOverlap)*0.02)
		if rm.RefMatch {
			rm.Rerank += 0.25
		}
		if rm.YearMatch {
			rm.Rerank += 0.05
		}
		out = append(out, rm)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rerank != out[j].Rerank {
			return out[i].Rerank > out[j].Rerank
		}
		return distanceOf(out[i]) < distanceOf(out[j])
	})
	return out
}

func distanceOf(m rankedMatch) float64 {
	if m.Distance == nil {
		return math.Inf(1)
	}
	return *m.Distance
}

func strongDisambiguator(li intent.LineItemQuestion, top rankedMatch) bool {
	if top.RefMatch {
		return true
	}
	if li.TitlePhrase != "" && top.TitlePhraseHit {
		return true
	}
	q := intent.NormalizeTitle(li.Normalized)
	return q != "" && top.normalizedTitle != "" && strings.Contains(q, top.normalizedTitle)
}

// shouldClarify reports whether the top two candidates are too close to pick.
func shouldClarify(li intent.LineItemQuestion, ranked []rankedMatch, gap float64) bool {
	if len(ranked) < 2 {
		return false
	}
	top, second := ranked[0], ranked[1]
	if strongDisambiguator(li, top) {
		return false
	}
	if top.normalizedTitle == "" || second.normalizedTitle == "" || top.normalizedTitle == second.normalizedTitle {
		return false
	}
	if top.Distance == nil || second.Distance == nil {
		return false
	}
	return math.Abs(*second.Distance-*top.Distance) <= gap
}
