// Package intent classifies budget questions into routing intents.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/scope"
)

// Intent represents the classified intent of a question.
type Intent string

const (
	TopProjects            Intent = "top_projects"
	TotalsBySector         Intent = "aggregate_totals_by_sector"
	TotalsByFundSource     Intent = "aggregate_totals_by_fund_source"
	CompareYears           Intent = "aggregate_compare_years"
	TotalInvestmentProgram Intent = "total_investment_program"
	RefLookup              Intent = "ref_lookup"
	FactLookup             Intent = "fact_lookup"
	Semantic               Intent = "semantic"
)

// IsAggregate reports whether the intent is answered by an aggregation RPC.
func (i Intent) IsAggregate() bool {
	switch i {
	case TopProjects, TotalsBySector, TotalsByFundSource, CompareYears:
		return true
	}
	return false
}

// Top-N limits.
const (
	DefaultLimit = 5
	MaxLimit     = 20
)

// Result is the classified intent with its parsed parameters.
type Result struct {
	Intent     Intent           `json:"intent"`
	Normalized string           `json:"-"`
	FiscalYear *int             `json:"fiscalYear,omitempty"`
	YearA      *int             `json:"yearA,omitempty"`
	YearB      *int             `json:"yearB,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	RefCode    string           `json:"refCode,omitempty"`
	LineItem   LineItemQuestion `json:"-"`
}

type rule struct {
	intent Intent
	match  func(q string, li LineItemQuestion, years []int) bool
}

var (
	comparePattern    = regexp.MustCompile(`\b(?:compare|vs|versus|difference)\b`)
	strongTotals      = regexp.MustCompile(`\btotal investment program\b|\bgrand total\b|\btip\b|\btotal aip\b`)
	totalsPattern     = regexp.MustCompile(`\btotal investment program\b|\bgrand total\b|\btotal budget\b|\btip\b|\bhow much is the (?:total |whole |overall )?budget\b|\boverall budget\b|\btotal aip\b`)
	topNPattern       = regexp.MustCompile(`\btop\s+(\d{1,3})\b`)
	topPattern        = regexp.MustCompile(`\btop\s+projects?\b|\b(?:largest|biggest|highest)\b.*\bprojects?\b`)
	sectorPattern     = regexp.MustCompile(`\b(?:by|per|each)\s+sector\b|\bsector\s+breakdown\b|\bsectors\b|\bsector\s+totals?\b`)
	fundSourcePattern = regexp.MustCompile(`\b(?:by|per)\s+fund(?:ing)?\s+sources?\b|\bfund(?:ing)?\s+sources\b`)
	groupBySector     = regexp.MustCompile(`\b(?:by|per|each)\s+sector\b`)
	groupByFundSource = regexp.MustCompile(`\b(?:by|per|each)\s+fund(?:ing)?\s+sources?\b`)
	quotedTitle       = regexp.MustCompile(`["“][^"”]{3,}["”]`)
	yearPattern       = regexp.MustCompile(`\b(?:fy\s*)?(20\d{2})\b`)
	unsupportedCue    = regexp.MustCompile(`\bwho stole\b|\bembezzl|\bcorrupt(?:ion)?\b|\bpredict\b|\bforecast\b|\bnext year\b.*\bbudget\b`)
)

// Rules are evaluated in order; the first match wins.
var rules = []rule{
	{RefLookup, func(q string, li LineItemQuestion, _ []int) bool { return li.RefCode != "" }},
	{TotalsBySector, func(q string, _ LineItemQuestion, years []int) bool {
		return explicitGrouping(q, years) && groupBySector.MatchString(q)
	}},
	{TotalsByFundSource, func(q string, _ LineItemQuestion, years []int) bool {
		return explicitGrouping(q, years) && groupByFundSource.MatchString(q)
	}},
	{FactLookup, func(q string, li LineItemQuestion, _ []int) bool {
		return li.IsFactQuestion() && namesProject(q, li) && !strongTotals.MatchString(q)
	}},
	{CompareYears, func(q string, _ LineItemQuestion, years []int) bool {
		return comparePattern.MatchString(q) && len(years) >= 2
	}},
	{TotalInvestmentProgram, func(q string, _ LineItemQuestion, _ []int) bool { return totalsPattern.MatchString(q) }},
	{TopProjects, func(q string, _ LineItemQuestion, _ []int) bool {
		return topNPattern.MatchString(q) || topPattern.MatchString(q)
	}},
	{TotalsBySector, func(q string, _ LineItemQuestion, _ []int) bool { return sectorPattern.MatchString(q) }},
	{TotalsByFundSource, func(q string, _ LineItemQuestion, _ []int) bool { return fundSourcePattern.MatchString(q) }},
}

// explicitGrouping reports a "by/per sector" or "by/per fund source" question
// that is neither a year comparison nor about a quoted title.
func explicitGrouping(q string, years []int) bool {
	if quotedTitle.MatchString(q) {
		return false
	}
	return !(comparePattern.MatchString(q) && len(years) >= 2)
}

// namesProject reports whether the leftover tokens identify a project. A
// single token is not enough when the question also carries aggregate
// vocabulary.
func namesProject(q string, li LineItemQuestion) bool {
	switch {
	case len(li.KeyTokens) == 0:
		return false
	case li.TitlePhrase != "" || quotedTitle.MatchString(q):
		return true
	}
	return !hasAggregateCue(q)
}

func hasAggregateCue(q string) bool {
	return topNPattern.MatchString(q) || topPattern.MatchString(q) ||
		sectorPattern.MatchString(q) || fundSourcePattern.MatchString(q)
}

// Normalize lower-cases and collapses whitespace.
func Normalize(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// Classify determines the intent and parameters for a question.
func Classify(question string) Result {
	return classify(Normalize(question), ParseLineItemQuestion(question))
}

// Refine drops key tokens that only name resolved places, such as a bare
// "of pulo", and re-runs the rules when that leaves a fact lookup without a
// project phrase.
func Refine(res Result, placeNames []string) Result {
	if res.Intent != FactLookup || len(placeNames) == 0 {
		return res
	}

	drop := make(map[string]bool)
	for _, name := range placeNames {
		for _, tok := range strings.Fields(NormalizeTitle(name)) {
			drop[tok] = true
		}
	}

	li := res.LineItem
	kept := make([]string, 0, len(li.KeyTokens))
	for _, tok := range li.KeyTokens {
		if !drop[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) == len(li.KeyTokens) {
		return res
	}

	li.KeyTokens = kept
	li.TitlePhrase = titlePhrase(kept)
	return classify(res.Normalized, li)
}

func classify(q string, li LineItemQuestion) Result {
	years := ExtractYears(q)

	res := Result{Intent: Semantic, Normalized: q, LineItem: li, RefCode: li.RefCode}
	for _, r := range rules {
		if r.match(q, li, years) {
			res.Intent = r.intent
			break
		}
	}

	if len(years) > 0 {
		res.FiscalYear = intPtr(years[0])
	}
	if res.Intent == CompareYears {
		res.YearA = intPtr(years[0])
		res.YearB = intPtr(years[1])
	}
	if res.Intent == TopProjects {
		res.Limit = parseLimit(q)
	}

	return res
}

func intPtr(n int) *int { return &n }

func parseLimit(q string) int {
	m := topNPattern.FindStringSubmatch(q)
	if m == nil {
		return DefaultLimit
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultLimit
	}
	return ClampLimit(n, MaxLimit)
}

// ClampLimit bounds a top-N limit to 1..max.
func ClampLimit(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// ExtractYears returns the distinct fiscal years mentioned, in order of appearance.
// Ref codes are removed first so "2000-01" is never read as a year.
func ExtractYears(normalized string) []int {
	text := refCodePattern.ReplaceAllString(normalized, " ")
	var years []int
	seen := make(map[int]bool)
	for _, m := range yearPattern.FindAllStringSubmatch(text, -1) {
		y, err := strconv.Atoi(m[1])
		if err != nil || seen[y] {
			continue
		}
		seen[y] = true
		years = append(years, y)
	}
	return years
}

// HasUnsupportedCue reports questions outside published AIP data, such as accusations or forecasts.
func HasUnsupportedCue(question string) bool {
	return unsupportedCue.MatchString(Normalize(question))
}

// stripScopeMentions removes explicitly named places so they never count as project tokens.
func stripScopeMentions(q string) string {
	mentions, _ := scope.DetectMentions(q, nil)
	for _, m := range mentions {
		q = strings.ReplaceAll(q, strings.ToLower(m.ScopeName), " ")
	}
	return q
}
