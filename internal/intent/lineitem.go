package intent

import (
	"regexp"
	"strings"
)

// FactField is a line-item field a question asks about.
type FactField string

const (
	FieldAmount             FactField = "amount"
	FieldSchedule           FactField = "schedule"
	FieldFundSource         FactField = "fund_source"
	FieldImplementingAgency FactField = "implementing_agency"
	FieldExpectedOutput     FactField = "expected_output"
)

// DocLimitField is a field that published AIPs never contain.
type DocLimitField string

const (
	DocLimitContractor       DocLimitField = "contractor"
	DocLimitProcurementMode  DocLimitField = "procurement_mode"
	DocLimitExactAddress     DocLimitField = "exact_address"
	DocLimitBeneficiaryCount DocLimitField = "beneficiary_count"
)

// Label returns the phrase used in document-limitation refusals.
func (f DocLimitField) Label() string {
	switch f {
	case DocLimitContractor:
		return "contractors, suppliers, or winning bidders"
	case DocLimitProcurementMode:
		return "procurement mode"
	case DocLimitExactAddress:
		return "the exact site address"
	case DocLimitBeneficiaryCount:
		return "beneficiary counts"
	}
	return "that field"
}

// LineItemQuestion holds what a question says about a specific line item.
type LineItemQuestion struct {
	Normalized     string        `json:"-"`
	FactFields     []FactField   `json:"factFields,omitempty"`
	KeyTokens      []string      `json:"keyTokens,omitempty"`
	TitlePhrase    string        `json:"titlePhrase,omitempty"`
	GlobalScopeCue bool          `json:"globalScopeCue,omitempty"`
	RefCode        string        `json:"refCode,omitempty"`
	DocLimit       DocLimitField `json:"docLimit,omitempty"`
}

// IsFactQuestion reports whether any fact field was requested.
func (q LineItemQuestion) IsFactQuestion() bool {
	return len(q.FactFields) > 0
}

var (
	refCodePattern     = regexp.MustCompile(`\b\d{4}(?:-[a-z0-9]+)+\b`)
	tokenSplitPattern  = regexp.MustCompile(`[^a-z0-9]+`)
	fyTokenPattern     = regexp.MustCompile(`^(?:fy)?20\d{2}$`)
	globalScopePattern = regexp.MustCompile(`\ball\s+barangays\b|\bacross\s+all\s+barangays\b|\ball\s+published\s+aips\b|\bcity\s*[-\s]?wide\b`)
)

var factCues = []struct {
	field FactField
	cues  []string
}{
	{FieldAmount, []string{"how much", "amount", "allocated", "allocation", "budget", "cost"}},
	{FieldSchedule, []string{"schedule", "timeline", "start", "end date", "target completion", "when"}},
	{FieldFundSource, []string{"fund source", "funding source", "source of funds", "funded by"}},
	{FieldImplementingAgency, []string{"implementing agency", "implementing office", "implemented by", "who will implement"}},
	{FieldExpectedOutput, []string{"expected output", "target output", "deliverable", "output"}},
}

var docLimitCues = []struct {
	field DocLimitField
	cues  []string
}{
	{DocLimitContractor, []string{"contractor", "supplier", "winning bidder", "awarded to"}},
	{DocLimitProcurementMode, []string{"procurement"}},
	{DocLimitExactAddress, []string{"site address", "exact address"}},
	{DocLimitBeneficiaryCount, []string{"beneficiary count", "beneficiaries"}},
}

var noiseTerms = toSet(
	// question words and fact cues
	"what", "which", "where", "when", "how", "much", "allocated", "allocation", "for", "the",
	"and", "from", "in", "on", "of", "to", "is", "are", "fy", "year", "fiscal", "program",
	"project", "total", "schedule", "fund", "source", "agency", "implementing", "output",
	"barangay", "all", "published", "aips", "amount", "cost", "timeline", "start", "end",
	"date", "target", "completion", "funded", "funding", "funds", "implemented", "implement",
	"who", "will", "expected", "deliverable", "office", "tell", "about", "details", "please",
	"give", "does", "did", "can", "you", "this", "that", "there", "with", "across", "wide",
	// aggregate vocabulary
	"top", "projects", "largest", "biggest", "highest", "sector", "sectors", "breakdown",
	"sources", "totals", "compare", "versus", "difference", "budget", "exist", "list",
	"show", "per", "each", "city", "citywide", "municipality", "brgy", "investment", "grand",
	"tip", "aip", "overall",
	// plurals and verbs that show up around aggregates
	"allocations", "amounts", "costs", "budgets", "goes", "go", "get", "gets", "exists",
	"have", "has", "spent", "spend", "spending", "most", "least", "lowest", "smallest",
)

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

// ParseLineItemQuestion extracts fact fields, key tokens and cues for line-item routing.
func ParseLineItemQuestion(question string) LineItemQuestion {
	q := Normalize(question)
	out := LineItemQuestion{
		Normalized:     q,
		GlobalScopeCue: globalScopePattern.MatchString(q),
	}

	for _, fc := range factCues {
		if containsAny(q, fc.cues) {
			out.FactFields = append(out.FactFields, fc.field)
		}
	}
	for _, dc := range docLimitCues {
		if containsAny(q, dc.cues) {
			out.DocLimit = dc.field
			break
		}
	}
	if m := refCodePattern.FindString(q); m != "" {
		out.RefCode = strings.ToUpper(m)
	}

	out.KeyTokens = keyTokens(stripScopeMentions(refCodePattern.ReplaceAllString(q, " ")))
	out.TitlePhrase = titlePhrase(out.KeyTokens)

	return out
}

func titlePhrase(tokens []string) string {
	if len(tokens) < 2 {
		return ""
	}
	if phrase := strings.Join(tokens, " "); len(phrase) >= 6 {
		return phrase
	}
	return ""
}

func keyTokens(q string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, tok := range tokenSplitPattern.Split(q, -1) {
		if len(tok) < 3 || noiseTerms[tok] || fyTokenPattern.MatchString(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}

// NormalizeTitle lower-cases a title and drops punctuation other than hyphens.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeRefCode lower-cases a ref code and drops characters outside [a-z0-9-].
func NormalizeRefCode(ref string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ref) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
