package scope

import (
	"regexp"
	"strings"

	"github.com/openaip/budget-chat/internal/storage"
)

var (
	explicitBarangayPattern = regexp.MustCompile(`\b(?:barangay|brgy)\.?\s+`)
	ownBarangayPattern      = regexp.MustCompile(`\b(?:in|for)\s+(?:our|my)\s+barangay\b`)
	cityOfPattern           = regexp.MustCompile(`\bcity of\s+([a-z][a-z\s-]{1,80})`)
	inCityPattern           = regexp.MustCompile(`\b(?:in|for)\s+([a-z][a-z\s-]{1,80})\s+city\b`)
	suffixCityPattern       = regexp.MustCompile(`\b([a-z][a-z\s-]{1,80})\s+city\b`)
	municipalityOfPattern   = regexp.MustCompile(`\bmunicipality of\s+([a-z][a-z\s-]{1,80})`)
	suffixMunicipality      = regexp.MustCompile(`\b([a-z][a-z\s-]{1,80})\s+municipality\b`)
	bareScopePattern        = regexp.MustCompile(`\b(?:of|for|in)\s+`)
	punctuation             = regexp.MustCompile("[.,;:!?'\"`]")
	whitespace              = regexp.MustCompile(`\s+`)
)

var barangayStopWords = map[string]bool{
	"for": true, "fy": true, "fiscal": true, "year": true, "total": true,
	"investment": true, "program": true, "grand": true, "in": true, "top": true,
	"projects": true, "budget": true, "and": true,
}

// First tokens that mark "barangay" as a common noun rather than a name prefix.
var barangayRejectedFirstTokens = map[string]bool{
	"our": true, "my": true, "aming": true, "namin": true,
	"for": true, "fy": true, "fiscal": true, "year": true,
	"has": true, "have": true, "is": true, "are": true, "with": true, "level": true,
}

var placeStopWords = map[string]bool{
	"fy": true, "fiscal": true, "year": true, "total": true, "investment": true,
	"program": true, "top": true, "projects": true, "budget": true, "for": true,
	"and": true, "in": true, "of": true, "the": true, "sector": true, "by": true,
	"our": true, "my": true, "your": true, "this": true, "whole": true, "entire": true,
	"all": true,
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// normalizeText lower-cases, drops parentheses and collapses whitespace.
func normalizeText(s string) string {
	s = strings.NewReplacer("(", " ", ")", " ").Replace(strings.ToLower(s))
	return collapse(s)
}

func stripPunctuation(s string) string {
	return collapse(punctuation.ReplaceAllString(s, " "))
}

// NormalizeBarangayName normalizes a barangay name for equality matching.
func NormalizeBarangayName(name string) string {
	n := stripPunctuation(normalizeText(name))
	for _, prefix := range []string{"barangay ", "brgy "} {
		if strings.HasPrefix(n, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(n, prefix))
		}
	}
	return n
}

// NormalizeCityName normalizes a city name for equality matching.
func NormalizeCityName(name string) string {
	n := " " + stripPunctuation(normalizeText(name)) + " "
	n = strings.ReplaceAll(n, " city of ", " ")
	n = strings.ReplaceAll(n, " city ", " ")
	return collapse(n)
}

// NormalizeMunicipalityName normalizes a municipality name for equality matching.
func NormalizeMunicipalityName(name string) string {
	n := " " + stripPunctuation(normalizeText(name)) + " "
	n = strings.ReplaceAll(n, " municipality of ", " ")
	n = strings.ReplaceAll(n, " municipality ", " ")
	return collapse(n)
}

func normalizeFor(scopeType storage.ScopeType, name string) string {
	switch scopeType {
	case storage.ScopeCity:
		return NormalizeCityName(name)
	case storage.ScopeMunicipality:
		return NormalizeMunicipalityName(name)
	default:
		return NormalizeBarangayName(name)
	}
}

// leadingName keeps tokens up to the first stop word.
func leadingName(raw string, stop map[string]bool) string {
	var kept []string
	for _, tok := range strings.Fields(raw) {
		if stop[tok] {
			break
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// trailingName keeps tokens after the last stop word.
func trailingName(raw string, stop map[string]bool) string {
	tokens := strings.Fields(raw)
	start := 0
	for i, tok := range tokens {
		if stop[tok] {
			start = i + 1
		}
	}
	return strings.Join(tokens[start:], " ")
}

func hasOwnBarangayCue(text string) bool {
	return ownBarangayPattern.MatchString(text)
}

// detectExplicitBarangays finds "barangay X" and "brgy. X" mentions.
func detectExplicitBarangays(text string) []string {
	var names []string
	for _, loc := range explicitBarangayPattern.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		if i := strings.IndexAny(rest, ".,;:!?)"); i >= 0 {
			rest = rest[:i]
		}
		tokens := strings.Fields(stripPunctuation(rest))
		if len(tokens) == 0 || barangayRejectedFirstTokens[tokens[0]] {
			continue
		}
		if name := leadingName(strings.Join(tokens, " "), barangayStopWords); name != "" {
			names = append(names, name)
		}
	}
	return names
}

type placeCandidate struct {
	name     string
	trailing bool
}

// detectCity finds the first city mention in priority order: "city of X", "in X city", "X city".
func detectCity(text string) *placeCandidate {
	t := stripPunctuation(text)

	if m := cityOfPattern.FindStringSubmatch(t); m != nil {
		if name := leadingName(m[1], placeStopWords); name != "" {
			return &placeCandidate{name: name}
		}
	}

	for _, re := range []*regexp.Regexp{inCityPattern, suffixCityPattern} {
		for _, loc := range re.FindAllStringSubmatchIndex(t, -1) {
			if strings.HasPrefix(t[loc[1]:], "-") {
				continue
			}
			name := trailingName(t[loc[2]:loc[3]], placeStopWords)
			if name == "" || strings.HasPrefix(name, "barangay") {
				continue
			}
			return &placeCandidate{name: name, trailing: true}
		}
	}
	return nil
}

func detectMunicipality(text string) *placeCandidate {
	t := stripPunctuation(text)
	if m := municipalityOfPattern.FindStringSubmatch(t); m != nil {
		if name := leadingName(m[1], placeStopWords); name != "" {
			return &placeCandidate{name: name}
		}
	}
	if m := suffixMunicipality.FindStringSubmatch(t); m != nil {
		if name := trailingName(m[1], placeStopWords); name != "" {
			return &placeCandidate{name: name, trailing: true}
		}
	}
	return nil
}

// detectBareBarangay matches "of|for|in <name>" and the whole text against known barangay names.
func detectBareBarangay(text string, known map[string]bool) string {
	if len(known) == 0 {
		return ""
	}
	t := stripPunctuation(text)
	for _, loc := range bareScopePattern.FindAllStringIndex(t, -1) {
		var tokens []string
		for _, tok := range strings.Fields(t[loc[1]:]) {
			if barangayStopWords[tok] || !isAlphaToken(tok) {
				break
			}
			tokens = append(tokens, tok)
		}
		if candidate := NormalizeBarangayName(strings.Join(tokens, " ")); candidate != "" && known[candidate] {
			return candidate
		}
	}
	if standalone := NormalizeBarangayName(t); standalone != "" && known[standalone] {
		return standalone
	}
	return ""
}

func isAlphaToken(tok string) bool {
	for _, r := range tok {
		if (r < 'a' || r > 'z') && r != '-' {
			return false
		}
	}
	return tok != ""
}

// DetectMentions extracts requested scopes and the own-barangay cue from a question.
func DetectMentions(question string, knownBarangays map[string]bool) ([]Mention, bool) {
	text := normalizeText(question)
	var mentions []Mention

	explicit := detectExplicitBarangays(text)
	for _, name := range explicit {
		mentions = append(mentions, Mention{ScopeType: storage.ScopeBarangay, ScopeName: name})
	}
	if city := detectCity(text); city != nil {
		mentions = append(mentions, Mention{ScopeType: storage.ScopeCity, ScopeName: city.name})
	}
	if mun := detectMunicipality(text); mun != nil {
		mentions = append(mentions, Mention{ScopeType: storage.ScopeMunicipality, ScopeName: mun.name})
	}
	if len(explicit) == 0 {
		if bare := detectBareBarangay(text, knownBarangays); bare != "" {
			mentions = append(mentions, Mention{ScopeType: storage.ScopeBarangay, ScopeName: bare})
		}
	}

	return dedupeMentions(mentions), hasOwnBarangayCue(text)
}

func dedupeMentions(in []Mention) []Mention {
	seen := make(map[string]bool, len(in))
	out := make([]Mention, 0, len(in))
	for _, m := range in {
		key := string(m.ScopeType) + ":" + normalizeFor(m.ScopeType, m.ScopeName)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
