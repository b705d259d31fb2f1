package compose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/intent"
)

const maxSuggestions = 3

func suggestions(list ...string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// DocumentLimitation refuses questions about fields AIPs never carry.
func DocumentLimitation(field intent.DocLimitField) Draft {
	return Refusal(ReasonDocumentLimitation,
		"The published AIP does not list "+field.Label()+". I can answer amounts, fund sources, and schedules when they are present.",
		suggestions(
			"Ask for the project's amount, fund source, or schedule.",
			"Provide a Ref code if available.",
			"Ask for top projects or totals by sector/fund source.",
		)...)
}

// UnsupportedRequest refuses speculative or accusatory questions.
func UnsupportedRequest() Draft {
	return Refusal(ReasonUnsupportedRequest,
		"I can only answer based on published AIP data. Please ask about totals, line-item amounts, fund sources, or schedules.",
		suggestions(
			"Ask for a project amount, fund source, or schedule.",
			"Ask for totals by sector, fund source, or top projects.",
		)...)
}

// MissingFiscalYear asks for the fiscal year of an aggregate.
func MissingFiscalYear() Draft {
	return Clarify("Which fiscal year should I use (e.g., FY 2025 or FY 2026)?", nil, ReasonMissingParameter,
		suggestions("Reply with a fiscal year, such as FY 2026.")...)
}

// MissingCompareYears asks for both years of a comparison.
func MissingCompareYears() Draft {
	return Clarify("Which two fiscal years should I compare (e.g., FY 2025 vs FY 2026)?", nil, ReasonMissingParameter,
		suggestions("Reply with two fiscal years, such as 2025 vs 2026.")...)
}

// AmbiguousScope asks for an exact place name. Unmatched mentions are
// "type:name" pairs and are named in the reply and the citation.
func AmbiguousScope(unmatched ...string) Draft {
	content := "I couldn't match the requested barangay/city name. Please specify the exact name (e.g., 'Barangay Pulo') or choose 'across all barangays'."
	var names []string
	for _, m := range unmatched {
		kind, name, ok := strings.Cut(m, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, fmt.Sprintf("%q (%s)", name, kind))
	}
	if len(names) > 0 {
		content += "\nI couldn't match: " + strings.Join(names, ", ") + "."
	}

	d := Clarify(content, nil, ReasonAmbiguousScope,
		suggestions(
			"Use the exact scope name, such as Barangay Pulo.",
			"Say 'across all barangays' to use global scope.",
		)...)
	if len(unmatched) > 0 {
		d.Citations[0].Metadata["unresolved_scopes"] = unmatched
	}
	return d
}

// UnsupportedAggregateScope asks the user to narrow an aggregate to barangays.
func UnsupportedAggregateScope() Draft {
	return Clarify("I can aggregate by one barangay or across all barangays.", nil, ReasonAmbiguousScope,
		suggestions(
			"Name one barangay, such as Barangay Pulo.",
			"Say 'across all barangays' to use global scope.",
		)...)
}

// RetrievalFailure reports that nothing matched.
func RetrievalFailure(scopeLabel string, fiscalYear *int) Draft {
	var b strings.Builder
	b.WriteString("I couldn't find a matching published AIP entry")
	if scopeLabel != "" {
		b.WriteString(" for " + scopeLabel)
	}
	if fiscalYear != nil {
		b.WriteString(" for FY " + strconv.Itoa(*fiscalYear))
	}
	b.WriteString(". Try using the exact project title or a Ref code.")

	return Refusal(ReasonRetrievalFailure, b.String(),
		suggestions(
			"Try the exact project title as written in the AIP.",
			"Provide the Ref code (e.g., 8000-003-002-006).",
			"Remove extra filters (scope/year) to broaden search.",
		)...)
}
