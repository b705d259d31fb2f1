// Package clarification implements the two-turn clarification protocol.
//
// A clarification turn persists a Pending value inside the assistant
// message's retrieval metadata. The next user message is matched against it
// with Match; nothing is held in memory between turns.
package clarification

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/intent"
)

// Kind identifies what a clarification is asking about.
type Kind string

const (
	KindCityFallback Kind = "city_aip_missing_fallback"
	KindLineItem     Kind = "line_item_disambiguation"
)

// FallbackBarangaysInCity is the fallback mode pinned by a city selection.
const FallbackBarangaysInCity = "barangays_in_city"

// Context carries everything needed to resume the original question.
type Context struct {
	Kind             Kind          `json:"kind"`
	OriginalIntent   intent.Intent `json:"originalIntent,omitempty"`
	CityID           string        `json:"cityId,omitempty"`
	CityName         string        `json:"cityName,omitempty"`
	CityLabel        string        `json:"cityLabel,omitempty"`
	FiscalYearParsed *int          `json:"fiscalYearParsed,omitempty"`
	YearA            *int          `json:"yearA,omitempty"`
	YearB            *int          `json:"yearB,omitempty"`
	Limit            int           `json:"limit,omitempty"`

	LineItemIDs  []string           `json:"lineItemIds,omitempty"`
	RefCodes     []string           `json:"refCodes,omitempty"`
	FactFields   []intent.FactField `json:"factFields,omitempty"`
	ScopeReason  string             `json:"scopeReason,omitempty"`
	BarangayName string             `json:"barangayName,omitempty"`
}

// Pending is a clarification awaiting the user's reply.
type Pending struct {
	Kind    Kind     `json:"kind"`
	Options []string `json:"options"`
	Context Context  `json:"context"`
}

// FromRetrievalMeta extracts a pending clarification from persisted
// retrieval metadata. It returns nil when none is present or the payload is
// unusable.
func FromRetrievalMeta(raw json.RawMessage) *Pending {
	if len(raw) == 0 {
		return nil
	}
	var meta struct {
		Status        string   `json:"status"`
		Clarification *Pending `json:"clarification"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil || meta.Clarification == nil {
		return nil
	}
	p := meta.Clarification
	if len(p.Options) == 0 {
		return nil
	}
	switch p.Kind {
	case KindCityFallback:
		if p.Context.CityID == "" {
			return nil
		}
	case KindLineItem:
		if len(p.Context.LineItemIDs) == 0 {
			return nil
		}
	default:
		return nil
	}
	return p
}

// Outcome is the result of matching a reply against a pending clarification.
type Outcome int

const (
	NoMatch Outcome = iota
	Selected
	Cancelled
	Reminder
)

func (o Outcome) String() string {
	switch o {
	case Selected:
		return "selected"
	case Cancelled:
		return "cancelled"
	case Reminder:
		return "reminder"
	}
	return "no_match"
}

// MatchResult is an Outcome plus the zero-based selected option.
type MatchResult struct {
	Outcome Outcome
	Index   int
}

var (
	numericReply = regexp.MustCompile(`^(?:option\s+)?(\d{1,3})\s*[.)]?$`)
	refReply     = regexp.MustCompile(`^(?:ref(?:erence)?\.?\s*(?:code)?\s*:?\s*)?(\d{4}(?:-[a-z0-9]+)+)\.?$`)
	cancelReply  = regexp.MustCompile(`^(?:none of the above|none|cancel|never ?mind|neither)\b`)
)

// Match classifies a reply to a pending clarification.
func Match(p *Pending, reply string) MatchResult {
	if p == nil {
		return MatchResult{Outcome: NoMatch}
	}
	text := intent.Normalize(reply)
	text = strings.TrimRight(text, "!? ")

	if cancelReply.MatchString(text) {
		return MatchResult{Outcome: Cancelled}
	}

	if m := numericReply.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= len(p.Options) {
			return MatchResult{Outcome: Selected, Index: n - 1}
		}
		return MatchResult{Outcome: Reminder}
	}

	if p.Kind != KindLineItem {
		return MatchResult{Outcome: NoMatch}
	}

	if m := refReply.FindStringSubmatch(text); m != nil {
		want := intent.NormalizeRefCode(m[1])
		for i, ref := range p.Context.RefCodes {
			if ref != "" && intent.NormalizeRefCode(ref) == want && i < len(p.Options) {
				return MatchResult{Outcome: Selected, Index: i}
			}
		}
		return MatchResult{Outcome: NoMatch}
	}

	if len(strings.Fields(text)) <= 3 {
		return MatchResult{Outcome: Reminder}
	}
	return MatchResult{Outcome: NoMatch}
}

// CancelMessage is the reply to a cancelled clarification.
func CancelMessage(kind Kind) string {
	if kind == KindLineItem {
		return "Okay - please restate the project title or provide the Ref code."
	}
	return "Okay - please restate your question with a specific barangay or fiscal year."
}

// ReminderMessage repeats how to answer the pending clarification.
func ReminderMessage(p *Pending) string {
	if p.Kind == KindLineItem {
		var b strings.Builder
		b.WriteString("Please reply with 1-")
		b.WriteString(strconv.Itoa(len(p.Options)))
		b.WriteString(", or type the Ref code.")
		b.WriteString(OptionList(p.Options))
		return b.String()
	}
	return "Please reply with 1 to use barangays in " + p.Context.CityLabel + "."
}

// OptionList renders options as a numbered list preceded by a newline.
func OptionList(options []string) string {
	var b strings.Builder
	for i, opt := range options {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt)
	}
	return b.String()
}
