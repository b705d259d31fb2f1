// Package scope resolves which jurisdictions a budget question refers to.
package scope

import (
	"github.com/openaip/budget-chat/internal/storage"
)

// Mode is the retrieval scope mode.
type Mode string

const (
	ModeGlobal      Mode = "global"
	ModeNamedScopes Mode = "named_scopes"
)

// Reason records why the resolved scope was chosen.
type Reason string

const (
	ReasonExplicitBarangay     Reason = "explicit_barangay"
	ReasonExplicitCity         Reason = "explicit_city"
	ReasonExplicitMunicipality Reason = "explicit_municipality"
	ReasonExplicitOurBarangay  Reason = "explicit_our_barangay"
	ReasonAccountScope         Reason = "account_scope"
	ReasonGlobal               Reason = "global"
	ReasonUnresolved           Reason = "unresolved_scope"
	ReasonFallbackBarangays    Reason = "fallback_barangays_in_city"
)

// Target is one resolved jurisdiction.
type Target struct {
	ScopeType   storage.ScopeType `json:"scope_type"`
	ScopeID     string            `json:"scope_id"`
	ScopeName   string            `json:"scope_name"`
	FromAccount bool              `json:"from_account,omitempty"`
}

// Mention is a jurisdiction named in the question text.
type Mention struct {
	ScopeType storage.ScopeType `json:"scopeType"`
	ScopeName string            `json:"scopeName"`
}

// AmbiguousMention is a mention that matched more than one directory entry.
type AmbiguousMention struct {
	ScopeType      storage.ScopeType `json:"scopeType"`
	ScopeName      string            `json:"scopeName"`
	CandidateCount int               `json:"candidateCount"`
}

// Resolution is the outcome of scope resolution together with its diagnostics.
type Resolution struct {
	Mode             Mode               `json:"mode"`
	Targets          []Target           `json:"resolvedTargets"`
	RequestedScopes  []Mention          `json:"requestedScopes"`
	UnresolvedScopes []string           `json:"unresolvedScopes"`
	AmbiguousScopes  []AmbiguousMention `json:"ambiguousScopes"`
	Reason           Reason             `json:"scopeReason"`
	OwnBarangayCue   bool               `json:"ownBarangayCue,omitempty"`
}

// Account is the caller's default scope.
type Account struct {
	UserID    string
	ScopeKind storage.ScopeType
	ScopeID   string
}

// HasDefault reports whether the account carries a default jurisdiction.
func (a Account) HasDefault() bool {
	return a.ScopeKind != "" && a.ScopeID != ""
}

// ExplicitTargets returns targets that came from the question rather than the account.
func (r Resolution) ExplicitTargets() []Target {
	out := make([]Target, 0, len(r.Targets))
	for _, t := range r.Targets {
		if !t.FromAccount {
			out = append(out, t)
		}
	}
	return out
}

// TargetsOfType returns the explicit targets of one scope type.
func (r Resolution) TargetsOfType(scopeType storage.ScopeType) []Target {
	var out []Target
	for _, t := range r.ExplicitTargets() {
		if t.ScopeType == scopeType {
			out = append(out, t)
		}
	}
	return out
}

// HasUnmatchedMentions reports whether any named place could not be matched exactly once.
func (r Resolution) HasUnmatchedMentions() bool {
	return len(r.UnresolvedScopes) > 0 || len(r.AmbiguousScopes) > 0
}

// UnmatchedMentions lists the named places that matched nothing or several
// entries, as "type:name".
func (r Resolution) UnmatchedMentions() []string {
	out := make([]string, 0, len(r.UnresolvedScopes)+len(r.AmbiguousScopes))
	out = append(out, r.UnresolvedScopes...)
	for _, m := range r.AmbiguousScopes {
		out = append(out, string(m.ScopeType)+":"+m.ScopeName)
	}
	return out
}

// AccountTarget returns the target taken from the account default, if any.
func (r Resolution) AccountTarget() *Target {
	for i := range r.Targets {
		if r.Targets[i].FromAccount {
			return &r.Targets[i]
		}
	}
	return nil
}
