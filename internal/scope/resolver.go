package scope

import (
	"fmt"
	"strings"

	"github.com/openaip/budget-chat/internal/storage"
)

// Resolve maps a question and the caller's account scope to retrieval targets.
// It is a pure function of its inputs.
func Resolve(question string, account Account, dir *Directory) Resolution {
	if dir == nil {
		dir = &Directory{}
	}

	mentions, ownCue := DetectMentions(question, dir.knownBarangayNames())
	res := Resolution{
		Mode:             ModeGlobal,
		Targets:          []Target{},
		RequestedScopes:  mentions,
		UnresolvedScopes: []string{},
		AmbiguousScopes:  []AmbiguousMention{},
		Reason:           ReasonGlobal,
		OwnBarangayCue:   ownCue,
	}
	if res.RequestedScopes == nil {
		res.RequestedScopes = []Mention{}
	}

	seen := make(map[string]bool)
	for _, m := range mentions {
		candidates := dir.match(m)
		switch len(candidates) {
		case 0:
			res.UnresolvedScopes = append(res.UnresolvedScopes, fmt.Sprintf("%s:%s", m.ScopeType, m.ScopeName))
		case 1:
			c := candidates[0]
			key := string(m.ScopeType) + ":" + strings.ToLower(c.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			res.Targets = append(res.Targets, Target{ScopeType: m.ScopeType, ScopeID: c.ID, ScopeName: c.Name})
		default:
			res.AmbiguousScopes = append(res.AmbiguousScopes, AmbiguousMention{
				ScopeType:      m.ScopeType,
				ScopeName:      m.ScopeName,
				CandidateCount: len(candidates),
			})
		}
	}

	if len(res.Targets) > 0 {
		res.Mode = ModeNamedScopes
		res.Reason = explicitReason(res.Targets[0].ScopeType)
		return res
	}

	if len(mentions) > 0 {
		res.Reason = ReasonUnresolved
		return res
	}

	if ownCue && account.ScopeKind == storage.ScopeBarangay && account.ScopeID != "" {
		res.Mode = ModeNamedScopes
		res.Reason = ReasonExplicitOurBarangay
		res.Targets = append(res.Targets, Target{
			ScopeType: storage.ScopeBarangay,
			ScopeID:   account.ScopeID,
			ScopeName: dir.nameOf(storage.ScopeBarangay, account.ScopeID, "Your barangay"),
		})
		return res
	}

	if account.HasDefault() {
		res.Mode = ModeNamedScopes
		res.Reason = ReasonAccountScope
		res.Targets = append(res.Targets, Target{
			ScopeType:   account.ScopeKind,
			ScopeID:     account.ScopeID,
			ScopeName:   dir.nameOf(account.ScopeKind, account.ScopeID, "Your "+string(account.ScopeKind)),
			FromAccount: true,
		})
	}

	return res
}

func explicitReason(scopeType storage.ScopeType) Reason {
	switch scopeType {
	case storage.ScopeCity:
		return ReasonExplicitCity
	case storage.ScopeMunicipality:
		return ReasonExplicitMunicipality
	default:
		return ReasonExplicitBarangay
	}
}
