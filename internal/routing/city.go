package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/openaip/budget-chat/internal/clarification"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

// cityAIPs maps each requested fiscal year to the city's published AIP.
type cityAIPs map[int]*storage.AIP

// resolveCityScope returns the city's AIPs when every year is published,
// otherwise the barangays-in-city clarification.
func (r *Router) resolveCityScope(ctx context.Context, req Request, city scope.Target, years []int) (cityAIPs, *compose.Draft, error) {
	found := make(cityAIPs, len(years))
	var missing []int
	for _, y := range years {
		aip, err := r.deps.AIPs.FindPublished(ctx, storage.ScopeCity, city.ScopeID, intPtr(y))
		if errors.Is(err, storage.ErrNotFound) {
			missing = append(missing, y)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("find city AIP: %w", err)
		}
		found[y] = aip
	}
	if len(missing) == 0 {
		return found, nil, nil
	}

	d := r.cityClarification(req, city, missing)
	return nil, &d, nil
}

func (r *Router) cityClarification(req Request, city scope.Target, missing []int) compose.Draft {
	label := compose.ScopeLabel(storage.ScopeCity, city.ScopeName)
	option := "Use barangays in " + label
	res := req.Intent

	pending := &clarification.Pending{
		Kind:    clarification.KindCityFallback,
		Options: []string{option},
		Context: clarification.Context{
			Kind:             clarification.KindCityFallback,
			OriginalIntent:   res.Intent,
			CityID:           city.ScopeID,
			CityName:         city.ScopeName,
			CityLabel:        label,
			FiscalYearParsed: res.FiscalYear,
			YearA:            res.YearA,
			YearB:            res.YearB,
			Limit:            res.Limit,
		},
	}

	d := compose.Clarify(compose.CityFallbackPrompt(label, missing, option), pending, "")
	d.Meta.CityID = city.ScopeID
	d.Meta.Route = RouteClarification
	return d
}

// fallbackCity names the city a pinned fallback expands.
func fallbackCity(req Request) (id, name, label string) {
	id = req.Fallback.CityID
	name = req.Fallback.CityName
	if name == "" {
		if lgu := req.Directory.Lookup(storage.ScopeCity, id); lgu != nil {
			name = lgu.Name
		}
	}
	return id, name, compose.ScopeLabel(storage.ScopeCity, name)
}

// fallbackMetadata is attached to the first citation of every fallback answer.
func fallbackMetadata(cityID string, passed []string, covered []CoverageEntry, source string) map[string]interface{} {
	return map[string]interface{}{
		"fallback_mode":              clarification.FallbackBarangaysInCity,
		"scope_reason":               string(scope.ReasonFallbackBarangays),
		"city_id":                    cityID,
		"barangay_ids_count":         len(passed),
		"covered_barangay_ids_count": len(covered),
		"coverage_barangays":         entryNames(covered),
		"aggregation_source":         source,
	}
}

func markFallback(d *compose.Draft, cityID, source string) {
	d.Meta.FallbackMode = clarification.FallbackBarangaysInCity
	d.Meta.ScopeReason = string(scope.ReasonFallbackBarangays)
	d.Meta.CityID = cityID
	d.Meta.AggregationSource = source
}
