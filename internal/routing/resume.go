package routing

import (
	"context"
	"time"

	"github.com/openaip/budget-chat/internal/clarification"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/intent"
	"github.com/openaip/budget-chat/internal/observability"
)

// Resume executes the option selected in reply to a pending clarification.
// req describes the reply message; the original question's parameters come
// from the pending context.
func (r *Router) Resume(ctx context.Context, req Request, p *clarification.Pending, index int) (compose.Draft, error) {
	ctx, span := observability.StartSpan(ctx, r.tracer, "routing.Resume", "kind", string(p.Kind))
	defer span.End()

	r.logger.WithContext(ctx).Info().
		Str("event", "clarification_resolved").
		Str("kind", string(p.Kind)).
		Int("option", index+1).
		Str("original_intent", string(p.Context.OriginalIntent)).
		Msg("Clarification resolved")

	c := p.Context
	switch p.Kind {
	case clarification.KindLineItem:
		start := time.Now()
		d, err := r.resumeLineItem(ctx, p, index, req.Directory)
		if err != nil {
			return compose.Draft{}, err
		}
		req.Intent = intent.Result{Intent: c.OriginalIntent, FiscalYear: c.FiscalYearParsed}
		return r.finish(ctx, req, RouteLineItem, d, start), nil

	default:
		req.Intent = intent.Result{
			Intent:     c.OriginalIntent,
			FiscalYear: c.FiscalYearParsed,
			YearA:      c.YearA,
			YearB:      c.YearB,
			Limit:      c.Limit,
		}
		if req.Intent.FiscalYear == nil && c.YearA != nil {
			req.Intent.FiscalYear = c.YearA
		}
		req.Fallback = &Fallback{
			Mode:     clarification.FallbackBarangaysInCity,
			CityID:   c.CityID,
			CityName: c.CityName,
		}
		return r.Route(ctx, req)
	}
}

// Remind repeats a pending clarification and keeps it pending.
func Remind(p *clarification.Pending) compose.Draft {
	d := compose.Clarify(clarification.ReminderMessage(p), p, "")
	d.Meta.Route = RouteClarification
	d.Meta.Reason = "clarification_reminder"
	d.Meta.CityID = p.Context.CityID
	return d
}

// Cancel acknowledges a cancelled clarification.
func Cancel(p *clarification.Pending) compose.Draft {
	return compose.Draft{
		Status:  compose.StatusAnswer,
		Content: clarification.CancelMessage(p.Kind),
		Citations: []compose.Citation{compose.SystemCitation("Clarification cancelled by the user.",
			map[string]interface{}{"reason": "clarification_cancelled", "kind": string(p.Kind)})},
		Meta: compose.Meta{Route: RouteClarification, Reason: "clarification_cancelled"},
	}
}
