// Package fusion deterministically merges the rule layer's suggestion with
// the planner's plan into the final per-unit decision. Pure; the confidence
// bands decide who wins.
package fusion

import (
	"code-review-pipeline/internal/domain"
)

// Confidence bands. At or above ruleDominant the rule anchors the decision;
// below plannerWins the planner is trusted outright.
const (
	ruleDominant = 0.8
	plannerWins  = 0.5
)

// Fuse produces one FusedPlanItem per unit, in unit order. Planner items for
// unknown units were already dropped during validation.
func Fuse(units []*domain.ReviewUnit, plan []domain.ContextPlanItem) []domain.FusedPlanItem {
	byUnit := make(map[string]*domain.ContextPlanItem, len(plan))
	for i := range plan {
		byUnit[plan[i].UnitID] = &plan[i]
	}

	out := make([]domain.FusedPlanItem, 0, len(units))
	for _, u := range units {
		out = append(out, fuseOne(u, byUnit[u.UnitID]))
	}
	return out
}

func fuseOne(u *domain.ReviewUnit, p *domain.ContextPlanItem) domain.FusedPlanItem {
	item := domain.FusedPlanItem{UnitID: u.UnitID}

	rule := u.Rule
	if rule == nil {
		rule = &domain.RuleSuggestion{ContextLevel: domain.RuleFunction, Confidence: 0.35, Notes: "default_fallback"}
	}
	ruleLevel := rule.ContextLevel.ToContextLevel()

	var plannerLevel domain.ContextLevel
	if p != nil {
		plannerLevel = p.LLMContextLevel
	}

	switch {
	case rule.Confidence >= ruleDominant:
		// The rule anchors; the planner may only widen the scope.
		item.FinalContextLevel = ruleLevel
		if plannerLevel.Valid() && plannerLevel.Rank() > ruleLevel.Rank() {
			item.FinalContextLevel = plannerLevel
		}
	case rule.Confidence >= plannerWins:
		if plannerLevel.Valid() {
			item.FinalContextLevel = plannerLevel
		} else {
			item.FinalContextLevel = ruleLevel
		}
	default:
		if plannerLevel.Valid() {
			item.FinalContextLevel = plannerLevel
		} else {
			item.FinalContextLevel = ruleLevel
		}
	}

	item.ExtraRequests = unionExtras(rule.ExtraRequests, extrasOf(p))

	if p != nil {
		item.SkipReview = p.SkipReview
		item.Reason = p.Reason
	}
	if item.Reason == "" {
		item.Reason = rule.Notes
	}

	// Never skip a unit carrying a high-risk tag, whatever the planner said.
	if item.SkipReview && u.HasHighRiskTag() {
		item.SkipReview = false
		item.Reason = "skip suppressed: high-risk tag"
	}
	return item
}

func extrasOf(p *domain.ContextPlanItem) []domain.ExtraRequest {
	if p == nil {
		return nil
	}
	return p.ExtraRequests
}

// unionExtras merges by type, rule extras first. A later duplicate can only
// contribute its query when the kept one has none.
func unionExtras(a, b []domain.ExtraRequest) []domain.ExtraRequest {
	var out []domain.ExtraRequest
	index := make(map[string]int)
	for _, er := range append(append([]domain.ExtraRequest{}, a...), b...) {
		if i, ok := index[er.Type]; ok {
			if out[i].Query == "" && er.Query != "" {
				out[i].Query = er.Query
			}
			continue
		}
		index[er.Type] = len(out)
		out = append(out, er)
	}
	return out
}
