package planner

import (
	"github.com/tidwall/gjson"

	"code-review-pipeline/internal/domain"
)

var allowedExtraTypes = map[string]bool{
	domain.ExtraCallers:         true,
	domain.ExtraPreviousVersion: true,
	domain.ExtraSearch:          true,
}

// ParsePlan decodes and sanitizes a planner JSON document against the known
// unit ids. Items with a missing, unknown or duplicate unit_id are dropped;
// an out-of-enum context level drops that field only; extra requests are
// filtered to the allowed types; skip_review is coerced to bool from
// whatever scalar the model produced.
func ParsePlan(doc string, knownUnits map[string]bool) []domain.ContextPlanItem {
	var plan []domain.ContextPlanItem
	seen := make(map[string]bool)

	gjson.Get(doc, "plan").ForEach(func(_, item gjson.Result) bool {
		unitID := item.Get("unit_id").String()
		if unitID == "" || seen[unitID] {
			return true
		}
		if knownUnits != nil && !knownUnits[unitID] {
			return true
		}
		seen[unitID] = true

		p := domain.ContextPlanItem{
			UnitID:     unitID,
			SkipReview: item.Get("skip_review").Bool(),
			Reason:     item.Get("reason").String(),
		}

		if level := domain.ContextLevel(item.Get("llm_context_level").String()); level.Valid() {
			p.LLMContextLevel = level
		}

		item.Get("extra_requests").ForEach(func(_, er gjson.Result) bool {
			t := er.Get("type").String()
			if t == "" {
				// Tolerate bare-string extras like ["callers"].
				t = er.String()
			}
			if !allowedExtraTypes[t] {
				return true
			}
			p.ExtraRequests = append(p.ExtraRequests, domain.ExtraRequest{
				Type:  t,
				Query: er.Get("query").String(),
			})
			return true
		})

		plan = append(plan, p)
		return true
	})
	return plan
}
