package rules

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// SpecificityWeights controls how much each matched dimension contributes
// when breaking priority ties. The defaults rank an exact SKU above a SKU
// prefix, a prefix above a brand, and a brand above an account; a rule that
// only names an account group gains nothing and falls to the rule-ID
// tie-break. Weights are additive across dimensions.
type SpecificityWeights struct {
	SKU          int
	SKUPrefix    int
	Brand        int
	Account      int
	AccountGroup int
}

// DefaultSpecificityWeights returns the standard tie-break policy.
func DefaultSpecificityWeights() SpecificityWeights {
	return SpecificityWeights{SKU: 4, SKUPrefix: 3, Brand: 2, Account: 1, AccountGroup: 0}
}

// Specificity scores a rule under the given weights. Only populated
// dimensions count; the caller is expected to pass candidates, for which
// every populated dimension matched.
func Specificity(r *Rule, w SpecificityWeights) int {
	score := 0
	if r.SKU != "" {
		score += w.SKU
	}
	if r.SKUPrefix != "" {
		score += w.SKUPrefix
	}
	if r.Brand != "" {
		score += w.Brand
	}
	if r.Account != "" {
		score += w.Account
	}
	if r.AccountGroup != "" {
		score += w.AccountGroup
	}
	return score
}

// Rank totally orders candidates: priority ascending, then specificity
// descending, then rule ID ascending. It is a pure function of the candidate
// set; for a fixed snapshot, line and date it always produces the same order
// regardless of how the input was arranged.
func Rank(candidates []Rule, w SpecificityWeights) []Match {
	ranked := make([]Match, 0, len(candidates))
	for i := range candidates {
		r := &candidates[i]
		ranked = append(ranked, Match{
			RuleID:      r.ID,
			Name:        r.Name,
			Priority:    r.Priority,
			Specificity: Specificity(r, w),
		})
	}
	sort.Slice(ranked, func(a, b int) bool {
		ra, rb := ranked[a], ranked[b]
		if ra.Priority != rb.Priority {
			return ra.Priority < rb.Priority
		}
		if ra.Specificity != rb.Specificity {
			return ra.Specificity > rb.Specificity
		}
		return ra.RuleID < rb.RuleID
	})
	return ranked
}

// ApplyResult is the outcome of applying a winning rule's action.
type ApplyResult struct {
	Price decimal.Decimal
	// Clamped is set when the raw action result was negative and the price
	// was forced to zero. A data-quality condition, not an error.
	Clamped bool
}

var oneHundred = decimal.NewFromInt(100)

// ApplyAction computes the unit price produced by a price action against
// base. set_tier is not a price action — it redirects the base-price lookup
// and must be handled before this point.
func ApplyAction(r *Rule, base decimal.Decimal) (ApplyResult, error) {
	v, err := r.PriceValue()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("rule %s: action_value %q is not numeric", r.ID, r.ActionValue)
	}

	var price decimal.Decimal
	switch r.ActionType {
	case ActionOverrideUnitPrice:
		price = v
	case ActionDiscountAmount:
		price = base.Sub(v)
	case ActionDiscountPercent:
		price = base.Mul(oneHundred.Sub(v)).Div(oneHundred)
	case ActionPriceFloor:
		if base.GreaterThan(v) {
			price = base
		} else {
			price = v
		}
	default:
		return ApplyResult{}, fmt.Errorf("rule %s: %s is not a price action", r.ID, r.ActionType)
	}

	if price.IsNegative() {
		return ApplyResult{Price: decimal.Zero, Clamped: true}, nil
	}
	return ApplyResult{Price: price}, nil
}
