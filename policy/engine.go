package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Apply derives the full order policy from an already-resolved program, the
// order context and the computed subtotal. lineConflicts reports whether any
// priced line was touched by same-priority rule conflicts; combined with a
// default-layer program it marks the order for review. Apply is a single
// pass with no side effects and no external calls.
func (t *Table) Apply(res Resolution, octx OrderContext, subtotal decimal.Decimal, lineConflicts bool) Result {
	program := t.Program(res.ProgramID)

	out := Result{Program: res}
	out.Terms = t.computeTerms(&program, octx.OrderDate, subtotal)
	out.Freight = computeFreight(&program.Freight, subtotal)
	out.Holds = t.computeHolds(&program, octx, subtotal)

	// Freight always appears in the adjustment list; under FFA it is an
	// explicit zero so the waiver is visible in the total breakdown.
	out.Adjustments = append(out.Adjustments, Adjustment{
		Code:        "FREIGHT",
		Amount:      out.Freight.Amount,
		Description: freightDescription(out.Freight),
	})
	for _, c := range program.Charges {
		out.Adjustments = append(out.Adjustments, Adjustment{
			Code:        c.Code,
			Amount:      c.Amount,
			Description: c.Description,
		})
	}

	total := subtotal
	for _, a := range out.Adjustments {
		total = total.Add(a.Amount)
	}
	out.Total = total.Round(2)

	out.NeedsReview, out.ReviewReason = reviewState(res, out.Holds, lineConflicts)
	return out
}

// computeTerms picks the first bracket containing the order total, falling
// back to the program-wide default term. Brackets are inclusive at both
// ends; a zero MaxTotal is unbounded above.
func (t *Table) computeTerms(program *Program, orderDate string, total decimal.Decimal) Terms {
	code := program.DefaultTermsCode
	days := program.DefaultTermDays
	if code == "" {
		code = "NET30"
		days = 30
	}

	for _, b := range program.TermsBrackets {
		if total.LessThan(b.MinTotal) {
			continue
		}
		if !b.MaxTotal.IsZero() && total.GreaterThan(b.MaxTotal) {
			continue
		}
		code = b.TermsCode
		days = b.TermDays
		break
	}

	return Terms{Code: code, DueDate: dueDate(orderDate, days)}
}

func dueDate(orderDate string, days int) string {
	d, err := time.Parse("2006-01-02", orderDate)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, days).Format("2006-01-02")
}

// computeFreight applies the program's freight policy. The FFA comparison
// is inclusive: a subtotal exactly at the threshold ships free.
func computeFreight(cfg *FreightConfig, subtotal decimal.Decimal) Freight {
	if cfg.HasFFA && subtotal.GreaterThanOrEqual(cfg.FFAThreshold) {
		return Freight{Mode: FreightFFA, Amount: decimal.Zero}
	}
	if cfg.UseFlat {
		return Freight{Mode: FreightFlat, Amount: cfg.FlatAmount.Round(2)}
	}
	amount := subtotal.Mul(cfg.Percent).Div(oneHundred).Round(2)
	return Freight{Mode: FreightPercent, Percent: cfg.Percent, Amount: amount}
}

func freightDescription(f Freight) string {
	switch f.Mode {
	case FreightFFA:
		return "Free freight allowance met"
	case FreightFlat:
		return "Flat freight charge"
	default:
		return fmt.Sprintf("Freight at %s%% of subtotal", f.Percent.String())
	}
}

// computeHolds evaluates every hold predicate applicable to the program, in
// configuration order. Holds are additive and never short-circuit. A
// predicate that fails to evaluate becomes a review-severity hold rather
// than a dropped check.
func (t *Table) computeHolds(program *Program, octx OrderContext, subtotal decimal.Decimal) []Hold {
	subtotalF, _ := subtotal.Float64()
	facts := map[string]any{
		"Order": map[string]any{
			"account_id":     octx.AccountID,
			"order_date":     octx.OrderDate,
			"order_type":     octx.OrderType,
			"payment_method": octx.PaymentMethod,
			"ship_method":    octx.ShipMethod,
			"ship_to_type":   octx.ShipToType,
			"subtotal":       subtotalF,
		},
		"Program": map[string]any{
			"id": program.ID,
		},
	}

	var holds []Hold
	for _, ch := range t.holds {
		if !ch.appliesTo(program.ID) {
			continue
		}

		out, _, err := ch.prog.Eval(facts)
		if err != nil {
			holds = append(holds, Hold{
				Code:     ch.rule.Code,
				Message:  fmt.Sprintf("hold check failed to evaluate: %v", err),
				Severity: SeverityReview,
			})
			continue
		}

		if matched, ok := out.Value().(bool); ok && matched {
			holds = append(holds, Hold{
				Code:     ch.rule.Code,
				Message:  ch.rule.Message,
				Severity: ch.rule.Severity,
			})
		}
	}
	return holds
}

func (ch *compiledHold) appliesTo(programID string) bool {
	if len(ch.rule.Programs) == 0 {
		return true
	}
	for _, p := range ch.rule.Programs {
		if p == programID || p == "ALL" {
			return true
		}
	}
	return false
}

func reviewState(res Resolution, holds []Hold, lineConflicts bool) (bool, string) {
	for _, h := range holds {
		if h.Severity == SeverityReview {
			return true, fmt.Sprintf("hold %s requires review: %s", h.Code, h.Message)
		}
	}
	if res.FromDefault && lineConflicts {
		return true, "order priced under the default program while conflicting rules matched its lines"
	}
	return false, ""
}
