package pricing

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dealdesk/pricing/catalog"
	"github.com/dealdesk/pricing/policy"
	"github.com/dealdesk/pricing/rules"
)

func testCatalog() *catalog.InMemoryCatalog {
	c := catalog.NewInMemoryCatalog()
	c.PutProduct(catalog.Product{
		SKU:         "F7-VARSITY-01",
		Description: "Varsity jacket",
		Brand:       "Fenix",
		MSRP:        decimal.NewFromInt(300),
		TierPrices: map[string]decimal.Decimal{
			"WHOLESALE": decimal.NewFromInt(250),
			"PREFERRED": decimal.NewFromInt(220),
		},
	})
	c.PutProduct(catalog.Product{
		SKU:         "F7-HOODIE-02",
		Description: "Team hoodie",
		Brand:       "Fenix",
		MSRP:        decimal.NewFromInt(100),
	})
	c.PutAccount(catalog.AccountProfile{
		ID:     "ACME",
		Groups: []string{"WEST"},
		Tier:   "WHOLESALE",
	})
	return c
}

func testPolicyConfig() policy.TableConfig {
	return policy.TableConfig{
		Programs: []policy.Program{{
			ID:               "STANDARD",
			DefaultTermsCode: "NET30",
			DefaultTermDays:  30,
			Freight: policy.FreightConfig{
				HasFFA:       true,
				FFAThreshold: decimal.NewFromInt(2500),
				Percent:      decimal.NewFromInt(18),
			},
		}},
	}
}

func newTestEngine(t *testing.T, ruleSet []*rules.Rule) *Engine {
	t.Helper()
	snapshot := rules.Compile(ruleSet, 1)
	if len(snapshot.Errors()) != 0 {
		t.Fatalf("unexpected rule compile errors: %v", snapshot.Errors())
	}
	table := policy.CompileTable(testPolicyConfig(), 1)
	if len(table.Errors()) != 0 {
		t.Fatalf("unexpected policy compile errors: %v", table.Errors())
	}
	c := testCatalog()
	return NewEngine(snapshot, table, c, c)
}

func TestQuoteOverrideRule(t *testing.T) {
	ruleSet := []*rules.Rule{{
		ID:          "override-varsity",
		Name:        "Varsity override",
		Active:      true,
		Priority:    50,
		SKU:         "F7-VARSITY-01",
		StartDate:   "2026-01-01",
		EndDate:     "2026-03-31",
		ActionType:  rules.ActionOverrideUnitPrice,
		ActionValue: "270",
	}}
	engine := newTestEngine(t, ruleSet)

	got, err := engine.Quote(context.Background(), QuoteRequest{
		AccountID:   "ACME",
		Items:       map[string]int{"F7-VARSITY-01": 2},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		t.Fatalf("Quote() error: %v", err)
	}

	if len(got.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(got.Lines))
	}
	line := got.Lines[0]
	if !line.UnitPrice.Equal(decimal.NewFromInt(270)) {
		t.Errorf("unit price = %s, want 270", line.UnitPrice)
	}
	if !line.ExtendedPrice.Equal(decimal.NewFromInt(540)) {
		t.Errorf("extended price = %s, want 540", line.ExtendedPrice)
	}
	if line.Source != SourceRule {
		t.Errorf("source = %s, want Rule", line.Source)
	}
	if len(line.MatchedRules) != 1 || line.MatchedRules[0].RuleID != "override-varsity" {
		t.Errorf("matched rules = %v", line.MatchedRules)
	}
	if !got.Subtotal.Equal(decimal.NewFromInt(540)) {
		t.Errorf("subtotal = %s, want 540", got.Subtotal)
	}
}

func TestQuotePriorityBeatsSpecificity(t *testing.T) {
	lowPriority := &rules.Rule{
		ID:          "account-sku-rule",
		Name:        "Very specific but low urgency",
		Active:      true,
		Priority:    50,
		Account:     "ACME",
		SKU:         "F7-VARSITY-01",
		ActionType:  rules.ActionOverrideUnitPrice,
		ActionValue: "200",
	}
	highPriority := &rules.Rule{
		ID:          "brand-promo",
		Name:        "Brand promo",
		Active:      true,
		Priority:    10,
		Brand:       "Fenix",
		ActionType:  rules.ActionOverrideUnitPrice,
		ActionValue: "240",
	}

	// Same result regardless of rule registration order.
	for name, set := range map[string][]*rules.Rule{
		"low first":  {lowPriority, highPriority},
		"high first": {highPriority, lowPriority},
	} {
		t.Run(name, func(t *testing.T) {
			engine := newTestEngine(t, set)
			got, err := engine.Quote(context.Background(), QuoteRequest{
				AccountID:   "ACME",
				Items:       map[string]int{"F7-VARSITY-01": 1},
				RequestDate: "2026-02-04",
			})
			if err != nil {
				t.Fatal(err)
			}
			line := got.Lines[0]
			if !line.UnitPrice.Equal(decimal.NewFromInt(240)) {
				t.Errorf("unit price = %s, want 240 (priority 10 wins)", line.UnitPrice)
			}
			if line.MatchedRules[0].RuleID != "brand-promo" {
				t.Errorf("winner = %s, want brand-promo", line.MatchedRules[0].RuleID)
			}
		})
	}
}

func TestQuoteExpiredRuleFallsThrough(t *testing.T) {
	expired := &rules.Rule{
		ID:          "winter-promo",
		Name:        "Winter promo",
		Active:      true,
		Priority:    10,
		SKU:         "F7-VARSITY-01",
		StartDate:   "2026-01-01",
		EndDate:     "2026-01-31",
		ActionType:  rules.ActionOverrideUnitPrice,
		ActionValue: "199",
	}
	engine := newTestEngine(t, []*rules.Rule{expired})

	got, err := engine.Quote(context.Background(), QuoteRequest{
		AccountID:   "ACME",
		Items:       map[string]int{"F7-VARSITY-01": 1},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		t.Fatal(err)
	}

	line := got.Lines[0]
	if len(line.MatchedRules) != 0 {
		t.Errorf("expired rule should not match, got %v", line.MatchedRules)
	}
	// ACME is a WHOLESALE account: tier price applies.
	if !line.UnitPrice.Equal(decimal.NewFromInt(250)) {
		t.Errorf("unit price = %s, want tier price 250", line.UnitPrice)
	}
	if line.Source != SourceContract {
		t.Errorf("source = %s, want Contract", line.Source)
	}
}

func TestQuoteDiscountPercent(t *testing.T) {
	ruleSet := []*rules.Rule{{
		ID:          "hoodie-15",
		Name:        "Hoodie 15 off",
		Active:      true,
		Priority:    20,
		SKU:         "F7-HOODIE-02",
		ActionType:  rules.ActionDiscountPercent,
		ActionValue: "15",
	}}
	engine := newTestEngine(t, ruleSet)

	got, err := engine.Quote(context.Background(), QuoteRequest{
		AccountID:   "NOBODY",
		Items:       map[string]int{"F7-HOODIE-02": 1},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		t.Fatal(err)
	}

	line := got.Lines[0]
	// MSRP 100 less 15 percent.
	if !line.UnitPrice.Equal(decimal.NewFromInt(85)) {
		t.Errorf("unit price = %s, want 85", line.UnitPrice)
	}
	// Unknown account warning carried to the order.
	found := false
	for _, w := range got.Warnings {
		if strings.Contains(w, "not found") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unknown-account warning, got %v", got.Warnings)
	}
}

func TestQuoteSetTierRedirectsBase(t *testing.T) {
	ruleSet := []*rules.Rule{{
		ID:          "promo-tier",
		Name:        "Preferred pricing event",
		Active:      true,
		Priority:    10,
		SKU:         "F7-VARSITY-01",
		ActionType:  rules.ActionSetTier,
		ActionValue: "PREFERRED",
	}}
	engine := newTestEngine(t, ruleSet)

	got, err := engine.Quote(context.Background(), QuoteRequest{
		AccountID:   "ACME",
		Items:       map[string]int{"F7-VARSITY-01": 1},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		t.Fatal(err)
	}

	line := got.Lines[0]
	if !line.UnitPrice.Equal(decimal.NewFromInt(220)) {
		t.Errorf("unit price = %s, want PREFERRED tier 220", line.UnitPrice)
	}
	if line.Tier != "PREFERRED" {
		t.Errorf("tier = %s, want PREFERRED", line.Tier)
	}
	if line.Source != SourceContract {
		t.Errorf("source = %s, want Contract", line.Source)
	}
}

func TestQuoteNegotiatedBeatsTier(t *testing.T) {
	c := testCatalog()
	c.PutNegotiatedPrice("ACME", "F7-VARSITY-01", decimal.RequireFromString("215.50"))
	engine := NewEngine(rules.Compile(nil, 1), policy.CompileTable(testPolicyConfig(), 1), c, c)

	got, err := engine.Quote(context.Background(), QuoteRequest{
		AccountID:   "ACME",
		Items:       map[string]int{"F7-VARSITY-01": 1},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Lines[0].UnitPrice.Equal(decimal.RequireFromString("215.50")) {
		t.Errorf("unit price = %s, want negotiated 215.50", got.Lines[0].UnitPrice)
	}
}

func TestQuotePartialFailureIsolation(t *testing.T) {
	engine := newTestEngine(t, nil)

	got, err := engine.Quote(context.Background(), QuoteRequest{
		AccountID: "ACME",
		Items: map[string]int{
			"F7-VARSITY-01": 1,
			"GHOST-SKU":     3,
		},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the order: %v", err)
	}

	if len(got.Lines) != 1 {
		t.Fatalf("expected 1 priced line, got %d", len(got.Lines))
	}
	if len(got.FailedLines) != 1 {
		t.Fatalf("expected 1 failed line, got %d", len(got.FailedLines))
	}
	fail := got.FailedLines[0]
	if fail.SKU != "GHOST-SKU" || fail.Condition != CondSKUNotFound {
		t.Errorf("failure = %+v", fail)
	}
	// Subtotal covers only the priced line.
	if !got.Subtotal.Equal(decimal.NewFromInt(250)) {
		t.Errorf("subtotal = %s, want 250", got.Subtotal)
	}
}

func TestQuoteTieConflictFlagged(t *testing.T) {
	a := &rules.Rule{
		ID: "tie-a", Name: "A", Active: true, Priority: 50, SKU: "F7-VARSITY-01",
		ActionType: rules.ActionOverrideUnitPrice, ActionValue: "260",
	}
	b := &rules.Rule{
		ID: "tie-b", Name: "B", Active: true, Priority: 50, SKU: "F7-VARSITY-01",
		ActionType: rules.ActionOverrideUnitPrice, ActionValue: "265",
	}
	engine := newTestEngine(t, []*rules.Rule{b, a})

	got, err := engine.Quote(context.Background(), QuoteRequest{
		AccountID:   "ACME",
		Items:       map[string]int{"F7-VARSITY-01": 1},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		t.Fatal(err)
	}

	line := got.Lines[0]
	if !line.Conflicted {
		t.Fatal("tied priorities should flag the line")
	}
	// Deterministic winner: lower rule ID.
	if !line.UnitPrice.Equal(decimal.NewFromInt(260)) {
		t.Errorf("unit price = %s, want tie-a's 260", line.UnitPrice)
	}
	if len(line.Warnings) == 0 {
		t.Error("tie should produce a line warning")
	}
}

func TestQuoteFreightPolicy(t *testing.T) {
	override := func(value string) []*rules.Rule {
		return []*rules.Rule{{
			ID: "price", Name: "price", Active: true, Priority: 10, SKU: "F7-VARSITY-01",
			ActionType: rules.ActionOverrideUnitPrice, ActionValue: value,
		}}
	}

	t.Run("subtotal over threshold ships free", func(t *testing.T) {
		engine := newTestEngine(t, override("2500"))
		got, err := engine.Quote(context.Background(), QuoteRequest{
			AccountID:   "ACME",
			Items:       map[string]int{"F7-VARSITY-01": 2},
			RequestDate: "2026-02-04",
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Policy.Freight.Mode != policy.FreightFFA {
			t.Errorf("freight mode = %s, want FFA", got.Policy.Freight.Mode)
		}
		if !got.Policy.Freight.Amount.IsZero() {
			t.Errorf("freight amount = %s, want 0", got.Policy.Freight.Amount)
		}
		if !got.Total.Equal(decimal.NewFromInt(5000)) {
			t.Errorf("total = %s, want 5000", got.Total)
		}
	})

	t.Run("subtotal under threshold pays percent", func(t *testing.T) {
		engine := newTestEngine(t, override("500"))
		got, err := engine.Quote(context.Background(), QuoteRequest{
			AccountID:   "ACME",
			Items:       map[string]int{"F7-VARSITY-01": 1},
			RequestDate: "2026-02-04",
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Policy.Freight.Mode != policy.FreightPercent {
			t.Errorf("freight mode = %s, want PERCENT", got.Policy.Freight.Mode)
		}
		if !got.Policy.Freight.Amount.Equal(decimal.RequireFromString("90.00")) {
			t.Errorf("freight amount = %s, want 90.00", got.Policy.Freight.Amount)
		}
		if !got.Total.Equal(decimal.RequireFromString("590.00")) {
			t.Errorf("total = %s, want 590.00", got.Total)
		}
	})
}

func TestQuoteIdempotent(t *testing.T) {
	ruleSet := []*rules.Rule{{
		ID: "r1", Name: "r1", Active: true, Priority: 30, Brand: "Fenix",
		ActionType: rules.ActionDiscountPercent, ActionValue: "10",
	}}
	engine := newTestEngine(t, ruleSet)
	req := QuoteRequest{
		AccountID:   "ACME",
		Items:       map[string]int{"F7-VARSITY-01": 3, "F7-HOODIE-02": 2},
		RequestDate: "2026-02-04",
	}

	first, err := engine.Quote(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Quote(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if !first.Subtotal.Equal(second.Subtotal) || !first.Total.Equal(second.Total) {
		t.Errorf("repeated quote differs: %s/%s vs %s/%s",
			first.Subtotal, first.Total, second.Subtotal, second.Total)
	}
	for i := range first.Lines {
		if !first.Lines[i].UnitPrice.Equal(second.Lines[i].UnitPrice) {
			t.Errorf("line %d unit price differs", i)
		}
	}
}

func TestQuoteValidation(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.Quote(ctx, QuoteRequest{Items: map[string]int{"X": 1}}); err == nil {
		t.Error("missing account_id should fail")
	}
	if _, err := engine.Quote(ctx, QuoteRequest{AccountID: "ACME"}); err == nil {
		t.Error("empty items should fail")
	}
	if _, err := engine.Quote(ctx, QuoteRequest{
		AccountID:   "ACME",
		Items:       map[string]int{"X": 1},
		RequestDate: "02/04/2026",
	}); err == nil {
		t.Error("malformed request_date should fail")
	}
}

func TestQuoteCancelledContext(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := engine.Quote(ctx, QuoteRequest{
		AccountID:   "NOBODY",
		Items:       map[string]int{"F7-VARSITY-01": 1},
		RequestDate: "2026-02-04",
	})
	if err != nil {
		// Account lookup may fail outright on a dead context; that is fine
		// as long as it does not panic.
		return
	}
	if len(got.FailedLines) != 1 || got.FailedLines[0].Condition != CondCancelled {
		t.Errorf("expected cancelled line failure, got %+v", got.FailedLines)
	}
}

func TestTestRule(t *testing.T) {
	ruleSet := []*rules.Rule{{
		ID: "r1", Name: "Varsity override", Active: true, Priority: 10, SKU: "F7-VARSITY-01",
		ActionType: rules.ActionOverrideUnitPrice, ActionValue: "270",
	}}
	engine := newTestEngine(t, ruleSet)

	got, err := engine.TestRule(context.Background(), "ACME", "F7-VARSITY-01")
	if err != nil {
		t.Fatalf("TestRule() error: %v", err)
	}

	if !got.BasePrice.Equal(decimal.NewFromInt(250)) {
		t.Errorf("base price = %s, want tier 250", got.BasePrice)
	}
	if !got.FinalPrice.Equal(decimal.NewFromInt(270)) {
		t.Errorf("final price = %s, want 270", got.FinalPrice)
	}
	if got.Source != SourceRule {
		t.Errorf("source = %s, want Rule", got.Source)
	}
	if len(got.Trace) == 0 {
		t.Error("expected a resolution trace")
	}

	if _, err := engine.TestRule(context.Background(), "", "F7-VARSITY-01"); err == nil {
		t.Error("blank account should fail")
	}
	if _, err := engine.TestRule(context.Background(), "ACME", "GHOST"); err == nil {
		t.Error("unknown sku should fail")
	}
}
