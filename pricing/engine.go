// Package pricing is the per-line resolution core: it resolves a base price
// through the catalog waterfall, applies the winning rule from an immutable
// snapshot, and aggregates lines into an order with policy attached.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealdesk/pricing/catalog"
	"github.com/dealdesk/pricing/policy"
	"github.com/dealdesk/pricing/rules"
)

// Engine evaluates lines and orders against one captured snapshot version
// and one policy table version. It holds no mutable state: a given engine
// always produces identical results for identical inputs, and any number of
// goroutines may share it.
type Engine struct {
	snapshot  *rules.Snapshot
	table     *policy.Table
	catalog   catalog.Catalog
	directory catalog.Directory
	weights   rules.SpecificityWeights
}

// NewEngine builds an evaluation engine over a compiled snapshot and policy
// table.
func NewEngine(snapshot *rules.Snapshot, table *policy.Table, cat catalog.Catalog, dir catalog.Directory) *Engine {
	return &Engine{
		snapshot:  snapshot,
		table:     table,
		catalog:   cat,
		directory: dir,
		weights:   rules.DefaultSpecificityWeights(),
	}
}

// SetSpecificityWeights overrides the tie-break policy. Call before the
// engine is shared.
func (e *Engine) SetSpecificityWeights(w rules.SpecificityWeights) {
	e.weights = w
}

// SnapshotVersion returns the captured rule snapshot version.
func (e *Engine) SnapshotVersion() int64 { return e.snapshot.Version() }

// PolicyVersion returns the captured policy table version.
func (e *Engine) PolicyVersion() int64 { return e.table.Version() }

// SnapshotConflicts exposes the snapshot's compile-time conflict warnings.
func (e *Engine) SnapshotConflicts() []rules.ConflictWarning { return e.snapshot.Conflicts() }

// SnapshotErrors exposes the snapshot's per-rule compile rejections.
func (e *Engine) SnapshotErrors() []rules.RuleError { return e.snapshot.Errors() }

// SnapshotLen returns the number of compiled rules in the snapshot.
func (e *Engine) SnapshotLen() int { return e.snapshot.Len() }

// lineError carries a failure condition for a single line.
type lineError struct {
	condition string
	err       error
}

func (le *lineError) Error() string { return le.err.Error() }

// Quote evaluates a full order: every line priced independently, failures
// isolated, then program resolution and order policy over the subtotal.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	if req.AccountID == "" {
		return nil, errors.New("account_id is required")
	}
	if len(req.Items) == 0 {
		return nil, errors.New("at least one item is required")
	}

	date := req.RequestDate
	if date == "" {
		date = time.Now().Format(rules.DateLayout)
	}
	if _, err := time.Parse(rules.DateLayout, date); err != nil {
		return nil, fmt.Errorf("request_date %q is not a YYYY-MM-DD date", req.RequestDate)
	}

	result := &QuoteResult{
		AccountID:       req.AccountID,
		SnapshotVersion: e.snapshot.Version(),
		PolicyVersion:   e.table.Version(),
	}

	profile, err := e.directory.Account(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, catalog.ErrAccountNotFound) {
			// Unknown accounts still quote; they just get list pricing.
			profile = catalog.AccountProfile{ID: req.AccountID}
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("account %s not found, quoting at list price", req.AccountID))
		} else {
			return nil, fmt.Errorf("account lookup: %w", err)
		}
	}
	result.Tier = profile.Tier

	// Deterministic line order regardless of map iteration.
	skus := make([]string, 0, len(req.Items))
	for sku := range req.Items {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	subtotal := decimal.Zero
	conflicted := false
	for _, sku := range skus {
		line, lerr := e.priceLine(ctx, sku, req.Items[sku], &profile, date, req.Channel)
		if lerr != nil {
			result.FailedLines = append(result.FailedLines, LineFailure{
				SKU:       sku,
				Qty:       req.Items[sku],
				Condition: lerr.condition,
				Reason:    lerr.err.Error(),
			})
			continue
		}
		result.Lines = append(result.Lines, line)
		subtotal = subtotal.Add(line.ExtendedPrice)
		if line.Conflicted {
			conflicted = true
		}
		for _, w := range line.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", sku, w))
		}
	}
	result.Subtotal = subtotal.Round(2)

	res := e.table.ResolveProgram(req.AccountID, profile.Groups, req.OrderType)
	result.Policy = e.table.Apply(res, policy.OrderContext{
		AccountID:     req.AccountID,
		OrderDate:     date,
		OrderType:     req.OrderType,
		PaymentMethod: req.PaymentMethod,
		ShipMethod:    req.ShipMethod,
		ShipToType:    req.ShipToType,
	}, result.Subtotal, conflicted)
	result.Total = result.Policy.Total

	return result, nil
}

// TestRule prices a single line for today without an order, returning the
// same trace shape a quoted line carries.
func (e *Engine) TestRule(ctx context.Context, accountID, sku string) (*TestRuleResult, error) {
	if accountID == "" || sku == "" {
		return nil, errors.New("account_id and sku are required")
	}

	profile, err := e.directory.Account(ctx, accountID)
	if err != nil {
		if !errors.Is(err, catalog.ErrAccountNotFound) {
			return nil, fmt.Errorf("account lookup: %w", err)
		}
		profile = catalog.AccountProfile{ID: accountID}
	}

	today := time.Now().Format(rules.DateLayout)
	line, lerr := e.priceLine(ctx, sku, 1, &profile, today, rules.ChannelAll)
	if lerr != nil {
		return nil, fmt.Errorf("%s: %w", lerr.condition, lerr.err)
	}

	base, err := e.basePriceOnly(ctx, sku, &profile, line.Tier)
	if err != nil {
		return nil, err
	}

	return &TestRuleResult{
		SKU:          sku,
		AccountID:    accountID,
		BasePrice:    base,
		FinalPrice:   line.UnitPrice,
		Source:       line.Source,
		MatchedRules: line.MatchedRules,
		Warnings:     line.Warnings,
		Trace:        line.Trace,
	}, nil
}

func (e *Engine) basePriceOnly(ctx context.Context, sku string, profile *catalog.AccountProfile, tier string) (decimal.Decimal, error) {
	bp, err := e.catalog.ResolveBasePrice(ctx, sku, profile.ID, tier)
	if err != nil {
		return decimal.Zero, err
	}
	return bp.Price, nil
}

// priceLine resolves one line: rule candidates, optional tier redirect,
// base-price waterfall, winning price action, extension.
func (e *Engine) priceLine(ctx context.Context, sku string, qty int, profile *catalog.AccountProfile, date, channel string) (LineResult, *lineError) {
	product, err := e.catalog.Product(ctx, sku)
	if err != nil {
		return LineResult{}, classifyLineError(err)
	}

	line := LineResult{
		SKU:         sku,
		Description: product.Description,
		Qty:         qty,
		Tier:        profile.Tier,
	}
	line.addTrace("SKU Lookup", "Found product in catalog", sku)

	query := rules.LineQuery{
		SKU:           sku,
		Qty:           qty,
		AccountID:     profile.ID,
		AccountGroups: profile.Groups,
		Brand:         product.Brand,
		Date:          date,
		Channel:       channel,
	}
	candidates := e.snapshot.Candidates(query)
	ranked := rules.Rank(candidates, e.weights)
	line.MatchedRules = ranked

	byID := make(map[string]*rules.Rule, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}

	// A winning set_tier rule redirects the base-price lookup before any
	// price action is considered. Only the best-ranked one applies.
	effectiveTier := profile.Tier
	for _, m := range ranked {
		r := byID[m.RuleID]
		if r.ActionType == rules.ActionSetTier {
			effectiveTier = r.ActionValue
			line.Tier = effectiveTier
			line.addTrace("Rule Applied", fmt.Sprintf("%s (%s)", r.Name, r.ID), "tier "+effectiveTier)
			break
		}
	}

	base, err := e.catalog.ResolveBasePrice(ctx, sku, profile.ID, effectiveTier)
	if err != nil {
		return LineResult{}, classifyLineError(err)
	}

	switch base.Source {
	case catalog.BaseMSRP:
		line.Source = SourceMSRP
		line.addTrace("Price Resolution", "Using MSRP fallback", base.Price.StringFixed(2))
	default:
		line.Source = SourceContract
		line.addTrace("Price Resolution", fmt.Sprintf("Using %s price", base.Source), base.Price.StringFixed(2))
	}
	line.UnitPrice = base.Price

	// The top-ranked price action wins; the rest of the ranked list stays
	// in the trace for auditability.
	for _, m := range ranked {
		r := byID[m.RuleID]
		if r.ActionType == rules.ActionSetTier {
			continue
		}
		applied, err := rules.ApplyAction(r, base.Price)
		if err != nil {
			line.addWarning(err.Error())
			break
		}
		line.UnitPrice = applied.Price
		line.Source = SourceRule
		line.addTrace("Rule Applied", fmt.Sprintf("%s (%s)", r.Name, r.ID), applied.Price.StringFixed(2))
		if applied.Clamped {
			line.addWarning(fmt.Sprintf("rule %s produced a negative price; clamped to zero", r.ID))
		}
		break
	}

	if len(ranked) >= 2 && ranked[0].Priority == ranked[1].Priority {
		line.Conflicted = true
		line.addWarning(fmt.Sprintf("rules %s and %s tied at priority %d",
			ranked[0].RuleID, ranked[1].RuleID, ranked[0].Priority))
	}

	line.ExtendedPrice = line.UnitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
	line.addTrace("Extension", fmt.Sprintf("%d x %s", qty, line.UnitPrice.StringFixed(2)),
		line.ExtendedPrice.StringFixed(2))

	return line, nil
}

func classifyLineError(err error) *lineError {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &lineError{condition: CondCancelled, err: err}
	case errors.Is(err, catalog.ErrSKUNotFound):
		return &lineError{condition: CondSKUNotFound, err: err}
	case errors.Is(err, catalog.ErrNoPrice):
		return &lineError{condition: CondNoPrice, err: err}
	default:
		return &lineError{condition: CondNoPrice, err: err}
	}
}
