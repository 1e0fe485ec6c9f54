package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/dealdesk/pricing/policy"
	"github.com/dealdesk/pricing/rules"
)

// Source identifies where a line's unit price came from.
type Source string

const (
	// SourceRule means a pricing rule set the final unit price.
	SourceRule Source = "Rule"
	// SourceContract means negotiated or tier pricing applied.
	SourceContract Source = "Contract"
	// SourceMSRP means the list-price fallback applied.
	SourceMSRP Source = "MSRP"
)

// Failure conditions for lines that could not be priced. Distinct from "no
// rule matched", which is not a failure at all.
const (
	CondSKUNotFound = "sku_not_found"
	CondNoPrice     = "no_price_available"
	CondCancelled   = "cancelled"
)

// TraceStep is one step of a line's resolution trace.
type TraceStep struct {
	Step        string `json:"step"`
	Description string `json:"description"`
	Value       string `json:"value,omitempty"`
}

// LineResult is a fully priced order line with its audit trail. The full
// ranked rule list is retained, not just the winner.
type LineResult struct {
	SKU           string          `json:"sku"`
	Description   string          `json:"description"`
	Qty           int             `json:"qty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	ExtendedPrice decimal.Decimal `json:"extended_price"`
	Tier          string          `json:"tier,omitempty"`
	Source        Source          `json:"source"`
	MatchedRules  []rules.Match   `json:"matched_rules,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	Trace         []TraceStep     `json:"trace,omitempty"`

	// Conflicted is set when two or more candidates tied at the winning
	// priority, i.e. a compile-time conflict warning touched this line.
	Conflicted bool `json:"conflicted,omitempty"`
}

func (l *LineResult) addTrace(step, description, value string) {
	l.Trace = append(l.Trace, TraceStep{Step: step, Description: description, Value: value})
}

func (l *LineResult) addWarning(w string) {
	l.Warnings = append(l.Warnings, w)
}

// LineFailure records a line that could not be priced. Orders with failed
// lines still return every line that did price.
type LineFailure struct {
	SKU       string `json:"sku"`
	Qty       int    `json:"qty"`
	Condition string `json:"condition"`
	Reason    string `json:"reason"`
}

// QuoteRequest is a full order evaluation request.
type QuoteRequest struct {
	AccountID     string         `json:"account_id"`
	Items         map[string]int `json:"items"` // sku -> qty
	RequestDate   string         `json:"request_date,omitempty"` // YYYY-MM-DD, "" = today
	Channel       string         `json:"channel,omitempty"`
	OrderType     string         `json:"order_type,omitempty"`
	PaymentMethod string         `json:"payment_method,omitempty"`
	ShipMethod    string         `json:"ship_method,omitempty"`
	ShipToType    string         `json:"ship_to_type,omitempty"`
}

// QuoteResult combines per-line pricing with order-level policy.
type QuoteResult struct {
	AccountID   string          `json:"account_id"`
	Tier        string          `json:"tier,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Total       decimal.Decimal `json:"total"`
	Lines       []LineResult    `json:"lines"`
	FailedLines []LineFailure   `json:"failed_lines,omitempty"`
	Policy      policy.Result   `json:"policy"`
	Warnings    []string        `json:"warnings,omitempty"`

	SnapshotVersion int64 `json:"snapshot_version"`
	PolicyVersion   int64 `json:"policy_version"`
}

// TestRuleResult is the single-line dry run returned by the test-rule
// operation. Same trace shape as a quoted line, no order required.
type TestRuleResult struct {
	SKU          string          `json:"sku"`
	AccountID    string          `json:"account_id"`
	BasePrice    decimal.Decimal `json:"base_price"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	Source       Source          `json:"source"`
	MatchedRules []rules.Match   `json:"matched_rules"`
	Warnings     []string        `json:"warnings,omitempty"`
	Trace        []TraceStep     `json:"trace,omitempty"`
}
