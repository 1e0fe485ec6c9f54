// Package policy resolves the commercial program for an order and derives
// order-level policy from it: payment terms, freight, workflow holds and
// additive adjustments. Everything here is a pure computation over a
// versioned, immutable policy table.
package policy

import (
	"github.com/shopspring/decimal"
)

// DefaultProgramID is the fallback when no mapping layer yields a program.
// Landing here is the normal default case, not an error.
const DefaultProgramID = "STANDARD"

// Mapping layer match types, in waterfall order.
const (
	MatchAccount   = "account"
	MatchGroup     = "group"
	MatchOrderType = "order_type"
)

// FreightMode describes how freight was charged for an order.
type FreightMode string

const (
	// FreightFFA means the subtotal reached the free-freight threshold.
	FreightFFA FreightMode = "FFA"
	// FreightPercent charges a percentage of the subtotal.
	FreightPercent FreightMode = "PERCENT"
	// FreightFlat charges a fixed amount regardless of subtotal.
	FreightFlat FreightMode = "FLAT"
)

// Hold severities. Review-severity holds set needs_review on the order.
const (
	SeverityHold   = "hold"
	SeverityReview = "review"
)

// ProgramMapping is one row of the program waterfall: account, group or
// order-type to program.
type ProgramMapping struct {
	MatchType  string `json:"match_type"`
	MatchValue string `json:"match_value"`
	ProgramID  string `json:"program_id"`
}

// TermsBracket maps an order-total range to a payment term. A zero MaxTotal
// leaves the bracket unbounded above. Brackets are inclusive at both ends.
type TermsBracket struct {
	MinTotal  decimal.Decimal `json:"min_total"`
	MaxTotal  decimal.Decimal `json:"max_total"`
	TermsCode string          `json:"terms_code"`
	TermDays  int             `json:"term_days"`
}

// FreightConfig is a program's freight policy. When FFAThreshold is set and
// the subtotal reaches it (inclusive comparison), freight is waived
// entirely. Otherwise Flat wins over Percent when UseFlat is set.
type FreightConfig struct {
	FFAThreshold decimal.Decimal `json:"ffa_threshold"`
	HasFFA       bool            `json:"has_ffa"`
	Percent      decimal.Decimal `json:"percent"`
	UseFlat      bool            `json:"use_flat"`
	FlatAmount   decimal.Decimal `json:"flat_amount"`
}

// HoldRule is one workflow check. Expression is a CEL predicate over the
// Order fact map; it is compiled once when the policy table builds.
// Programs limits the rule to specific program IDs; empty means all.
type HoldRule struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Expression string   `json:"expression"`
	Severity   string   `json:"severity"`
	Programs   []string `json:"programs,omitempty"`
}

// ChargeConfig is a program-defined additive or subtractive order charge,
// applied after freight.
type ChargeConfig struct {
	Code        string          `json:"code"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Program is a named bundle of commercial policy.
type Program struct {
	ID               string         `json:"id"`
	DefaultTermsCode string         `json:"default_terms_code"`
	DefaultTermDays  int            `json:"default_term_days"`
	TermsBrackets    []TermsBracket `json:"terms_brackets,omitempty"`
	Freight          FreightConfig  `json:"freight"`
	Charges          []ChargeConfig `json:"charges,omitempty"`
}

// TableConfig is the raw input a policy table compiles from.
type TableConfig struct {
	Mappings  []ProgramMapping `json:"mappings"`
	Programs  []Program        `json:"programs"`
	HoldRules []HoldRule       `json:"hold_rules"`
}

// ConfigError describes a policy config entry the compiler refused.
type ConfigError struct {
	Where  string `json:"where"`
	Reason string `json:"reason"`
}

// OrderContext carries the order-level facts policy derivation consumes.
type OrderContext struct {
	AccountID     string `json:"account_id"`
	OrderDate     string `json:"order_date"` // YYYY-MM-DD
	OrderType     string `json:"order_type"`
	PaymentMethod string `json:"payment_method"`
	ShipMethod    string `json:"ship_method"`
	ShipToType    string `json:"ship_to_type"`
}

// Layer records one consulted step of the program waterfall.
type Layer struct {
	Name      string `json:"name"`
	Hit       bool   `json:"hit"`
	ProgramID string `json:"program_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Resolution is the outcome of program resolution: the program plus the
// ordered trace of layers actually consulted.
type Resolution struct {
	ProgramID   string  `json:"program_id"`
	FromDefault bool    `json:"from_default"`
	Trace       []Layer `json:"trace"`
}

// Terms is the resolved payment terms for an order.
type Terms struct {
	Code    string `json:"code"`
	DueDate string `json:"due_date"`
}

// Freight is the resolved freight charge for an order.
type Freight struct {
	Mode    FreightMode     `json:"mode"`
	Percent decimal.Decimal `json:"percent,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

// Hold is one triggered workflow flag. Holds are additive: every triggered
// predicate yields an entry.
type Hold struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Adjustment is a line-less order charge, freight included.
type Adjustment struct {
	Code        string          `json:"code"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Result is the full order-level policy outcome.
type Result struct {
	Program      Resolution   `json:"program"`
	Terms        Terms        `json:"terms"`
	Freight      Freight      `json:"freight"`
	Holds        []Hold       `json:"holds"`
	NeedsReview  bool         `json:"needs_review"`
	ReviewReason string       `json:"review_reason,omitempty"`
	Adjustments  []Adjustment `json:"adjustments"`
	// Total is subtotal plus the sum of adjustment amounts.
	Total decimal.Decimal `json:"total"`
}
