package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// Channel value that matches every line.
const ChannelAll = "all"

// Action types a rule may carry. Anything else is rejected at compile time.
const (
	ActionOverrideUnitPrice = "override_unit_price"
	ActionDiscountAmount    = "discount_amount"
	ActionDiscountPercent   = "discount_percent"
	ActionPriceFloor        = "price_floor"
	ActionSetTier           = "set_tier"
)

// DateLayout is the wire format for rule validity dates. Dates are civil
// dates with no timezone; ISO strings compare correctly with <.
const DateLayout = "2006-01-02"

// Rule is a single declarative pricing rule. Empty match fields mean
// "matches anything" for that dimension; a rule with no populated dimension
// matches every line and is flagged as a warning when the snapshot compiles.
type Rule struct {
	ID           string `json:"rule_id"`
	Name         string `json:"name"`
	Active       bool   `json:"active"`
	Priority     int    `json:"priority"` // 1..100, lower wins
	Account      string `json:"account,omitempty"`
	AccountGroup string `json:"account_group,omitempty"`
	SKU          string `json:"sku,omitempty"`
	SKUPrefix    string `json:"sku_prefix,omitempty"`
	Brand        string `json:"brand,omitempty"`
	MinQty       int    `json:"min_qty,omitempty"` // 0 = unbounded
	MaxQty       int    `json:"max_qty,omitempty"` // 0 = unbounded
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	Channel      string `json:"channel,omitempty"` // "" treated as ChannelAll
	ActionType   string `json:"action_type"`
	ActionValue  string `json:"action_value"` // numeric for price actions, tier name for set_tier
	Notes        string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// HasMatchDimension reports whether at least one of the five match
// dimensions is populated. Quantity, date and channel windows gate a rule
// but do not make it specific to anything.
func (r *Rule) HasMatchDimension() bool {
	return r.Account != "" || r.AccountGroup != "" || r.SKU != "" ||
		r.SKUPrefix != "" || r.Brand != ""
}

// PriceValue parses ActionValue as a decimal. Only meaningful for the four
// price actions; compile guarantees it parses for rules inside a snapshot.
func (r *Rule) PriceValue() (decimal.Decimal, error) {
	return decimal.NewFromString(r.ActionValue)
}

// LineQuery is the per-line context rules are matched against.
type LineQuery struct {
	SKU           string
	Qty           int
	AccountID     string
	AccountGroups []string
	Brand         string
	Date          string // DateLayout; the explicit evaluation date
	Channel       string
}

// Match is one entry in a line's rule trace: a candidate that survived
// filtering, in its final rank order.
type Match struct {
	RuleID      string `json:"rule_id"`
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Specificity int    `json:"specificity"`
}

// RuleError describes a rule the compiler refused to include. The rest of
// the snapshot still builds.
type RuleError struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// ConflictWarning flags two active rules with identical priority whose match
// dimensions overlap for at least one plausible line. Never fatal.
type ConflictWarning struct {
	Priority int      `json:"priority"`
	RuleIDs  []string `json:"rule_ids"`
	Reason   string   `json:"reason"`
}

// Stats summarizes a rule set for the stats endpoint.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Expired  int `json:"expired"` // active rules whose end date has passed
}

// ComputeStats derives Stats from a rule list. today is a DateLayout date.
func ComputeStats(rules []*Rule, today string) Stats {
	var s Stats
	s.Total = len(rules)
	for _, r := range rules {
		if !r.Active {
			continue
		}
		s.Active++
		if r.EndDate != "" && r.EndDate < today {
			s.Expired++
		}
	}
	s.Inactive = s.Total - s.Active
	return s
}
