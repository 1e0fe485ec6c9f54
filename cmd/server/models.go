package main

import (
	"github.com/dealdesk/pricing/rules"
)

// API request and response models.

// RulePayload is the request body for creating or updating a rule. A blank
// rule_id on create gets a generated UUID.
type RulePayload struct {
	RuleID       string `json:"rule_id"`
	Name         string `json:"name"`
	Active       bool   `json:"active"`
	Priority     int    `json:"priority"`
	Account      string `json:"account,omitempty"`
	AccountGroup string `json:"account_group,omitempty"`
	SKU          string `json:"sku,omitempty"`
	SKUPrefix    string `json:"sku_prefix,omitempty"`
	Brand        string `json:"brand,omitempty"`
	MinQty       int    `json:"min_qty,omitempty"`
	MaxQty       int    `json:"max_qty,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	Channel      string `json:"channel,omitempty"`
	ActionType   string `json:"action_type"`
	ActionValue  string `json:"action_value"`
	Notes        string `json:"notes,omitempty"`
}

func (p *RulePayload) toRule() *rules.Rule {
	return &rules.Rule{
		ID:           p.RuleID,
		Name:         p.Name,
		Active:       p.Active,
		Priority:     p.Priority,
		Account:      p.Account,
		AccountGroup: p.AccountGroup,
		SKU:          p.SKU,
		SKUPrefix:    p.SKUPrefix,
		Brand:        p.Brand,
		MinQty:       p.MinQty,
		MaxQty:       p.MaxQty,
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		Channel:      p.Channel,
		ActionType:   p.ActionType,
		ActionValue:  p.ActionValue,
		Notes:        p.Notes,
	}
}

// TestRuleRequest is the body for the single-line dry run.
type TestRuleRequest struct {
	AccountID string `json:"account_id"`
	SKU       string `json:"sku"`
}

// ReloadResponse reports the outcome of a snapshot rebuild.
type ReloadResponse struct {
	Version   int64                   `json:"version"`
	Rules     int                     `json:"rules"`
	Errors    []rules.RuleError       `json:"errors,omitempty"`
	Conflicts []rules.ConflictWarning `json:"conflicts,omitempty"`
}
