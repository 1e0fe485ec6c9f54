package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable, versioned view of a compiled rule set. It is
// built once, never mutated, and superseded atomically by a newer snapshot
// when the underlying rules change. Any number of evaluations can read it
// concurrently without locking.
type Snapshot struct {
	version int64
	builtAt time.Time

	rules []Rule // active rules that passed validation

	// Candidate indexes. Each rule is bucketed under its most selective
	// populated dimension so a line lookup only scans rules that could
	// possibly match it.
	bySKU     map[string][]int
	byPrefix  map[string][]int
	byAccount map[string][]int
	byGroup   map[string][]int
	byBrand   map[string][]int
	universal []int

	errors    []RuleError
	conflicts []ConflictWarning
	warnings  []string
}

// Compile builds a Snapshot from a raw rule list. Invalid rules are rejected
// individually and reported via Errors; they never abort the rest of the
// build. Inactive rules are dropped silently.
func Compile(raw []*Rule, version int64) *Snapshot {
	s := &Snapshot{
		version:   version,
		builtAt:   time.Now(),
		bySKU:     make(map[string][]int),
		byPrefix:  make(map[string][]int),
		byAccount: make(map[string][]int),
		byGroup:   make(map[string][]int),
		byBrand:   make(map[string][]int),
	}

	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		if r.ID == "" {
			s.errors = append(s.errors, RuleError{RuleID: "(blank)", Reason: "rule_id is required"})
			continue
		}
		if seen[r.ID] {
			s.errors = append(s.errors, RuleError{RuleID: r.ID, Reason: "duplicate rule_id"})
			continue
		}
		seen[r.ID] = true

		if !r.Active {
			continue
		}
		if reason := validate(r); reason != "" {
			s.errors = append(s.errors, RuleError{RuleID: r.ID, Reason: reason})
			continue
		}
		if !r.HasMatchDimension() {
			s.warnings = append(s.warnings,
				fmt.Sprintf("rule %s has no match dimension and applies to every line", r.ID))
		}

		s.index(*r)
	}

	s.conflicts = findConflicts(s.rules)
	return s
}

// validate returns an empty string for a well-formed rule, otherwise the
// reason it must be rejected.
func validate(r *Rule) string {
	if r.Priority < 1 || r.Priority > 100 {
		return fmt.Sprintf("priority %d outside [1,100]", r.Priority)
	}
	for _, d := range []struct{ name, val string }{
		{"start_date", r.StartDate},
		{"end_date", r.EndDate},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d.val); err != nil {
			return fmt.Sprintf("%s %q is not a YYYY-MM-DD date", d.name, d.val)
		}
	}
	if r.StartDate != "" && r.EndDate != "" && r.StartDate > r.EndDate {
		return fmt.Sprintf("start_date %s after end_date %s", r.StartDate, r.EndDate)
	}
	if r.MinQty < 0 || r.MaxQty < 0 {
		return "quantity bounds must not be negative"
	}
	if r.MinQty > 0 && r.MaxQty > 0 && r.MinQty > r.MaxQty {
		return fmt.Sprintf("min_qty %d above max_qty %d", r.MinQty, r.MaxQty)
	}

	switch r.ActionType {
	case ActionOverrideUnitPrice, ActionDiscountAmount, ActionDiscountPercent, ActionPriceFloor:
		v, err := decimal.NewFromString(r.ActionValue)
		if err != nil {
			return fmt.Sprintf("action_value %q is not numeric", r.ActionValue)
		}
		if v.IsNegative() {
			return fmt.Sprintf("action_value %s must not be negative", r.ActionValue)
		}
	case ActionSetTier:
		if strings.TrimSpace(r.ActionValue) == "" {
			return "set_tier requires a tier name as action_value"
		}
	default:
		return fmt.Sprintf("unknown action_type %q", r.ActionType)
	}
	return ""
}

func (s *Snapshot) index(r Rule) {
	i := len(s.rules)
	s.rules = append(s.rules, r)

	switch {
	case r.SKU != "":
		s.bySKU[r.SKU] = append(s.bySKU[r.SKU], i)
	case r.SKUPrefix != "":
		s.byPrefix[r.SKUPrefix] = append(s.byPrefix[r.SKUPrefix], i)
	case r.Account != "":
		s.byAccount[r.Account] = append(s.byAccount[r.Account], i)
	case r.AccountGroup != "":
		s.byGroup[r.AccountGroup] = append(s.byGroup[r.AccountGroup], i)
	case r.Brand != "":
		s.byBrand[r.Brand] = append(s.byBrand[r.Brand], i)
	default:
		s.universal = append(s.universal, i)
	}
}

// Version returns the snapshot's monotonically increasing version token.
func (s *Snapshot) Version() int64 { return s.version }

// BuiltAt returns when the snapshot was compiled.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Len returns the number of compiled active rules.
func (s *Snapshot) Len() int { return len(s.rules) }

// Errors returns per-rule compile rejections.
func (s *Snapshot) Errors() []RuleError { return s.errors }

// Conflicts returns the same-priority overlap warnings computed at build.
func (s *Snapshot) Conflicts() []ConflictWarning { return s.conflicts }

// Warnings returns non-fatal build notes, e.g. universal rules.
func (s *Snapshot) Warnings() []string { return s.warnings }

// Candidates returns every compiled rule that matches the line at its
// evaluation date, in deterministic (rule ID) order. Ranking is a separate
// concern; see Rank.
func (s *Snapshot) Candidates(q LineQuery) []Rule {
	idx := make(map[int]bool)
	collect := func(is []int) {
		for _, i := range is {
			idx[i] = true
		}
	}

	collect(s.bySKU[q.SKU])
	collect(s.byAccount[q.AccountID])
	for _, g := range q.AccountGroups {
		collect(s.byGroup[g])
	}
	collect(s.byBrand[q.Brand])
	for p, is := range s.byPrefix {
		if strings.HasPrefix(q.SKU, p) {
			collect(is)
		}
	}
	collect(s.universal)

	var out []Rule
	for i := range idx {
		r := s.rules[i]
		if matches(&r, q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// matches applies the full filter: every populated constraint must hold.
func matches(r *Rule, q LineQuery) bool {
	if r.Channel != "" && r.Channel != ChannelAll && r.Channel != q.Channel {
		return false
	}
	// Validity window, inclusive at both boundaries.
	if r.StartDate != "" && q.Date < r.StartDate {
		return false
	}
	if r.EndDate != "" && q.Date > r.EndDate {
		return false
	}
	if r.MinQty > 0 && q.Qty < r.MinQty {
		return false
	}
	if r.MaxQty > 0 && q.Qty > r.MaxQty {
		return false
	}
	if r.Account != "" && r.Account != q.AccountID {
		return false
	}
	if r.AccountGroup != "" && !containsString(q.AccountGroups, r.AccountGroup) {
		return false
	}
	if r.SKU != "" && r.SKU != q.SKU {
		return false
	}
	if r.SKUPrefix != "" && !strings.HasPrefix(q.SKU, r.SKUPrefix) {
		return false
	}
	if r.Brand != "" && r.Brand != q.Brand {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// findConflicts groups active rules by priority and flags pairs whose
// constraints can be satisfied by the same plausible line.
func findConflicts(rules []Rule) []ConflictWarning {
	byPriority := make(map[int][]int)
	for i, r := range rules {
		byPriority[r.Priority] = append(byPriority[r.Priority], i)
	}

	var out []ConflictWarning
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	for _, p := range priorities {
		group := byPriority[p]
		for a := 0; a < len(group); a++ {
			for b := a + 1; b < len(group); b++ {
				ra, rb := &rules[group[a]], &rules[group[b]]
				if reason := overlapReason(ra, rb); reason != "" {
					ids := []string{ra.ID, rb.ID}
					sort.Strings(ids)
					out = append(out, ConflictWarning{
						Priority: p,
						RuleIDs:  ids,
						Reason:   reason,
					})
				}
			}
		}
	}
	return out
}

// overlapReason returns a non-empty description when some line could match
// both rules. Dimensions that only one rule constrains never separate them,
// and account vs account-group constraints cannot be proven disjoint without
// membership data, so they are treated as overlapping.
func overlapReason(a, b *Rule) string {
	if !skuOverlap(a, b) {
		return ""
	}
	if a.Brand != "" && b.Brand != "" && a.Brand != b.Brand {
		return ""
	}
	if a.Account != "" && b.Account != "" && a.Account != b.Account {
		return ""
	}
	if a.AccountGroup != "" && b.AccountGroup != "" && a.AccountGroup != b.AccountGroup {
		return ""
	}
	ca, cb := a.Channel, b.Channel
	if ca != "" && ca != ChannelAll && cb != "" && cb != ChannelAll && ca != cb {
		return ""
	}
	if !windowOverlap(a.StartDate, a.EndDate, b.StartDate, b.EndDate) {
		return ""
	}
	if !qtyOverlap(a, b) {
		return ""
	}
	return fmt.Sprintf("rules share priority %d and can match the same line", a.Priority)
}

func skuOverlap(a, b *Rule) bool {
	switch {
	case a.SKU != "" && b.SKU != "":
		return a.SKU == b.SKU
	case a.SKU != "" && b.SKUPrefix != "":
		return strings.HasPrefix(a.SKU, b.SKUPrefix)
	case b.SKU != "" && a.SKUPrefix != "":
		return strings.HasPrefix(b.SKU, a.SKUPrefix)
	case a.SKUPrefix != "" && b.SKUPrefix != "":
		return strings.HasPrefix(a.SKUPrefix, b.SKUPrefix) ||
			strings.HasPrefix(b.SKUPrefix, a.SKUPrefix)
	default:
		return true
	}
}

func windowOverlap(aStart, aEnd, bStart, bEnd string) bool {
	if aEnd != "" && bStart != "" && aEnd < bStart {
		return false
	}
	if bEnd != "" && aStart != "" && bEnd < aStart {
		return false
	}
	return true
}

func qtyOverlap(a, b *Rule) bool {
	if a.MaxQty > 0 && b.MinQty > 0 && a.MaxQty < b.MinQty {
		return false
	}
	if b.MaxQty > 0 && a.MinQty > 0 && b.MaxQty < a.MinQty {
		return false
	}
	return true
}
