package policy

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Table is an immutable, versioned compiled policy configuration: program
// mappings indexed per waterfall layer, program definitions, and hold
// predicates compiled to CEL programs. Like a rule snapshot, it is built
// once off the hot path and swapped atomically; evaluations never observe a
// half-built table.
type Table struct {
	version int64
	builtAt time.Time

	byAccount   map[string]string // account -> program
	byGroup     map[string]string
	byOrderType map[string]string

	programs map[string]Program
	holds    []compiledHold

	errors []ConfigError
}

type compiledHold struct {
	rule HoldRule
	prog cel.Program
}

// CompileTable builds a Table from raw config. Malformed entries are
// rejected individually and reported via Errors; the rest of the table
// still builds.
func CompileTable(cfg TableConfig, version int64) *Table {
	t := &Table{
		version:     version,
		builtAt:     time.Now(),
		byAccount:   make(map[string]string),
		byGroup:     make(map[string]string),
		byOrderType: make(map[string]string),
		programs:    make(map[string]Program),
	}

	for _, p := range cfg.Programs {
		if p.ID == "" {
			t.errors = append(t.errors, ConfigError{Where: "program", Reason: "program id is required"})
			continue
		}
		if _, dup := t.programs[p.ID]; dup {
			t.errors = append(t.errors, ConfigError{
				Where:  "program " + p.ID,
				Reason: "duplicate program id",
			})
			continue
		}
		if p.Freight.Percent.IsNegative() || p.Freight.FlatAmount.IsNegative() {
			t.errors = append(t.errors, ConfigError{
				Where:  "program " + p.ID,
				Reason: "freight charges must not be negative",
			})
			continue
		}
		t.programs[p.ID] = p
	}

	for _, m := range cfg.Mappings {
		where := fmt.Sprintf("mapping %s=%s", m.MatchType, m.MatchValue)
		if m.MatchValue == "" || m.ProgramID == "" {
			t.errors = append(t.errors, ConfigError{Where: where, Reason: "match_value and program_id are required"})
			continue
		}
		switch m.MatchType {
		case MatchAccount:
			t.byAccount[m.MatchValue] = m.ProgramID
		case MatchGroup:
			t.byGroup[m.MatchValue] = m.ProgramID
		case MatchOrderType:
			t.byOrderType[m.MatchValue] = m.ProgramID
		default:
			t.errors = append(t.errors, ConfigError{
				Where:  where,
				Reason: fmt.Sprintf("unknown match_type %q", m.MatchType),
			})
		}
	}

	t.compileHolds(cfg.HoldRules)
	return t
}

// compileHolds builds the CEL environment and compiles every hold predicate
// up front, so evaluation never pays compile cost and bad expressions are
// caught at table build time.
func (t *Table) compileHolds(rules []HoldRule) {
	env, err := cel.NewEnv(
		cel.Variable("Order", cel.DynType),
		cel.Variable("Program", cel.DynType),
	)
	if err != nil {
		t.errors = append(t.errors, ConfigError{
			Where:  "hold rules",
			Reason: fmt.Sprintf("failed to create CEL environment: %v", err),
		})
		return
	}

	for _, hr := range rules {
		where := "hold " + hr.Code
		if hr.Code == "" || hr.Expression == "" {
			t.errors = append(t.errors, ConfigError{Where: where, Reason: "code and expression are required"})
			continue
		}
		if hr.Severity != SeverityHold && hr.Severity != SeverityReview {
			t.errors = append(t.errors, ConfigError{
				Where:  where,
				Reason: fmt.Sprintf("unknown severity %q", hr.Severity),
			})
			continue
		}

		ast, issues := env.Compile(hr.Expression)
		if issues != nil && issues.Err() != nil {
			t.errors = append(t.errors, ConfigError{
				Where:  where,
				Reason: fmt.Sprintf("compile error: %v", issues.Err()),
			})
			continue
		}

		prog, err := env.Program(ast, cel.CostLimit(1000000))
		if err != nil {
			t.errors = append(t.errors, ConfigError{
				Where:  where,
				Reason: fmt.Sprintf("program creation error: %v", err),
			})
			continue
		}

		t.holds = append(t.holds, compiledHold{rule: hr, prog: prog})
	}
}

// Version returns the table's monotonically increasing version token.
func (t *Table) Version() int64 { return t.version }

// BuiltAt returns when the table was compiled.
func (t *Table) BuiltAt() time.Time { return t.builtAt }

// Errors returns per-entry compile rejections.
func (t *Table) Errors() []ConfigError { return t.errors }

// Program returns a program definition by ID. Unknown programs resolve to a
// built-in standard program, so the default fallback never fails.
func (t *Table) Program(id string) Program {
	if p, ok := t.programs[id]; ok {
		return p
	}
	return Program{
		ID:               id,
		DefaultTermsCode: "NET30",
		DefaultTermDays:  30,
	}
}

// ResolveProgram walks the waterfall: explicit account mapping, then group
// mapping, then order type, then the global default. Every layer consulted
// is recorded in the trace; no layer is skipped silently. Landing on the
// default is the normal fallback case, not an error.
func (t *Table) ResolveProgram(accountID string, groups []string, orderType string) Resolution {
	var trace []Layer

	if pid, ok := t.byAccount[accountID]; ok {
		trace = append(trace, Layer{Name: MatchAccount, Hit: true, ProgramID: pid, Detail: accountID})
		return Resolution{ProgramID: pid, Trace: trace}
	}
	trace = append(trace, Layer{Name: MatchAccount, Detail: accountID})

	for _, g := range groups {
		if pid, ok := t.byGroup[g]; ok {
			trace = append(trace, Layer{Name: MatchGroup, Hit: true, ProgramID: pid, Detail: g})
			return Resolution{ProgramID: pid, Trace: trace}
		}
	}
	trace = append(trace, Layer{Name: MatchGroup})

	if orderType != "" {
		if pid, ok := t.byOrderType[orderType]; ok {
			trace = append(trace, Layer{Name: MatchOrderType, Hit: true, ProgramID: pid, Detail: orderType})
			return Resolution{ProgramID: pid, Trace: trace}
		}
	}
	trace = append(trace, Layer{Name: MatchOrderType, Detail: orderType})

	trace = append(trace, Layer{Name: "default", Hit: true, ProgramID: DefaultProgramID})
	return Resolution{ProgramID: DefaultProgramID, FromDefault: true, Trace: trace}
}
