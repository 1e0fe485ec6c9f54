package policy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testConfig() TableConfig {
	return TableConfig{
		Programs: []Program{
			{
				ID:               "STANDARD",
				DefaultTermsCode: "NET30",
				DefaultTermDays:  30,
				Freight: FreightConfig{
					Percent: decimal.NewFromInt(18),
				},
			},
			{
				ID:               "TEAM-DEALER",
				DefaultTermsCode: "NET45",
				DefaultTermDays:  45,
				Freight: FreightConfig{
					HasFFA:       true,
					FFAThreshold: decimal.NewFromInt(2500),
					Percent:      decimal.NewFromInt(18),
				},
			},
		},
		Mappings: []ProgramMapping{
			{MatchType: MatchAccount, MatchValue: "ACME", ProgramID: "TEAM-DEALER"},
			{MatchType: MatchGroup, MatchValue: "WEST", ProgramID: "TEAM-DEALER"},
			{MatchType: MatchOrderType, MatchValue: "preseason", ProgramID: "TEAM-DEALER"},
		},
	}
}

func TestCompileTableRejectsBadEntries(t *testing.T) {
	cfg := TableConfig{
		Programs: []Program{
			{ID: ""},
			{ID: "DUP"},
			{ID: "DUP"},
			{ID: "NEG", Freight: FreightConfig{Percent: decimal.NewFromInt(-1)}},
		},
		Mappings: []ProgramMapping{
			{MatchType: MatchAccount, MatchValue: "", ProgramID: "X"},
			{MatchType: "zone", MatchValue: "A", ProgramID: "X"},
		},
		HoldRules: []HoldRule{
			{Code: "", Expression: "true", Severity: SeverityHold},
			{Code: "BAD-SEV", Expression: "true", Severity: "panic"},
			{Code: "BAD-EXPR", Expression: "Order.subtotal >>> 1", Severity: SeverityHold},
		},
	}

	table := CompileTable(cfg, 1)

	if len(table.Errors()) != 8 {
		t.Fatalf("expected 8 config errors, got %d: %v", len(table.Errors()), table.Errors())
	}
	// The one valid program still compiled.
	if table.Program("DUP").ID != "DUP" {
		t.Error("valid program should survive sibling rejections")
	}
}

func TestResolveProgramWaterfall(t *testing.T) {
	table := CompileTable(testConfig(), 1)

	tests := []struct {
		name        string
		accountID   string
		groups      []string
		orderType   string
		wantProgram string
		wantDefault bool
		wantLayers  int
	}{
		{
			name:        "account layer wins",
			accountID:   "ACME",
			groups:      []string{"WEST"},
			orderType:   "preseason",
			wantProgram: "TEAM-DEALER",
			wantLayers:  1,
		},
		{
			name:        "group layer after account miss",
			accountID:   "OTHER",
			groups:      []string{"EAST", "WEST"},
			wantProgram: "TEAM-DEALER",
			wantLayers:  2,
		},
		{
			name:        "order type after account and group miss",
			accountID:   "OTHER",
			orderType:   "preseason",
			wantProgram: "TEAM-DEALER",
			wantLayers:  3,
		},
		{
			name:        "default when everything misses",
			accountID:   "OTHER",
			orderType:   "restock",
			wantProgram: DefaultProgramID,
			wantDefault: true,
			wantLayers:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := table.ResolveProgram(tt.accountID, tt.groups, tt.orderType)
			if res.ProgramID != tt.wantProgram {
				t.Errorf("program = %s, want %s", res.ProgramID, tt.wantProgram)
			}
			if res.FromDefault != tt.wantDefault {
				t.Errorf("fromDefault = %v, want %v", res.FromDefault, tt.wantDefault)
			}
			if len(res.Trace) != tt.wantLayers {
				t.Errorf("trace layers = %d, want %d", len(res.Trace), tt.wantLayers)
			}
			last := res.Trace[len(res.Trace)-1]
			if !last.Hit {
				t.Error("final trace layer should be the hit")
			}
			if last.ProgramID != tt.wantProgram {
				t.Errorf("final layer program = %s, want %s", last.ProgramID, tt.wantProgram)
			}
		})
	}
}

func TestProgramUnknownIDFallsBack(t *testing.T) {
	table := CompileTable(TableConfig{}, 1)

	p := table.Program("GHOST")
	if p.DefaultTermsCode != "NET30" || p.DefaultTermDays != 30 {
		t.Errorf("unknown program should carry NET30/30, got %s/%d", p.DefaultTermsCode, p.DefaultTermDays)
	}
}
