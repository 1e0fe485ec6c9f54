// Package enginemanager owns the live evaluation engine. Rule and policy
// changes never touch the engine in place: a new snapshot and policy table
// are compiled off the hot path and published by swapping a single atomic
// pointer. In-flight evaluations keep the engine they captured, so no
// evaluation ever observes a half-built snapshot.
package enginemanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dealdesk/pricing/catalog"
	"github.com/dealdesk/pricing/policy"
	"github.com/dealdesk/pricing/pricing"
	"github.com/dealdesk/pricing/rules"
)

// PolicySource loads the raw policy configuration a table compiles from.
type PolicySource interface {
	Load(ctx context.Context) (policy.TableConfig, error)
}

// StaticPolicySource serves a fixed in-memory config. Used by tests and by
// deployments that ship policy alongside the binary.
type StaticPolicySource struct {
	Config policy.TableConfig
}

// Load returns the static config.
func (s *StaticPolicySource) Load(context.Context) (policy.TableConfig, error) {
	return s.Config, nil
}

// FilePolicySource reads a JSON TableConfig from disk on every rebuild.
type FilePolicySource struct {
	Path string
}

// Load parses the policy config file.
func (s *FilePolicySource) Load(context.Context) (policy.TableConfig, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return policy.TableConfig{}, fmt.Errorf("failed to read policy config: %w", err)
	}
	var cfg policy.TableConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return policy.TableConfig{}, fmt.Errorf("invalid policy config: %w", err)
	}
	return cfg, nil
}

// Manager builds engines from the rule store and policy source and
// publishes them atomically.
type Manager struct {
	ruleStore rules.RuleStore
	policies  PolicySource
	catalog   catalog.Catalog
	directory catalog.Directory

	current atomic.Pointer[pricing.Engine]
	version atomic.Int64
	mu      sync.Mutex // serializes rebuilds; readers never take it
}

// New creates a Manager. Call Rebuild before serving traffic.
func New(store rules.RuleStore, policies PolicySource, cat catalog.Catalog, dir catalog.Directory) *Manager {
	return &Manager{
		ruleStore: store,
		policies:  policies,
		catalog:   cat,
		directory: dir,
	}
}

// Current returns the live engine, or nil before the first Rebuild.
func (m *Manager) Current() *pricing.Engine {
	return m.current.Load()
}

// Version returns the version token of the most recent build.
func (m *Manager) Version() int64 {
	return m.version.Load()
}

// Rebuild compiles a fresh snapshot and policy table and swaps them in.
// The swap is the last step; until it happens every evaluation continues
// against the previous engine.
func (m *Manager) Rebuild(ctx context.Context) (*pricing.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.ruleStore.List(true)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	cfg, err := m.policies.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy config: %w", err)
	}

	version := m.version.Add(1)
	snapshot := rules.Compile(raw, version)
	table := policy.CompileTable(cfg, version)

	engine := pricing.NewEngine(snapshot, table, m.catalog, m.directory)
	m.current.Store(engine)
	return engine, nil
}
