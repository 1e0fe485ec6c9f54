package rules

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, active, priority, account, account_group, sku, sku_prefix,
	brand, min_qty, max_qty, start_date, end_date, channel, action_type, action_value,
	notes, created_at, updated_at`

// Add inserts a new rule into the database.
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM pricing_rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO pricing_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, rule.ID, rule.Name, rule.Active, rule.Priority, rule.Account, rule.AccountGroup,
		rule.SKU, rule.SKUPrefix, rule.Brand, rule.MinQty, rule.MaxQty,
		rule.StartDate, rule.EndDate, rule.Channel, rule.ActionType, rule.ActionValue,
		rule.Notes, rule.CreatedAt, rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM pricing_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns rules ordered by ID, filtering inactive ones on request.
func (s *PostgresRuleStore) List(includeInactive bool) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM pricing_rules`
	if !includeInactive {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return out, nil
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE pricing_rules
		SET name = $1, active = $2, priority = $3, account = $4, account_group = $5,
			sku = $6, sku_prefix = $7, brand = $8, min_qty = $9, max_qty = $10,
			start_date = $11, end_date = $12, channel = $13, action_type = $14,
			action_value = $15, notes = $16, updated_at = $17
		WHERE id = $18
	`, rule.Name, rule.Active, rule.Priority, rule.Account, rule.AccountGroup,
		rule.SKU, rule.SKUPrefix, rule.Brand, rule.MinQty, rule.MaxQty,
		rule.StartDate, rule.EndDate, rule.Channel, rule.ActionType,
		rule.ActionValue, rule.Notes, rule.UpdatedAt, rule.ID)

	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", rule.ID)
	}

	return nil
}

// Delete removes a rule from the database.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM pricing_rules
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	err := row.Scan(
		&r.ID, &r.Name, &r.Active, &r.Priority, &r.Account, &r.AccountGroup,
		&r.SKU, &r.SKUPrefix, &r.Brand, &r.MinQty, &r.MaxQty,
		&r.StartDate, &r.EndDate, &r.Channel, &r.ActionType, &r.ActionValue,
		&r.Notes, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
