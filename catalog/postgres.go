package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresCatalog implements Catalog and Directory backed by PostgreSQL.
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog creates a PostgreSQL-backed catalog.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// Product returns the catalog entry for a SKU, including its tier columns.
func (c *PostgresCatalog) Product(ctx context.Context, sku string) (Product, error) {
	var p Product
	var msrp string
	err := c.db.QueryRowContext(ctx, `
		SELECT sku, description, brand, msrp
		FROM products
		WHERE sku = $1
	`, sku).Scan(&p.SKU, &p.Description, &p.Brand, &msrp)

	if err == sql.ErrNoRows {
		return Product{}, ErrSKUNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("failed to get product: %w", err)
	}

	p.MSRP, err = decimal.NewFromString(msrp)
	if err != nil {
		return Product{}, fmt.Errorf("invalid msrp for sku %s: %w", sku, err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT tier, price
		FROM tier_prices
		WHERE sku = $1
	`, sku)
	if err != nil {
		return Product{}, fmt.Errorf("failed to get tier prices: %w", err)
	}
	defer rows.Close()

	p.TierPrices = make(map[string]decimal.Decimal)
	for rows.Next() {
		var tier, price string
		if err := rows.Scan(&tier, &price); err != nil {
			return Product{}, fmt.Errorf("failed to scan tier price: %w", err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return Product{}, fmt.Errorf("invalid %s price for sku %s: %w", tier, sku, err)
		}
		p.TierPrices[tier] = d
	}
	if err := rows.Err(); err != nil {
		return Product{}, fmt.Errorf("error iterating tier prices: %w", err)
	}

	return p, nil
}

// ResolveBasePrice walks the waterfall for the SKU.
func (c *PostgresCatalog) ResolveBasePrice(ctx context.Context, sku, accountID, tier string) (BasePrice, error) {
	p, err := c.Product(ctx, sku)
	if err != nil {
		return BasePrice{}, err
	}

	var negotiated decimal.Decimal
	hasNegotiated := false
	var raw string
	err = c.db.QueryRowContext(ctx, `
		SELECT price
		FROM negotiated_prices
		WHERE account_id = $1 AND sku = $2
	`, accountID, sku).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// fall through the waterfall
	case err != nil:
		return BasePrice{}, fmt.Errorf("failed to get negotiated price: %w", err)
	default:
		negotiated, err = decimal.NewFromString(raw)
		if err != nil {
			return BasePrice{}, fmt.Errorf("invalid negotiated price for %s/%s: %w", accountID, sku, err)
		}
		hasNegotiated = true
	}

	return resolveWaterfall(&p, negotiated, hasNegotiated, tier)
}

// Account returns the profile for an account ID, including group memberships.
func (c *PostgresCatalog) Account(ctx context.Context, id string) (AccountProfile, error) {
	var a AccountProfile
	err := c.db.QueryRowContext(ctx, `
		SELECT id, tier
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Tier)

	if err == sql.ErrNoRows {
		return AccountProfile{}, ErrAccountNotFound
	}
	if err != nil {
		return AccountProfile{}, fmt.Errorf("failed to get account: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT group_id
		FROM account_groups
		WHERE account_id = $1
		ORDER BY group_id ASC
	`, id)
	if err != nil {
		return AccountProfile{}, fmt.Errorf("failed to get account groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return AccountProfile{}, fmt.Errorf("failed to scan account group: %w", err)
		}
		a.Groups = append(a.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return AccountProfile{}, fmt.Errorf("error iterating account groups: %w", err)
	}

	return a, nil
}
