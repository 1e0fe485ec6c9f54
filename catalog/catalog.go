// Package catalog provides the external collaborators the pricing resolver
// consults: the product catalog with its base-price waterfall, and the
// account directory (groups and negotiated tier per account).
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrSKUNotFound reports an unknown SKU.
var ErrSKUNotFound = errors.New("sku not found in catalog")

// ErrNoPrice reports a known SKU with no resolvable price at all.
var ErrNoPrice = errors.New("no price available")

// ErrAccountNotFound reports an unknown account.
var ErrAccountNotFound = errors.New("account not found")

// BaseSource identifies which waterfall step produced a base price.
type BaseSource string

const (
	// BaseNegotiated is an explicit per-account price for the SKU.
	BaseNegotiated BaseSource = "negotiated"
	// BaseTier is the account's resolved tier price column.
	BaseTier BaseSource = "tier"
	// BaseMSRP is the list-price fallback.
	BaseMSRP BaseSource = "msrp"
)

// Product is a catalog entry. TierPrices maps tier names to contract price
// columns; a zero MSRP means the product has no list price.
type Product struct {
	SKU         string
	Description string
	Brand       string
	MSRP        decimal.Decimal
	TierPrices  map[string]decimal.Decimal
}

// BasePrice is the waterfall result for one line.
type BasePrice struct {
	Price  decimal.Decimal
	Source BaseSource
	Tier   string // tier column used, when Source is BaseTier
}

// AccountProfile describes an account for pricing purposes.
type AccountProfile struct {
	ID     string
	Groups []string
	Tier   string // negotiated pricing column, "" when the account has none
}

// Catalog resolves products and base prices. Implementations may call out
// to external systems; lookups take a context and must honor cancellation.
type Catalog interface {
	// Product returns the catalog entry for a SKU.
	Product(ctx context.Context, sku string) (Product, error)

	// ResolveBasePrice walks the waterfall for sku: an explicit negotiated
	// price for the account, else the tier price column, else MSRP. Returns
	// ErrNoPrice when no step yields a value.
	ResolveBasePrice(ctx context.Context, sku, accountID, tier string) (BasePrice, error)
}

// Directory resolves account profiles.
type Directory interface {
	Account(ctx context.Context, id string) (AccountProfile, error)
}

// waterfallStep is one entry in the ordered base-price resolution chain.
// A step either produces a price or defers to the next step.
type waterfallStep struct {
	name    string
	resolve func(p *Product, negotiated decimal.Decimal, hasNegotiated bool, tier string) (BasePrice, bool)
}

// waterfall is the fixed resolution order. Keeping it as data rather than
// nested conditionals lets each step be tested in isolation.
var waterfall = []waterfallStep{
	{
		name: "negotiated",
		resolve: func(p *Product, negotiated decimal.Decimal, hasNegotiated bool, _ string) (BasePrice, bool) {
			if !hasNegotiated {
				return BasePrice{}, false
			}
			return BasePrice{Price: negotiated, Source: BaseNegotiated}, true
		},
	},
	{
		name: "tier",
		resolve: func(p *Product, _ decimal.Decimal, _ bool, tier string) (BasePrice, bool) {
			if tier == "" {
				return BasePrice{}, false
			}
			price, ok := p.TierPrices[tier]
			if !ok {
				return BasePrice{}, false
			}
			return BasePrice{Price: price, Source: BaseTier, Tier: tier}, true
		},
	},
	{
		name: "msrp",
		resolve: func(p *Product, _ decimal.Decimal, _ bool, _ string) (BasePrice, bool) {
			if p.MSRP.IsZero() {
				return BasePrice{}, false
			}
			return BasePrice{Price: p.MSRP, Source: BaseMSRP}, true
		},
	},
}

// resolveWaterfall runs the shared step chain. First step that yields wins.
func resolveWaterfall(p *Product, negotiated decimal.Decimal, hasNegotiated bool, tier string) (BasePrice, error) {
	for _, step := range waterfall {
		if bp, ok := step.resolve(p, negotiated, hasNegotiated, tier); ok {
			return bp, nil
		}
	}
	return BasePrice{}, ErrNoPrice
}
