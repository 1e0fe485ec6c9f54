package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// InMemoryCatalog implements Catalog and Directory over maps. Thread-safe
// with an RWMutex; the write methods exist for setup and tests.
type InMemoryCatalog struct {
	products   map[string]Product
	negotiated map[string]map[string]decimal.Decimal // account -> sku -> price
	accounts   map[string]AccountProfile
	mu         sync.RWMutex
}

// NewInMemoryCatalog creates an empty in-memory catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		products:   make(map[string]Product),
		negotiated: make(map[string]map[string]decimal.Decimal),
		accounts:   make(map[string]AccountProfile),
	}
}

// PutProduct adds or replaces a product.
func (c *InMemoryCatalog) PutProduct(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.SKU] = p
}

// PutAccount adds or replaces an account profile.
func (c *InMemoryCatalog) PutAccount(a AccountProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[a.ID] = a
}

// PutNegotiatedPrice records an explicit account price for a SKU.
func (c *InMemoryCatalog) PutNegotiatedPrice(accountID, sku string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.negotiated[accountID]
	if !ok {
		m = make(map[string]decimal.Decimal)
		c.negotiated[accountID] = m
	}
	m[sku] = price
}

// Product returns the catalog entry for a SKU.
func (c *InMemoryCatalog) Product(ctx context.Context, sku string) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[sku]
	if !ok {
		return Product{}, ErrSKUNotFound
	}
	return p, nil
}

// ResolveBasePrice walks the waterfall for the SKU.
func (c *InMemoryCatalog) ResolveBasePrice(ctx context.Context, sku, accountID, tier string) (BasePrice, error) {
	if err := ctx.Err(); err != nil {
		return BasePrice{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[sku]
	if !ok {
		return BasePrice{}, ErrSKUNotFound
	}

	var negotiated decimal.Decimal
	hasNegotiated := false
	if m, ok := c.negotiated[accountID]; ok {
		if v, ok := m[sku]; ok {
			negotiated = v
			hasNegotiated = true
		}
	}

	return resolveWaterfall(&p, negotiated, hasNegotiated, tier)
}

// Account returns the profile for an account ID.
func (c *InMemoryCatalog) Account(ctx context.Context, id string) (AccountProfile, error) {
	if err := ctx.Err(); err != nil {
		return AccountProfile{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.accounts[id]
	if !ok {
		return AccountProfile{}, ErrAccountNotFound
	}
	return a, nil
}
