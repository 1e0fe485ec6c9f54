//go:build integration

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

func seedTestData(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO products (sku, description, brand, msrp) VALUES
			('F7-VARSITY-01', 'Varsity jacket', 'Fenix', 300.00),
			('F7-HOODIE-02', 'Team hoodie', 'Fenix', 100.00)`,
		`INSERT INTO tier_prices (sku, tier, price) VALUES
			('F7-VARSITY-01', 'WHOLESALE', 250.00),
			('F7-VARSITY-01', 'PREFERRED', 220.00)`,
		`INSERT INTO accounts (id, tier) VALUES ('ACME', 'WHOLESALE')`,
		`INSERT INTO account_groups (account_id, group_id) VALUES ('ACME', 'WEST'), ('ACME', 'VIP')`,
		`INSERT INTO negotiated_prices (account_id, sku, price) VALUES ('ACME', 'F7-HOODIE-02', 79.99)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestPostgresCatalogWaterfall(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedTestData(t, db)

	c := NewPostgresCatalog(db)
	ctx := context.Background()

	p, err := c.Product(ctx, "F7-VARSITY-01")
	if err != nil {
		t.Fatalf("Product() error: %v", err)
	}
	if p.Brand != "Fenix" || len(p.TierPrices) != 2 {
		t.Errorf("product = %+v", p)
	}

	if _, err := c.Product(ctx, "GHOST"); !errors.Is(err, ErrSKUNotFound) {
		t.Errorf("expected ErrSKUNotFound, got %v", err)
	}

	// Negotiated price wins for the hoodie.
	bp, err := c.ResolveBasePrice(ctx, "F7-HOODIE-02", "ACME", "WHOLESALE")
	if err != nil {
		t.Fatal(err)
	}
	if bp.Source != BaseNegotiated || !bp.Price.Equal(decimal.RequireFromString("79.99")) {
		t.Errorf("hoodie base = %+v", bp)
	}

	// Tier column for the jacket.
	bp, err = c.ResolveBasePrice(ctx, "F7-VARSITY-01", "ACME", "WHOLESALE")
	if err != nil {
		t.Fatal(err)
	}
	if bp.Source != BaseTier || !bp.Price.Equal(decimal.NewFromInt(250)) {
		t.Errorf("jacket base = %+v", bp)
	}

	// MSRP fallback for an account with no tier.
	bp, err = c.ResolveBasePrice(ctx, "F7-VARSITY-01", "NOBODY", "")
	if err != nil {
		t.Fatal(err)
	}
	if bp.Source != BaseMSRP || !bp.Price.Equal(decimal.NewFromInt(300)) {
		t.Errorf("msrp base = %+v", bp)
	}
}

func TestPostgresDirectoryAccount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedTestData(t, db)

	c := NewPostgresCatalog(db)

	a, err := c.Account(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("Account() error: %v", err)
	}
	if a.Tier != "WHOLESALE" {
		t.Errorf("tier = %s, want WHOLESALE", a.Tier)
	}
	if len(a.Groups) != 2 || a.Groups[0] != "VIP" || a.Groups[1] != "WEST" {
		t.Errorf("groups = %v, want [VIP WEST]", a.Groups)
	}

	if _, err := c.Account(context.Background(), "GHOST"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
