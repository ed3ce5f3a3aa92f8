package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir invalid: %v", err)
	}
}

func TestBaselineCreatesCoreTables(t *testing.T) {
	entries, err := os.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	var baseline string
	for _, e := range entries {
		if strings.Contains(e.Name(), "baseline_schema") {
			baseline = filepath.Join("migrations", e.Name())
		}
	}
	if baseline == "" {
		t.Fatal("baseline_schema migration not found")
	}

	raw, err := os.ReadFile(baseline)
	if err != nil {
		t.Fatalf("read baseline: %v", err)
	}
	sql := string(raw)

	for _, table := range []string{
		"users", "stores", "products", "addresses", "coupons",
		"payment_sessions", "orders", "order_items", "escrows",
		"notifications", "outbox_events",
	} {
		if !strings.Contains(sql, "CREATE TABLE "+table) {
			t.Fatalf("baseline missing table %q", table)
		}
	}

	if !strings.Contains(sql, "order_id uuid NOT NULL UNIQUE") {
		t.Fatal("escrows.order_id must be unique")
	}
	if !strings.Contains(sql, "CHECK (stock >= 0)") {
		t.Fatal("products.stock must be non-negative")
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Coupon Usage!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_coupon_usage.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration invalid: %v", err)
	}
}
