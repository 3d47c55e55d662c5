package db

import (
	"context"
	"strings"
	"testing"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		in     string
		driver string
	}{
		{"postgres://u:p@localhost:5432/app?sslmode=disable", DriverPostgres},
		{"postgresql://localhost/app", DriverPostgres},
		{"sqlite://./data/app.db", DriverSQLite},
		{"file:app.db", DriverSQLite},
		{":memory:", DriverSQLite},
	}
	for _, c := range cases {
		driver, dsn, err := ParseURL(c.in)
		if err != nil {
			t.Fatalf("ParseURL(%q): %v", c.in, err)
		}
		if driver != c.driver {
			t.Fatalf("ParseURL(%q) driver = %s, want %s", c.in, driver, c.driver)
		}
		if driver == DriverSQLite && !strings.Contains(dsn, "_pragma=foreign_keys(1)") {
			t.Fatalf("sqlite dsn %q lacks pragmas", dsn)
		}
	}
	if _, _, err := ParseURL("mysql://localhost/app"); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
	if _, _, err := ParseURL(""); err == nil {
		t.Fatal("expected empty url error")
	}
}

func TestOpenAndMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := OpenAndMigrate(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	defer conn.Close()

	for _, table := range []string{"companies", "sessions", "messages", "tickets", "llm_usage_records", "processed_events", "job_runs"} {
		var n int
		if err := conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			t.Fatalf("table %s not created: %v", table, err)
		}
	}

	// A second run finds nothing pending.
	if err := Migrate(ctx, conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestRedact(t *testing.T) {
	got := redact("postgres://user:secret@db:5432/app")
	if strings.Contains(got, "secret") {
		t.Fatalf("redact leaked credentials: %s", got)
	}
}
