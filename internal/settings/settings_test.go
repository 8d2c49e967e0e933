package settings

import (
	"context"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		dsn, driver, dialect, path string
	}{
		{"gatekeep.db", "sqlite", "sqlite", "gatekeep.db"},
		{":memory:", "sqlite", "sqlite", ":memory:"},
		{"sqlite:///var/lib/gatekeep.db", "sqlite", "sqlite", "/var/lib/gatekeep.db"},
		{"postgres://gk:pw@db:5432/gatekeep?sslmode=disable", "pgx", "postgres", "postgres://gk:pw@db:5432/gatekeep?sslmode=disable"},
		{"postgresql://gk@db/gatekeep", "pgx", "postgres", "postgresql://gk@db/gatekeep"},
		{"POSTGRES://gk@db/gatekeep", "pgx", "postgres", "POSTGRES://gk@db/gatekeep"},
	}
	for _, c := range cases {
		drv, dialect, path := parseDSN(c.dsn)
		if drv != c.driver || dialect != c.dialect || path != c.path {
			t.Fatalf("parseDSN(%q) = %q/%q/%q, want %q/%q/%q",
				c.dsn, drv, dialect, path, c.driver, c.dialect, c.path)
		}
	}
}

func TestGetMaterializesDefault(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	v, err := s.Get(ctx, KeyMaxRestartAttempts, "3")
	if err != nil || v != "3" {
		t.Fatalf("Get default: v=%q err=%v", v, err)
	}
	// The default is now persisted: a different fallback must not win.
	v, err = s.Get(ctx, KeyMaxRestartAttempts, "99")
	if err != nil || v != "3" {
		t.Fatalf("Get after materialization: v=%q err=%v", v, err)
	}
}

func TestSetOverwritesAndKeepsDescription(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.Set(ctx, KeyProductionWebhookURL, "https://a.example/hook", "production webhook endpoint"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, KeyProductionWebhookURL, "https://b.example/hook", ""); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	all, err := s.All(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("All: %v (%d rows)", err, len(all))
	}
	if all[0].Value != "https://b.example/hook" {
		t.Fatalf("value not overwritten: %q", all[0].Value)
	}
	if all[0].Description != "production webhook endpoint" {
		t.Fatalf("empty description should keep the existing one, got %q", all[0].Description)
	}
}

func TestTypedGetters(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.Set(ctx, KeyAutoRestartEnabled, "false", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, err := s.GetBool(ctx, KeyAutoRestartEnabled, true)
	if err != nil || b {
		t.Fatalf("GetBool: b=%v err=%v", b, err)
	}

	n, err := s.GetInt(ctx, KeyMaxRestartAttempts, 3)
	if err != nil || n != 3 {
		t.Fatalf("GetInt default: n=%d err=%v", n, err)
	}

	if err := s.Set(ctx, KeyWebhookCheckInterval, "120", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	d, err := s.GetSeconds(ctx, KeyWebhookCheckInterval, time.Minute)
	if err != nil || d != 2*time.Minute {
		t.Fatalf("GetSeconds: d=%v err=%v", d, err)
	}
}

func TestMalformedValueFallsBackToDefault(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.Set(ctx, KeyMaxRestartAttempts, "not-a-number", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := s.GetInt(ctx, KeyMaxRestartAttempts, 3)
	if err != nil || n != 3 {
		t.Fatalf("GetInt malformed: n=%d err=%v", n, err)
	}
}
