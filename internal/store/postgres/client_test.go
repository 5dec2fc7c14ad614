package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "polycopy", User: "u", Password: "p"})
	if got != "postgres://u:p@db:5432/polycopy?sslmode=disable" {
		t.Fatalf("DSN = %q", got)
	}
	if got := DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}); got != "postgres://x" {
		t.Fatalf("explicit DSN = %q", got)
	}
}

func TestListFilter(t *testing.T) {
	since := time.UnixMilli(1_700_000_000_000)
	opts := domain.ListOpts{Since: &since, Limit: 10, Offset: 20}

	query, args := listFilter("SELECT * FROM fills WHERE source_address = $1", []any{"0xabc"},
		"timestamp_ms", rangeOf(opts, asUnixMilli))

	want := "SELECT * FROM fills WHERE source_address = $1 AND timestamp_ms >= $2 ORDER BY timestamp_ms DESC LIMIT $3 OFFSET $4"
	if query != want {
		t.Fatalf("query = %q", query)
	}
	if len(args) != 4 || args[1] != int64(1_700_000_000_000) || args[2] != 10 || args[3] != 20 {
		t.Fatalf("args = %v", args)
	}
}

func TestListFilterNoBounds(t *testing.T) {
	query, args := listFilter("SELECT 1 FROM audit_log WHERE 1=1", nil, "created_at", rangeOf(domain.ListOpts{}, asTime))
	if !strings.HasSuffix(query, "ORDER BY created_at DESC") || len(args) != 0 {
		t.Fatalf("query=%q args=%v", query, args)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{"fills", "mirror_orders", "audit_log"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("migration missing table %s", table)
		}
	}
}
