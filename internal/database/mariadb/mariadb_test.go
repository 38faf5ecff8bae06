package mariadb

import (
	"strings"
	"testing"
)

func TestNormalizeDSN_ForcesParseTime(t *testing.T) {
	dsn, err := normalizeDSN("app:secret@tcp(db:3306)/reconhecimento")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("expected parseTime=true in %q", dsn)
	}
	if !strings.HasPrefix(dsn, "app:secret@tcp(db:3306)/reconhecimento") {
		t.Errorf("expected credentials and address to be preserved, got %q", dsn)
	}
}

func TestNormalizeDSN_Invalid(t *testing.T) {
	if _, err := normalizeDSN("not a dsn"); err == nil {
		t.Error("expected error for malformed DSN")
	}
}

func TestNewPool_RequiresDSN(t *testing.T) {
	if _, err := NewPool(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestSchemaStatements(t *testing.T) {
	var tables []string
	for stmt := range strings.SplitSeq(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		fields := strings.Fields(stmt)
		if len(fields) < 6 {
			t.Fatalf("unexpected statement %q", stmt)
		}
		tables = append(tables, fields[5])
	}

	expected := []string{"usuario", "fotos_usuario", "login"}
	if len(tables) != len(expected) {
		t.Fatalf("expected %d tables, got %v", len(expected), tables)
	}
	for i, name := range expected {
		if tables[i] != name {
			t.Errorf("table %d: expected %q, got %q", i, name, tables[i])
		}
	}
}
