package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLedgerMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_credit_ledger_entries.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no ledger migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS credit_ledger_entries",
		"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		"CHECK (delta <> 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_ledger_entries_source_ref",
		"DROP TABLE IF EXISTS credit_ledger_entries",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestUsageMigrationContainsUniqueKey(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_usage_events.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no usage events migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS usage_events",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_events_idempotency_key",
		"CHECK (quantity > 0)",
		"DROP TABLE IF EXISTS usage_events",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
