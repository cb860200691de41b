package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateDirAcceptsRealMigrations(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("expected valid migrations dir, got: %v", err)
	}
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "1_Bad-Name.sql")
	if err := os.WriteFile(bad, []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err := ValidateDir(dir)
	if err == nil {
		t.Fatalf("expected error for invalid filename")
	}
	if !strings.Contains(err.Error(), "invalid migration filename") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateDirRejectsMissingGooseHeaders(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "20250601120000_missing_down.sql")
	if err := os.WriteFile(f, []byte("-- +goose Up\nSELECT 1;\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err := ValidateDir(dir)
	if err == nil {
		t.Fatalf("expected error for missing goose Down header")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()

	path, err := CreateSQLMigration(dir, "Add Promo Grants!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_promo_grants.sql") {
		t.Errorf("unexpected filename: %s", path)
	}

	if err := ValidateDir(dir); err != nil {
		t.Errorf("created migration should validate: %v", err)
	}
}
