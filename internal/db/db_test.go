package db

import (
	"os"
	"path/filepath"
	"testing"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/internal/domain/measurement"
	"smartpot-app-go/pkg/logger"
)

func TestSQLiteMigrateCreatesTables(t *testing.T) {
	gormDB, err := NewSQLite(filepath.Join(t.TempDir(), "pots.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	models := []any{&binding.Household{}, &binding.HouseholdMember{}, &binding.Flower{}, &binding.SmartPot{}, &measurement.Measurement{}}
	if err := Migrate(gormDB, logger.NewNop(), models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range []string{"households", "household_members", "flowers", "smart_pots", "measurements"} {
		if !gormDB.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestFindMigrationsDirWalksUp(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, migrationsDirName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, migrationsDirName, "0002_b.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, migrationsDirName, "0001_a.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Chdir(nested)

	path, err := findMigrationsDir(migrationsDirName)
	if err != nil {
		t.Fatalf("expected directory, got %v", err)
	}
	files, err := migrationFiles(path)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || files[0] != "0001_a.sql" {
		t.Fatalf("expected sorted migrations, got %v", files)
	}
}
