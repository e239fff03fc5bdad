package db

import (
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestUpAppliesAllMigrations(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("expected version %d, got %d", len(migrations), version)
	}

	for _, table := range []string{"queued_operations", "cached_responses"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestUpIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Up(); err != nil {
		t.Fatalf("first Up failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("second Up failed: %v", err)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("expected %d applied migrations, got %d", len(migrations), len(applied))
	}
}

func TestAppliedMigrationsRecordChecksums(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	for _, mig := range applied {
		if len(mig.Checksum) != 64 {
			t.Errorf("migration V%d: expected 64-char checksum, got %d chars", mig.Version, len(mig.Checksum))
		}
		if mig.Description == "" {
			t.Errorf("migration V%d: empty description", mig.Version)
		}
		if mig.AppliedAt.IsZero() {
			t.Errorf("migration V%d: zero applied time", mig.Version)
		}
	}
}

func TestCurrentVersionBeforeMigrations(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
}
