package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flable/flable-backend/pkg/migrate"
)

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Embedded()); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestSyncMigrationEnforcesSingleInFlightRun(t *testing.T) {
	content := readMigration(t, "*_create_sync_tables.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS sync_runs",
		"CONSTRAINT ux_sync_runs_in_flight UNIQUE (in_flight_key)",
		"CONSTRAINT ux_raw_records_natural_key UNIQUE (connection_id, resource, external_id)",
		"PRIMARY KEY (connection_id, resource)",
		"DROP TABLE IF EXISTS raw_records",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCampaignMigrationEnforcesGuardrails(t *testing.T) {
	content := readMigration(t, "*_create_campaign_optimization.sql")

	checks := []string{
		"CONSTRAINT ux_metric_snapshots_campaign_day UNIQUE (campaign_id, day)",
		"CHECK (daily_budget >= min_budget AND daily_budget <= max_budget)",
		"BEFORE UPDATE ON optimization_decisions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename to fail validation")
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC) }
	path, err := migrate.CreateSQLMigration(migrate.CreateRequest{Dir: dir, Name: "Add Campaign Notes", Now: now})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260601083000_add_campaign_notes.sql" {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestCreateSQLMigrationSortsAfterExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260601090000_create_raw_records.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lagging := func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) }
	path, err := migrate.CreateSQLMigration(migrate.CreateRequest{Dir: dir, Name: "index raw records", Now: lagging, NoTransaction: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260601090001_index_raw_records.sql" {
		t.Fatalf("expected version after existing migration, got %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(data), "-- +goose NO TRANSACTION\n") {
		t.Fatalf("missing no-transaction annotation:\n%s", data)
	}
}

func TestCreateSQLMigrationRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "  !!  ", strings.Repeat("a", 81)} {
		if _, err := migrate.CreateSQLMigration(migrate.CreateRequest{Dir: t.TempDir(), Name: name}); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
	if _, err := migrate.CreateSQLMigration(migrate.CreateRequest{Name: "x"}); err == nil {
		t.Errorf("expected missing dir to be rejected")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := fs.Glob(migrate.Embedded(), pattern)
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := fs.ReadFile(migrate.Embedded(), matches[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(data)
}
