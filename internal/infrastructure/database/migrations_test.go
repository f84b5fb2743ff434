package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"testing/fstest"
)

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := os.DirFS("testdata")

	if err := db.Migrate(ctx, fsys, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") {
		t.Fatal("widgets table not created")
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO widgets (id, name, colour) VALUES ('w1', 'one', 'red')"); err != nil {
		t.Fatalf("second migration not applied: %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, ".")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Idempotent.
	if err := db.Migrate(ctx, fsys, "."); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260101_000000_good.up.sql": {Data: []byte("CREATE TABLE good (id TEXT);")},
		"20260102_000000_bad.up.sql":  {Data: []byte("CREATE TABLE nonsense (;")},
	}

	if err := db.Migrate(ctx, fsys, "."); err == nil {
		t.Fatal("Migrate() error = nil, want failure")
	}
	if !tableExists(t, db, "good") {
		t.Error("first migration was rolled back")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, ".")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 || pending[0].Name != "bad" {
		t.Errorf("applied=%v pending=%v", applied, pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := os.DirFS("testdata")

	if err := db.Migrate(ctx, fsys, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The newest migration has no down file.
	if err := db.MigrateDown(ctx, fsys, "."); !errors.Is(err, ErrNoDownMigration) {
		t.Fatalf("MigrateDown() error = %v, want ErrNoDownMigration", err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = '20260102_000000'"); err != nil {
		t.Fatalf("removing record: %v", err)
	}
	if err := db.MigrateDown(ctx, fsys, "."); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets table should have been dropped")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, fsys, "."); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDown_MissingFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, os.DirFS("testdata"), "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fstest.MapFS{}, "."); !errors.Is(err, ErrMigrationMissing) {
		t.Errorf("MigrateDown() error = %v, want ErrMigrationMissing", err)
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"20260201_000000_second.up.sql":   {Data: []byte("B")},
		"20260101_000000_first.up.sql":    {Data: []byte("A")},
		"20260101_000000_first.down.sql":  {Data: []byte("undo A")},
		"20260301_000000_orphan.down.sql": {Data: []byte("x")},
		"notes.md":                        {Data: []byte("ignored")},
		"sub/20260401_000000_x.up.sql":    {Data: []byte("nested")},
	}

	got, err := LoadMigrations(fsys, ".")
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadMigrations() = %d migrations, want 2: %+v", len(got), got)
	}
	if got[0].Version != "20260101_000000" || got[0].Name != "first" || got[0].DownSQL != "undo A" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Version != "20260201_000000" || got[1].DownSQL != "" {
		t.Errorf("second = %+v", got[1])
	}

	if m, err := LoadMigrations(nil, "."); err != nil || m != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", m, err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260118_120000_initial_schema.up.sql", "20260118_120000", "initial_schema", true, true},
		{"20260118_120000_initial_schema.down.sql", "20260118_120000", "initial_schema", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "20260118_120000", true, true},
		{"20260118_120000_audit.sql", "", "", false, false},
		{"20260118.up.sql", "", "", false, false},
		{"README.md", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
