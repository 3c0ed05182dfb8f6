package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/station-bridge/migrations"
)

func TestMigrate(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_first.up.sql":   {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"20260101_000000_first.down.sql": {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":  {Data: []byte("CREATE TABLE second (id INTEGER PRIMARY KEY);")},
		"README.md":                      {Data: []byte("ignored")},
	}

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"first", "second"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	pending, err := db.Pending(ctx, fsys)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() = %d migrations, want 0", len(pending))
	}

	// A second run is a no-op.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_good.up.sql": {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260102_000000_bad.up.sql":  {Data: []byte("CREATE TABLE bad (id INTEGER); NOT SQL;")},
	}
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() error = nil, want failure")
	}
	pending, err := db.Pending(ctx, fsys)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "bad" {
		t.Errorf("Pending() = %+v, want only bad", pending)
	}
}

func TestLoadMigrations_MissingUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() error = nil, want missing up file")
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{file: "20261019_120000_station_endpoints.up.sql", version: "20261019_120000", name: "station_endpoints", up: true, ok: true},
		{file: "20261019_120000_station_endpoints.down.sql", version: "20261019_120000", name: "station_endpoints", ok: true},
		{file: "20261019_120000.up.sql"},
		{file: "schema.sql"},
		{file: "notes.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseFilename(tt.file)
			if version != tt.version || name != tt.name || up != tt.up || ok != tt.ok {
				t.Errorf("parseFilename() = %q, %q, %v, %v", version, name, up, ok)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(embedded) error = %v", err)
	}
	if _, err := db.ExecContext(ctx,
		"INSERT INTO station_endpoints (device_id, host, port, seen_at) VALUES (?, ?, ?, ?)",
		"q-1", "192.168.1.20", 1961, "2026-10-19T12:00:00Z",
	); err != nil {
		t.Errorf("insert into station_endpoints: %v", err)
	}
}
