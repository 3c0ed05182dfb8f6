package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		rel  string
	}{
		{name: "creates file", rel: "test.db"},
		{name: "creates nested directory", rel: filepath.Join("a", "b", "test.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.rel)
			db, err := Open(context.Background(), config.DatabaseConfig{Path: path, BusyTimeout: 1})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close()

			if _, err := os.Stat(path); err != nil {
				t.Errorf("database file: %v", err)
			}
			if db.Path() != path {
				t.Errorf("Path() = %q, want %q", db.Path(), path)
			}
		})
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{}); !errors.Is(err, ErrNoPath) {
		t.Errorf("Open() error = %v, want ErrNoPath", err)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	db.Close()
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close error = nil")
	}
}

func TestClose_Nil(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}
