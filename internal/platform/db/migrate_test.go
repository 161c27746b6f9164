package db

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_appointment.sql": {Data: []byte("CREATE TABLE appointment (id UUID PRIMARY KEY);")},
		"002_queue_event.sql": {Data: []byte("CREATE TABLE queue_event (id UUID PRIMARY KEY);")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_appointment.sql" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE appointment (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	expected := []int{1, 2, 5, 10}
	if len(migrations) != len(expected) {
		t.Fatalf("expected %d migrations, got %d", len(expected), len(migrations))
	}
	for i, v := range expected {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_InvalidFilename(t *testing.T) {
	fsys := fstest.MapFS{
		"001_valid.sql":      {Data: []byte("SELECT 1;")},
		"readme.sql":         {Data: []byte("-- no version prefix")},
		"notes.txt":          {Data: []byte("not sql")},
		"abc_invalid.sql":    {Data: []byte("-- non-numeric prefix")},
		"002_also_valid.sql": {Data: []byte("SELECT 2;")},
		"sub/003_nested.sql": {Data: []byte("SELECT 3;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestLoadMigrations_EmptyFS(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DirFS(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_first.sql"), []byte("SELECT 1;"), 0644); err != nil {
		t.Fatal(err)
	}

	migrations, err := NewMigrator(nil, os.DirFS(dir)).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, os.DirFS("/nonexistent/migrations")).LoadMigrations()
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
		ok      bool
	}{
		{"001_appointment.sql", 1, true},
		{"12_queue_event.sql", 12, true},
		{"000_zero.sql", 0, false},
		{"001appointment.sql", 0, false},
		{"001_appointment.txt", 0, false},
		{"x1_appointment.sql", 0, false},
	}
	for _, tt := range tests {
		v, ok := migrationVersion(tt.name)
		if v != tt.version || ok != tt.ok {
			t.Errorf("migrationVersion(%q) = %d, %v; want %d, %v", tt.name, v, ok, tt.version, tt.ok)
		}
	}
}

func TestLoadMigrations_Checksum(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"002_b.sql": {Data: []byte("SELECT 1;")},
		"003_c.sql": {Data: []byte("SELECT 3;")},
	}
	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations[0].Checksum) != 64 {
		t.Fatalf("expected hex sha256, got %q", migrations[0].Checksum)
	}
	if migrations[0].Checksum != migrations[1].Checksum {
		t.Error("identical files must have the same checksum")
	}
	if migrations[0].Checksum == migrations[2].Checksum {
		t.Error("different files must have different checksums")
	}
}

func TestMigrationStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_appointment.sql", Checksum: "aaa"},
		{Version: 2, Name: "002_queue_event.sql", Checksum: "bbb"},
		{Version: 3, Name: "003_index.sql", Checksum: "ccc"},
	}
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	applied := map[int]appliedRecord{
		1: {appliedAt: at, checksum: "aaa"},
		2: {appliedAt: at, checksum: "changed"},
	}

	got := migrationStatuses(migrations, applied)
	if len(got) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(got))
	}
	if !got[0].Applied || got[0].Modified || got[0].AppliedAt == nil || !got[0].AppliedAt.Equal(at) {
		t.Errorf("unexpected status for 001: %+v", got[0])
	}
	if !got[1].Applied || !got[1].Modified {
		t.Errorf("expected 002 to be applied and modified: %+v", got[1])
	}
	if got[2].Applied || got[2].AppliedAt != nil {
		t.Errorf("expected 003 pending: %+v", got[2])
	}
}
