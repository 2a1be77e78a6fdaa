package migration

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %q: %v", name, err)
	}
}

func TestLoadSortsAndParsesTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0002_add_users.sql", "CREATE TABLE users();")
	writeFile(t, dir, "0001_init.sql", "CREATE TABLE init();")
	writeFile(t, dir, "readme.txt", "not a migration")

	files, err := Load(dir, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Name != "0001_init.sql" || files[1].Name != "0002_add_users.sql" {
		t.Fatalf("files not sorted by name: %v, %v", files[0].Name, files[1].Name)
	}
	if files[0].Timestamp != 1 || files[1].Timestamp != 2 {
		t.Fatalf("unexpected timestamps: %d, %d", files[0].Timestamp, files[1].Timestamp)
	}
}

func TestLoadRejectsMissingTimestampPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "init.sql", "CREATE TABLE init();")

	_, err := Load(dir, false)
	if _, ok := err.(*InvalidMigrationNameError); !ok {
		t.Fatalf("expected *InvalidMigrationNameError, got %v (%T)", err, err)
	}
}

func TestLoadMissingFolderIsSoftErrorWhenOptional(t *testing.T) {
	files, err := Load(filepath.Join(t.TempDir(), "does-not-exist"), true)
	if err != nil {
		t.Fatalf("expected no error for an optional missing folder, got %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil files, got %v", files)
	}
}

func TestLoadMissingFolderIsHardErrorWhenRequired(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"), false)
	if _, ok := err.(*FolderMissingError); !ok {
		t.Fatalf("expected *FolderMissingError, got %v (%T)", err, err)
	}
}

func TestLoadHashIgnoresTrailingWhitespaceAndCRLF(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001_a.sql", "SELECT 1;\n")
	writeFile(t, dir, "0002_b.sql", "SELECT 1;\r\n")

	files, err := Load(dir, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if files[0].Hash != files[1].Hash {
		t.Fatalf("expected CRLF-normalized content to hash identically, got %q vs %q", files[0].Hash, files[1].Hash)
	}
}

func TestLoadCaseInsensitiveExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001_init.SQL", "SELECT 1;")

	files, err := Load(dir, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected the .SQL file to be picked up, got %d files", len(files))
	}
}
