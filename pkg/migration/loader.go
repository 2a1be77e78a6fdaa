package migration

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var timestampPrefix = regexp.MustCompile(`^\d+`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Load scans dir (non-recursive) for *.sql files (case-insensitive
// extension) and returns them sorted by file name, which also orders them
// chronologically by the spec's file-naming convention (spec.md §4.4).
//
// If dir does not exist, Load returns an empty, nil-error result when
// optional is true (the shared folder), and a *FolderMissingError
// otherwise.
func Load(dir string, optional bool) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if optional {
				return nil, nil
			}
			return nil, &FolderMissingError{Path: dir, Err: err}
		}
		return nil, fmt.Errorf("migration: reading folder %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		if seen[e.Name()] {
			return nil, &DuplicateMigrationError{FileName: e.Name()}
		}
		seen[e.Name()] = true
		names = append(names, e.Name())
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		match := timestampPrefix.FindString(name)
		if match == "" {
			return nil, &InvalidMigrationNameError{FileName: name}
		}
		ts, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			return nil, &InvalidMigrationNameError{FileName: name}
		}

		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("migration: reading %q: %w", path, err)
		}

		files = append(files, File{
			Name:      name,
			Path:      path,
			SQL:       string(raw),
			Timestamp: ts,
			Hash:      hashContent(raw),
		})
	}
	return files, nil
}

// hashContent computes the SHA-256 hash of content after stripping a
// leading UTF-8 BOM, normalizing CRLF to LF and trimming trailing
// whitespace (spec.md §4.4), so that files differing only in line endings,
// a BOM or trailing whitespace hash identically.
func hashContent(content []byte) string {
	content = bytes.TrimPrefix(content, utf8BOM)
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	content = bytes.TrimRight(content, " \t\r\n")
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
