package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected error when no path supplied")
	}
}

func TestOpenAppliesPragmasWithDefaultTimeout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "wiki.db")

	database, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := Close(database); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	var foreignKeys int
	if queryErr := database.Raw("PRAGMA foreign_keys;").Scan(&foreignKeys).Error; queryErr != nil {
		t.Fatalf("querying foreign_keys pragma failed: %v", queryErr)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign keys pragma to be enabled, got %d", foreignKeys)
	}

	var journalMode string
	if queryErr := database.Raw("PRAGMA journal_mode;").Scan(&journalMode).Error; queryErr != nil {
		t.Fatalf("querying journal_mode pragma failed: %v", queryErr)
	}
	if !strings.EqualFold(strings.TrimSpace(journalMode), "wal") {
		t.Fatalf("expected journal mode WAL, got %q", journalMode)
	}

	var busyTimeout int
	if queryErr := database.Raw("PRAGMA busy_timeout;").Scan(&busyTimeout).Error; queryErr != nil {
		t.Fatalf("querying busy_timeout pragma failed: %v", queryErr)
	}
	if expected := int(defaultBusyTimeout / time.Millisecond); busyTimeout != expected {
		t.Fatalf("expected busy timeout %d, got %d", expected, busyTimeout)
	}
}

func TestWikiPathSeparatesTokens(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first, err := WikiPath(dir, "abc12345")
	if err != nil {
		t.Fatalf("WikiPath returned error: %v", err)
	}
	second, err := WikiPath(dir, "def67890")
	if err != nil {
		t.Fatalf("WikiPath returned error: %v", err)
	}

	if first == second {
		t.Fatalf("expected distinct paths per token, got %q", first)
	}
	if filepath.Base(first) != "wiki-abc12345.db" {
		t.Fatalf("unexpected file name %q", filepath.Base(first))
	}
}

func TestWikiPathRejectsUnsafeTokens(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"", "../escape", "a b", "x/y"} {
		if _, err := WikiPath(t.TempDir(), token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}

func TestCloseNilDatabase(t *testing.T) {
	t.Parallel()

	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) returned error: %v", err)
	}
}
