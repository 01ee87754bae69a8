// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/casefile/internal/cache"
	"github.com/starford/casefile/internal/sessions"
	"github.com/starford/casefile/internal/storage"
)

// TestCache creates a temporary SQLite cache that is automatically cleaned up.
func TestCache(t *testing.T) *cache.DB {
	t.Helper()
	return cacheAt(t, TempDBPath(t))
}

func cacheAt(t *testing.T, path string) *cache.DB {
	t.Helper()
	db, err := cache.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSessions creates a temporary SQLite session store.
func TestSessions(t *testing.T) *sessions.DB {
	t.Helper()
	db, err := sessions.Open(TempDBPath(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TempDBPath returns a fresh temp file path that is removed after the test.
func TempDBPath(t *testing.T) string {
	t.Helper()
	dbFile, err := os.CreateTemp("", "casefile-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})
	return dbFile.Name()
}

// TestVault creates a temporary records vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteRecord writes a record file with the given frontmatter lines and body.
func WriteRecord(t *testing.T, store storage.Provider, entityType, id, frontmatter, body string) {
	t.Helper()
	content := "---\nid: " + id + "\n" + frontmatter + "---\n" + body + "\n"
	WriteFile(t, store, entityType+"/"+id+".md", content)
}

// WriteFile writes content to rel under the vault root, creating parents.
func WriteFile(t *testing.T, store storage.Provider, rel, content string) {
	t.Helper()
	abs := filepath.Join(store.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// RemoveFile deletes rel under the vault root.
func RemoveFile(t *testing.T, store storage.Provider, rel string) {
	t.Helper()
	if err := os.Remove(filepath.Join(store.Root(), filepath.FromSlash(rel))); err != nil {
		t.Fatal(err)
	}
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
