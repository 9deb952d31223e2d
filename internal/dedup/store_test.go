package dedup

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
)

func openStore(t *testing.T, path string) *FileStore {
	store, err := Open(path, logging.Discard())
	assert.NoError(t, err)
	return store
}

func TestFileStore_Open(t *testing.T) {
	t.Run("Expect: empty store when the file does not exist", func(t *testing.T) {
		store := openStore(t, filepath.Join(t.TempDir(), "nested", "store.json"))

		assert.Equal(t, 0, store.Len())
		assert.False(t, store.Has("1234-5-LE24"))
	})

	t.Run("Expect: existing records to be loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "store.json")
		content := `{"records":[{"licitacion_id":"A-1","created_at":"2024-01-01T00:00:00Z"},{"licitacion_id":"B-2","created_at":"2024-01-02T00:00:00Z"},{"licitacion_id":"A-1","created_at":"2024-01-03T00:00:00Z"}]}`
		assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		store := openStore(t, path)

		assert.Equal(t, 2, store.Len())
		assert.True(t, store.Has("A-1"))
		assert.True(t, store.Has(" B-2 "))
	})

	t.Run("Expect: corrupt file to be moved aside and the store to start empty", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "store.json")
		assert.NoError(t, os.WriteFile(path, []byte(`{"records":[`), 0o644))

		store := openStore(t, path)

		assert.Equal(t, 0, store.Len())
		entries, err := os.ReadDir(dir)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.True(t, strings.HasPrefix(entries[0].Name(), "store.json.corrupt-"))
	})
}

func TestFileStore_AddAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store := openStore(t, path)

	assert.NoError(t, store.Add("A-1"))
	assert.NoError(t, store.AddMany([]string{"B-2", "C-3", "A-1", "", "  "}))
	assert.NoError(t, store.Close())

	reopened := openStore(t, path)
	assert.Equal(t, []string{"A-1", "B-2", "C-3"}, reopened.IDs())
	assert.Equal(t, store.IDs(), reopened.IDs())

	raw, err := os.ReadFile(path)
	assert.NoError(t, err)
	var doc document
	assert.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Records, 3, "no duplicated entries on disk")
	for _, r := range doc.Records {
		assert.False(t, r.CreatedAt.IsZero())
	}
}

func TestFileStore_AddKnownIDDoesNotRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store := openStore(t, path)
	assert.NoError(t, store.Add("A-1"))

	calls := 0
	store.rename = func(oldpath, newpath string) error {
		calls++
		return os.Rename(oldpath, newpath)
	}

	assert.NoError(t, store.Add("A-1"))
	assert.NoError(t, store.AddMany([]string{"A-1"}))
	assert.Equal(t, 0, calls)
}

func TestFileStore_CrashBeforeRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	store := openStore(t, path)
	assert.NoError(t, store.AddMany([]string{"A-1", "B-2"}))

	before, err := os.ReadFile(path)
	assert.NoError(t, err)

	store.rename = func(string, string) error { return errors.New("killed") }
	err = store.Add("C-3")

	assert.Error(t, err)
	after, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, before, after, "store file must be byte-identical after an interrupted persist")
	assert.True(t, store.Has("C-3"), "in-memory state keeps the new id")

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")

	// the pending id is flushed once the rename works again
	store.rename = os.Rename
	assert.NoError(t, store.Close())
	assert.True(t, openStore(t, path).Has("C-3"))
}

func TestFileStore_CloseWithoutChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store := openStore(t, path)

	assert.NoError(t, store.Close())
	assert.NoFileExists(t, path)
}
