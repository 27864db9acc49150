package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveChunk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2024, 9, 2, 1, 30, 0, 0, time.UTC) }

	name, err := store.SaveChunk("tenant/1", "attendance", 5000, ".xlsx", []byte("PK"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("tenant_1", "attendance", "20240902T013000_offset-5000.xlsx"), name)

	f, err := store.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data))
}

func TestCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	_, err = store.Save("old.bin", []byte("x"))
	require.NoError(t, err)
	_, err = store.Save("new.bin", []byte("y"))
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("old.bin"), past, past))

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.bin"}, deleted)
	_, err = os.Stat(store.Path("new.bin"))
	assert.NoError(t, err)
}
