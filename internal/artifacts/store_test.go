package artifacts

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zap.NewNop().Sugar())
}

func TestSaveWritesArtifact(t *testing.T) {
	store := testStore(t)
	data := []byte("fake image bytes")

	handle, err := store.Save(data, "png")
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(handle.Path))
	assert.WithinDuration(t, time.Now(), handle.CreatedAt, 5*time.Second)

	got, err := os.ReadFile(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No temp file debris left behind
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveNamesAreUnique(t *testing.T) {
	store := testStore(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		handle, err := store.Save([]byte("x"), "png")
		require.NoError(t, err)
		require.False(t, seen[handle.Path], "duplicate artifact name %s", handle.Path)
		seen[handle.Path] = true
	}
}

func TestSaveCreatesRootOnDemand(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "images")
	store := NewStore(root, zap.NewNop().Sugar())

	handle, err := store.Save([]byte("x"), "jpeg")
	require.NoError(t, err)
	assert.FileExists(t, handle.Path)
}

func TestReapRetentionBoundary(t *testing.T) {
	store := testStore(t)

	old, err := store.Save([]byte("old"), "png")
	require.NoError(t, err)
	fresh, err := store.Save([]byte("fresh"), "png")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, os.Chtimes(old.Path, now, now.Add(-901*time.Second)))
	require.NoError(t, os.Chtimes(fresh.Path, now, now.Add(-899*time.Second)))

	store.Reap(900 * time.Second)

	assert.NoFileExists(t, old.Path, "artifact older than retention must be deleted")
	assert.FileExists(t, fresh.Path, "artifact within retention must survive")
}

func TestReapMissingRootIsQuiet(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"), zap.NewNop().Sugar())
	store.Reap(time.Minute)
}

func TestConcurrentReap(t *testing.T) {
	store := testStore(t)

	var handles []*Handle
	for i := 0; i < 10; i++ {
		h, err := store.Save([]byte("x"), "png")
		require.NoError(t, err)
		now := time.Now()
		require.NoError(t, os.Chtimes(h.Path, now, now.Add(-time.Hour)))
		handles = append(handles, h)
	}

	// Concurrent reaps race on the same expired files; deleting an already
	// deleted file must not error
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Reap(time.Minute)
		}()
	}
	wg.Wait()

	for _, h := range handles {
		assert.NoFileExists(t, h.Path)
	}
}

func TestReapSkipsDirectories(t *testing.T) {
	store := testStore(t)
	sub := filepath.Join(store.Root(), "keepdir")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	store.Reap(0)
	assert.DirExists(t, sub)
}
