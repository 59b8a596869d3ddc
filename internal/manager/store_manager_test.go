package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/fiscalxml/pkg/docstore"
)

func smallConfig() docstore.Config {
	cfg := docstore.DefaultConfig("")
	cfg.BlockCacheSize = 4 << 20
	cfg.IndexCacheSize = 4 << 20
	cfg.SyncWrites = false
	cfg.Profile = "Low-Mem"
	return *cfg
}

func TestStoreManager_LRU(t *testing.T) {
	tmpDir := t.TempDir()
	sm, err := NewStoreManager(tmpDir, smallConfig(), 2)
	require.NoError(t, err)
	defer sm.CloseAll()

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, sm.CreateWorkspace(WorkspaceMetadata{ID: id}))
	}

	s1, err := sm.GetStore("p1")
	require.NoError(t, err)
	require.NotNil(t, s1)

	s1Again, err := sm.GetStore("p1")
	require.NoError(t, err)
	assert.Same(t, s1, s1Again)

	_, err = sm.GetStore("p2")
	require.NoError(t, err)
	_, err = sm.GetStore("p3")
	require.NoError(t, err)

	// p1 was least recently used and has been closed on eviction.
	assert.ElementsMatch(t, []string{"p2", "p3"}, sm.Open())

	reopened, err := sm.GetStore("p1")
	require.NoError(t, err)
	assert.NotSame(t, s1, reopened)
}

func TestStoreManager_UnknownWorkspace(t *testing.T) {
	sm, err := NewStoreManager(t.TempDir(), smallConfig(), 0)
	require.NoError(t, err)

	_, err = sm.GetStore("missing")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)

	_, err = sm.GetStore("../escape")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)

	assert.Error(t, sm.CreateWorkspace(WorkspaceMetadata{ID: ".."}))
}

func TestStoreManager_ListWorkspaces_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "p1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "p1", "metadata.json"),
		[]byte(`{"name":"Padaria Central","taxId":"12345678000199"}`), 0o644))

	sm, err := NewStoreManager(tmpDir, smallConfig(), 0)
	require.NoError(t, err)

	workspaces, err := sm.ListWorkspaces()
	require.NoError(t, err)
	require.Len(t, workspaces, 1)
	assert.Equal(t, WorkspaceMetadata{ID: "p1", Name: "Padaria Central", TaxID: "12345678000199"}, workspaces[0])

	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "p2"), 0o755))

	workspaces, err = sm.ListWorkspaces()
	require.NoError(t, err)
	assert.Len(t, workspaces, 1, "listing should be cached")

	sm.mu.Lock()
	sm.lastListBuild = time.Now().Add(-2 * WorkspaceListTTL)
	sm.mu.Unlock()

	workspaces, err = sm.ListWorkspaces()
	require.NoError(t, err)
	assert.Len(t, workspaces, 2)

	require.NoError(t, sm.CreateWorkspace(WorkspaceMetadata{ID: "p3", Name: "Nova"}))
	workspaces, err = sm.ListWorkspaces()
	require.NoError(t, err)
	assert.Len(t, workspaces, 3, "creating a workspace invalidates the listing")
}

func TestStoreManager_AcquiredStoreOutlivesEviction(t *testing.T) {
	sm, err := NewStoreManager(t.TempDir(), smallConfig(), 2)
	require.NoError(t, err)
	defer sm.CloseAll()

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, sm.CreateWorkspace(WorkspaceMetadata{ID: id}))
	}

	s1, release, err := sm.Acquire("p1")
	require.NoError(t, err)

	_, err = sm.GetStore("p2")
	require.NoError(t, err)
	_, err = sm.GetStore("p3")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p2", "p3"}, sm.Open())

	// Still acquired: asking again hands back the same open store.
	again, releaseAgain, err := sm.Acquire("p1")
	require.NoError(t, err)
	assert.Same(t, s1, again)
	releaseAgain()

	_, err = sm.GetStore("p2")
	require.NoError(t, err)
	_, err = sm.GetStore("p3")
	require.NoError(t, err)

	// The last release closes the evicted store, so p1 can be reopened.
	release()
	release()
	reopened, err := sm.GetStore("p1")
	require.NoError(t, err)
	assert.NotSame(t, s1, reopened)
}
