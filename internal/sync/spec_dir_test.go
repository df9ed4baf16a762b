package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec(t *testing.T, ref string, direction Direction, scope Scope) (*SyncSpec, string) {
	t.Helper()
	obj, err := ParseObjectRef(ref)
	require.NoError(t, err)
	spec := NewSyncSpec(obj, direction, scope, "", intPtr(10), 200)
	hash, err := spec.Hash()
	require.NoError(t, err)
	return spec, hash
}

func TestSanitizeSegment(t *testing.T) {
	assert.Equal(t, "abc-1_2.x", SanitizeSegment("abc-1_2.x"))
	assert.Equal(t, "a_b_c", SanitizeSegment("a/b c"))
	assert.Equal(t, "_", SanitizeSegment(""))
}

func TestResolveSpecDirLayout(t *testing.T) {
	root := t.TempDir()
	spec, hash := testSpec(t, "project_logs:p/1", DirectionPull, ScopeTraces)

	dir, err := ResolveSpecDir(root, spec, hash, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "project_logs_p_1", hash[:12]), dir.Path)
	assert.False(t, dir.Exists())
	assert.Equal(t, filepath.Join(dir.Path, "data"), dir.DataDir())
}

func TestResolveSpecDirMigratesLegacyLayout(t *testing.T) {
	root := t.TempDir()
	spec, hash := testSpec(t, "project_logs:p1", DirectionPull, ScopeTraces)

	legacy := filepath.Join(root, "project_logs", "p1", "pull", "traces", "spec_"+hash[:12])
	require.NoError(t, os.MkdirAll(legacy, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "state.json"), []byte("{}"), 0o644))

	dirs, err := collectObjectSpecDirs(root, spec.Object())
	require.NoError(t, err)
	assert.Equal(t, []string{legacy}, dirs)

	dir, err := ResolveSpecDir(root, spec, hash, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "project_logs_p1", hash[:12]), dir.Path)
	assert.FileExists(t, dir.StatePath())
	assert.NoDirExists(t, legacy)
}

func TestResolveSpecDirFreshIgnoresLegacyLayout(t *testing.T) {
	root := t.TempDir()
	spec, hash := testSpec(t, "project_logs:p1", DirectionPull, ScopeTraces)

	legacy := filepath.Join(root, "project_logs", "p1", "pull", "traces", "spec_"+hash[:12])
	require.NoError(t, os.MkdirAll(legacy, 0o755))

	dir, err := ResolveSpecDir(root, spec, hash, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "project_logs_p1", hash[:12]), dir.Path)
	assert.DirExists(t, legacy)
}

func TestLocateSpecDir(t *testing.T) {
	root := t.TempDir()
	spec, hash := testSpec(t, "project_logs:p1", DirectionPull, ScopeTraces)

	_, err := LocateSpecDir(root, spec, hash)
	assert.ErrorIs(t, err, ErrSpecDirNotFound)

	legacy := filepath.Join(root, "project_logs", "p1", "pull", "traces", "spec_"+hash[:12])
	require.NoError(t, os.MkdirAll(legacy, 0o755))
	dir, err := LocateSpecDir(root, spec, hash)
	require.NoError(t, err)
	assert.Equal(t, legacy, dir.Path)
	assert.DirExists(t, legacy, "locating must not migrate")
}

func TestSpecDirLock(t *testing.T) {
	root := t.TempDir()
	spec, hash := testSpec(t, "project_logs:p1", DirectionPull, ScopeTraces)

	first, err := ResolveSpecDir(root, spec, hash, true)
	require.NoError(t, err)
	require.NoError(t, first.Lock())

	second, err := ResolveSpecDir(root, spec, hash, true)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Lock(), ErrSpecDirLocked)

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
	// the lock file outlives the holder so later processes lock the same inode
	assert.FileExists(t, filepath.Join(second.Path, ".lock"))

	third, err := ResolveSpecDir(root, spec, hash, true)
	require.NoError(t, err)
	require.NoError(t, third.Lock())
	require.NoError(t, third.Unlock())
}

func TestWriteSpecOnce(t *testing.T) {
	root := t.TempDir()
	spec, hash := testSpec(t, "project_logs:p1", DirectionPull, ScopeTraces)
	dir, err := ResolveSpecDir(root, spec, hash, true)
	require.NoError(t, err)

	require.NoError(t, dir.WriteSpec(spec))
	info, err := os.Stat(dir.SpecPath())
	require.NoError(t, err)

	changed := *spec
	changed.PageSize = 1
	require.NoError(t, dir.WriteSpec(&changed))

	got, err := ReadJSONFile[SyncSpec](dir.SpecPath())
	require.NoError(t, err)
	assert.Equal(t, 200, got.PageSize)
	info2, err := os.Stat(dir.SpecPath())
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}
