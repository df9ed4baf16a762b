package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	state := NewPushState(ScopeAll, nil, 10, "in.jsonl")
	state.LineOffset = 42
	require.NoError(t, WriteJSONAtomic(path, state))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	got, err := ReadJSONFile[PushState](path)
	require.NoError(t, err)
	assert.Equal(t, 42, got.LineOffset)
	assert.Equal(t, state.RunID, got.RunID)

	state.LineOffset = 43
	require.NoError(t, WriteJSONAtomic(path, state))
	got, err = ReadJSONFile[PushState](path)
	require.NoError(t, err)
	assert.Equal(t, 43, got.LineOffset)
}

func TestReadJSONFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadJSONFile[PullState](filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read ")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = ReadJSONFile[PullState](bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse ")
}
