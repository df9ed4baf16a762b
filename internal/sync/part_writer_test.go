package sync

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestPartWriterRotates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	w, err := openPartWriter(dir, false, 10)
	require.NoError(t, err)

	for _, line := range []string{"aaaa", "bbbb", "cccc", "dddddddddddd"} {
		_, err := w.WriteLine([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	parts, err := listPartIndexes(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, parts)

	assert.Equal(t, []string{"aaaa", "bbbb"}, readLines(t, filepath.Join(dir, "part-000001.jsonl")))
	assert.Equal(t, []string{"cccc"}, readLines(t, filepath.Join(dir, "part-000002.jsonl")))
	// an oversized line still lands in a part of its own
	assert.Equal(t, []string{"dddddddddddd"}, readLines(t, filepath.Join(dir, "part-000003.jsonl")))
}

func TestPartWriterAppendReopensLastPart(t *testing.T) {
	dir := t.TempDir()

	w, err := openPartWriter(dir, false, 10)
	require.NoError(t, err)
	for _, line := range []string{"aaaa", "bbbb", "cc"} {
		_, err := w.WriteLine([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w, err = openPartWriter(dir, true, 10)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "part-000002.jsonl"), w.CurrentPath())
	n, err := w.WriteLine([]byte("dd"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, w.Close())

	assert.Equal(t, []string{"cc", "dd"}, readLines(t, filepath.Join(dir, "part-000002.jsonl")))
}

func TestPartWriterTruncatesWithoutAppend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-000001.jsonl"), []byte("old\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	w, err := OpenPartWriter(dir, false)
	require.NoError(t, err)
	_, err = w.WriteLine([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, []string{"new"}, readLines(t, filepath.Join(dir, "part-000001.jsonl")))
}
