package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func TestFindFilesByExtension(t *testing.T) {
	t.Parallel()

	t.Run("walks directories recursively", func(t *testing.T) {
		dir := t.TempDir()
		a := touch(t, filepath.Join(dir, "a.hcl"))
		b := touch(t, filepath.Join(dir, "nested", "b.hcl"))
		touch(t, filepath.Join(dir, "notes.txt"))

		files, err := FindFilesByExtension([]string{dir}, ".hcl")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b}, files)
	})

	t.Run("accepts single files and de-duplicates", func(t *testing.T) {
		dir := t.TempDir()
		a := touch(t, filepath.Join(dir, "a.hcl"))

		files, err := FindFilesByExtension([]string{a, dir}, ".hcl")
		require.NoError(t, err)
		assert.Equal(t, []string{a}, files)
	})

	t.Run("ignores a single file with the wrong extension", func(t *testing.T) {
		dir := t.TempDir()
		other := touch(t, filepath.Join(dir, "notes.txt"))

		files, err := FindFilesByExtension([]string{other}, ".hcl")
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := FindFilesByExtension([]string{filepath.Join(t.TempDir(), "nope")}, ".hcl")
		assert.ErrorContains(t, err, "error accessing path")
	})
}
