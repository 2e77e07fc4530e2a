package discover_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomops/storerelay/pkg/storerelay/discover"
	"github.com/dicomops/storerelay/pkg/storerelay/rundir"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestUnits_LeafDirectoriesOnly(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b", "a/c", "d")
	touch(t, filepath.Join(root, "a/b/one.dcm"))
	touch(t, filepath.Join(root, "a/b/two.dcm"))
	touch(t, filepath.Join(root, "a/parent-level.dcm"))

	units, err := discover.Units(root, nil)
	require.NoError(t, err)

	paths := make([]string, len(units))
	for i, u := range units {
		paths[i] = u.Path
	}
	assert.Equal(t, []string{
		filepath.Join(root, "a/b"),
		filepath.Join(root, "a/c"),
		filepath.Join(root, "d"),
	}, paths)

	// Intermediate directories are never units, even with direct files.
	for _, p := range paths {
		assert.NotEqual(t, filepath.Join(root, "a"), p)
	}
	assert.Equal(t, 2, units[0].FileCount)
	assert.Equal(t, 0, units[1].FileCount)
}

func TestUnits_RootWithoutSubdirsIsAUnit(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "single.dcm"))

	units, err := discover.Units(root, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, root, units[0].Path)
	assert.Equal(t, 1, units[0].FileCount)
}

func TestUnits_MissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := discover.Units(missing, nil)
	require.Error(t, err)

	var notFound *discover.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missing, notFound.Path)
}

func TestUnits_RootIsAFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	touch(t, file)

	_, err := discover.Units(file, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestUnits_DeepTree(t *testing.T) {
	root := t.TempDir()
	deep := root
	for i := 0; i < 50; i++ {
		deep = filepath.Join(deep, "n")
	}
	mkdirs(t, deep)
	touch(t, filepath.Join(deep, "leaf.dcm"))

	units, err := discover.Units(root, nil)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, deep, units[0].Path)
}

func TestHasDirectFiles(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "empty", "withsub/sub")
	touch(t, filepath.Join(root, "full/file.dcm"))

	assert.False(t, discover.HasDirectFiles(filepath.Join(root, "empty")))
	assert.False(t, discover.HasDirectFiles(filepath.Join(root, "withsub")))
	assert.True(t, discover.HasDirectFiles(filepath.Join(root, "full")))
	assert.False(t, discover.HasDirectFiles(filepath.Join(root, "missing")))
}

func TestWriteManifest_RewrittenEachExecution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest_units.csv")

	units := []discover.Unit{
		{Path: "/data/a", FileCount: 3},
		{Path: "/data/b", FileCount: 0},
	}
	require.NoError(t, discover.WriteManifest(path, "run-1", units))

	rows, err := rundir.ReadCSVRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "run-1", rows[0]["run_id"])
	assert.Equal(t, "/data/a", rows[0]["unit_path"])
	assert.Equal(t, "3", rows[0]["file_count"])
	assert.NotEmpty(t, rows[0]["discovered_at"])

	// A second write replaces, never appends.
	require.NoError(t, discover.WriteManifest(path, "run-2", units[:1]))
	rows, err = rundir.ReadCSVRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-2", rows[0]["run_id"])
}
