package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_MakesDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cache")

	area, err := Create(base)
	require.NoError(t, err)

	info, err := os.Stat(area.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := area.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file must not be left behind")
}

func TestCreate_ReusesEmptyDirectory(t *testing.T) {
	base := t.TempDir()

	area, err := Create(base)
	require.NoError(t, err)
	assert.Equal(t, base, area.Path())
}

func TestCreate_RejectsFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0644))

	_, err := Create(base)
	assert.ErrorIs(t, err, ErrCreate)
}

func TestCreate_RejectsNonEmptyDirectory(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "stale"), []byte("x"), 0644))

	_, err := Create(base)
	assert.ErrorIs(t, err, ErrCreate)
}

func TestEntries_Sorted(t *testing.T) {
	area, err := Create(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(area.Join("world"), 0755))
	require.NoError(t, os.WriteFile(area.Join("b.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(area.Join("a.txt"), nil, 0644))

	entries, err := area.Entries()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "world"}, entries)
}

func TestDestroy_RemovesTreeOnce(t *testing.T) {
	area, err := Create(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(area.Join("world", "region"), 0755))
	require.NoError(t, os.WriteFile(area.Join("world", "region", "r.0.0.mca"), []byte("data"), 0644))

	require.NoError(t, area.Destroy())
	_, err = os.Stat(area.Path())
	assert.True(t, os.IsNotExist(err))

	// a directory recreated at the path afterwards is not touched again
	require.NoError(t, os.Mkdir(area.Path(), 0755))
	require.NoError(t, area.Destroy())
	_, err = os.Stat(area.Path())
	assert.NoError(t, err)
}
