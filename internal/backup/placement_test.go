package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sftpbackup/sftpbackup/internal/archive"
	"github.com/sftpbackup/sftpbackup/internal/archive/archivetest"
	"github.com/sftpbackup/sftpbackup/internal/storage"
)

func stagedArtifact(t *testing.T) *archive.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mc-01.01.25-1200.7z")
	require.NoError(t, archivetest.WriteStub(path, []byte("payload")))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return &archive.Artifact{Name: "mc-01.01.25-1200", Path: path, Size: info.Size()}
}

func takenNames(t *testing.T, dir string, k int) {
	t.Helper()
	for i := 0; i < k; i++ {
		name := archive.FileName(SuffixedName("mc-01.01.25-1200", i))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("old"), 0644))
	}
}

func TestSuffixedName(t *testing.T) {
	assert.Equal(t, "mc", SuffixedName("mc", 0))
	assert.Equal(t, "mc(1)", SuffixedName("mc", 1))
	assert.Equal(t, "mc(12)", SuffixedName("mc", 12))
}

func TestPlaceCollisions(t *testing.T) {
	tests := []struct {
		name      string
		taken     int
		limit     int
		wantName  string
		exhausted bool
	}{
		{name: "free name", taken: 0, limit: 10, wantName: "mc-01.01.25-1200"},
		{name: "one taken", taken: 1, limit: 10, wantName: "mc-01.01.25-1200(1)"},
		{name: "below limit", taken: 4, limit: 5, wantName: "mc-01.01.25-1200(4)"},
		{name: "at limit", taken: 5, limit: 5, exhausted: true},
		{name: "limit of one", taken: 1, limit: 1, exhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			takenNames(t, dir, tt.taken)
			dest, err := storage.NewLocalDir(dir)
			require.NoError(t, err)
			artifact := stagedArtifact(t)

			result, err := Place(context.Background(), artifact, dest, tt.limit, nil)

			entries, _ := os.ReadDir(dir)
			if tt.exhausted {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrPlacementExhausted)
				assert.Len(t, entries, tt.taken)
				assert.FileExists(t, artifact.Path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, result.Name)
			assert.Equal(t, tt.taken, result.Attempts)
			assert.Equal(t, filepath.Join(dir, archive.FileName(tt.wantName)), result.Path)
			assert.Len(t, entries, tt.taken+1)
			assert.NoFileExists(t, artifact.Path)
		})
	}
}

// racingDest reports names as free but fails Place with a collision the
// first n times, like another writer grabbing the name in between.
type racingDest struct {
	*storage.LocalDir
	races   int
	failErr error
	placed  []string
}

func (d *racingDest) Place(ctx context.Context, src, name string) (string, error) {
	d.placed = append(d.placed, name)
	if d.failErr != nil {
		return "", d.failErr
	}
	if d.races > 0 {
		d.races--
		return "", fmt.Errorf("link: %w", os.ErrExist)
	}
	return d.LocalDir.Place(ctx, src, name)
}

func TestPlaceCountsRaceAsCollision(t *testing.T) {
	local, err := storage.NewLocalDir(t.TempDir())
	require.NoError(t, err)
	dest := &racingDest{LocalDir: local, races: 2}

	result, err := Place(context.Background(), stagedArtifact(t), dest, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "mc-01.01.25-1200(2)", result.Name)
	assert.Equal(t, []string{"mc-01.01.25-1200.7z", "mc-01.01.25-1200(1).7z", "mc-01.01.25-1200(2).7z"}, dest.placed)
}

func TestPlaceOtherErrorIsNotRetried(t *testing.T) {
	local, err := storage.NewLocalDir(t.TempDir())
	require.NoError(t, err)
	dest := &racingDest{LocalDir: local, failErr: errors.New("disk full")}

	_, err = Place(context.Background(), stagedArtifact(t), dest, 10, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlacementFailed)
	assert.Len(t, dest.placed, 1)
}

func TestPlaceRejectsBadLimit(t *testing.T) {
	dest, err := storage.NewLocalDir(t.TempDir())
	require.NoError(t, err)

	_, err = Place(context.Background(), stagedArtifact(t), dest, 0, nil)
	assert.ErrorIs(t, err, ErrConfig)
}
