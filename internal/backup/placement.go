package backup

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/sftpbackup/sftpbackup/internal/archive"
	"github.com/sftpbackup/sftpbackup/internal/storage"
)

const DefaultRetryLimit = 10

type PlacementResult struct {
	Path     string
	Name     string
	Attempts int
}

// SuffixedName is name for attempt 0 and name(n) afterwards.
func SuffixedName(name string, n int) string {
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s(%d)", name, n)
}

// Place moves the artifact into dest under its own name, or under
// name(1), name(2), ... while earlier names are taken. Each collision counts
// as one attempt; reaching retryLimit attempts fails the stage without
// writing anything. Existing files are never inspected or replaced.
func Place(ctx context.Context, artifact *archive.Artifact, dest storage.Destination, retryLimit int, logger *zap.Logger) (*PlacementResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryLimit < 1 {
		return nil, newError(StatePlacing, ErrConfig, "", fmt.Errorf("retry limit must be positive, got %d", retryLimit), "")
	}

	attempts := 0
	candidate := artifact.Name

	for {
		if err := ctx.Err(); err != nil {
			return nil, newError(StatePlacing, ErrInterrupted, dest.String(), err, "")
		}

		fileName := archive.FileName(candidate)
		final, err := placeOnce(ctx, dest, artifact.Path, fileName)
		if err == nil {
			return &PlacementResult{Path: final, Name: candidate, Attempts: attempts}, nil
		}
		if !storage.IsCollision(err) {
			return nil, newError(StatePlacing, ErrPlacementFailed, fileName, err,
				"Check that the destination exists and is writable")
		}

		attempts++
		logger.Warn("Backup file already exists, adding numbered suffix to filename",
			zap.String("file", fileName), zap.Int("suffix", attempts))

		if attempts >= retryLimit {
			return nil, newError(StatePlacing, ErrPlacementExhausted, dest.String(),
				fmt.Errorf("%d names starting at %s are taken", retryLimit, archive.FileName(artifact.Name)),
				"Raise --retries or move older backups out of the destination")
		}
		candidate = SuffixedName(artifact.Name, attempts)
	}
}

func placeOnce(ctx context.Context, dest storage.Destination, src, fileName string) (string, error) {
	exists, err := dest.Exists(ctx, fileName)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%s: %w", fileName, fs.ErrExist)
	}
	return dest.Place(ctx, src, fileName)
}
