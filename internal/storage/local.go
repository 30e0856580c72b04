package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalDir places archives in a directory on this machine.
type LocalDir struct {
	dir string
}

func NewLocalDir(dir string) (*LocalDir, error) {
	if dir == "" {
		return nil, errors.New("destination directory not specified")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("destination directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("destination %s is not a directory", abs)
	}
	return &LocalDir{dir: abs}, nil
}

func (d *LocalDir) String() string {
	return d.dir
}

func (d *LocalDir) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Lstat(filepath.Join(d.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Place hard-links src into the directory, which fails atomically if the
// name is taken, then drops src. Where links are impossible (another
// filesystem, no link support) it copies into an exclusively created file.
func (d *LocalDir) Place(ctx context.Context, src, name string) (string, error) {
	dst := filepath.Join(d.dir, name)

	err := os.Link(src, dst)
	switch {
	case err == nil:
		os.Remove(src)
		return dst, nil
	case errors.Is(err, fs.ErrExist):
		return "", collision(dst)
	}

	if err := copyExclusive(ctx, src, dst); err != nil {
		return "", err
	}
	os.Remove(src)
	return dst, nil
}

func copyExclusive(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return collision(dst)
		}
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	if info, err := in.Stat(); err == nil {
		os.Chtimes(dst, info.ModTime(), info.ModTime())
	}
	return nil
}

func (d *LocalDir) List(ctx context.Context, prefix string) ([]BackupItem, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	var items []BackupItem
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".7z") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, BackupItem{
			Key:          e.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}
