// Package cache manages the staging directory a backup run downloads into.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var ErrCreate = errors.New("cannot create cache area")

// Area is one run's staging directory. It must not be used after Destroy.
type Area struct {
	path string

	once       sync.Once
	destroyErr error
}

// Create makes baseDir if it is absent. An existing empty directory is reused;
// anything else at that path is refused so a run never mixes in stale files.
func Create(baseDir string) (*Area, error) {
	path, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreate, err)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: %s exists and is not a directory", ErrCreate, path)
	case err == nil:
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCreate, err)
		}
		if len(entries) > 0 {
			return nil, fmt.Errorf("%w: %s is not empty (left over from an interrupted run?)", ErrCreate, path)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCreate, err)
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrCreate, err)
	}

	if err := probeWritable(path); err != nil {
		return nil, fmt.Errorf("%w: %s is not writable: %v", ErrCreate, path, err)
	}

	return &Area{path: path}, nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (a *Area) Path() string {
	return a.path
}

// Join returns a path inside the area.
func (a *Area) Join(elem ...string) string {
	return filepath.Join(append([]string{a.path}, elem...)...)
}

// Entries lists the top-level names in the area, sorted.
func (a *Area) Entries() ([]string, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Destroy removes the area and everything in it. Only the first call does
// any work; later calls return the first call's result.
func (a *Area) Destroy() error {
	a.once.Do(func() {
		a.destroyErr = os.RemoveAll(a.path)
	})
	return a.destroyErr
}
