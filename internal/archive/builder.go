package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/juju/clock"

	"github.com/sftpbackup/sftpbackup/internal/cache"
)

const (
	Extension       = ".7z"
	TimestampLayout = "02.01.06-1504"
)

// Name is base + "-" + the minute-resolution timestamp, e.g. mc-01.01.25-1200.
func Name(base string, now time.Time) string {
	return base + "-" + now.Format(TimestampLayout)
}

func FileName(name string) string {
	return name + Extension
}

// Artifact is a built archive still sitting in the cache area.
type Artifact struct {
	Name string
	Path string
	Size int64
}

func (a *Artifact) FileName() string {
	return FileName(a.Name)
}

type Builder struct {
	archiver Archiver
	clock    clock.Clock
}

func NewBuilder(archiver Archiver, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Builder{archiver: archiver, clock: clk}
}

// Build archives every top-level entry of the area into <area>/<name>.7z.
func (b *Builder) Build(ctx context.Context, area *cache.Area, baseName string) (*Artifact, error) {
	name := Name(baseName, b.clock.Now())
	file := FileName(name)

	inputs, err := area.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache area: %w", err)
	}
	if len(inputs) == 0 {
		return nil, errors.New("cache area is empty, nothing to archive")
	}
	for _, in := range inputs {
		if in == file {
			return nil, fmt.Errorf("%s already exists in the cache area", file)
		}
	}

	if err := b.archiver.Build(ctx, area.Path(), file, inputs); err != nil {
		return nil, err
	}

	path := area.Join(file)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("archiver reported success but %s is missing: %w", file, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	return &Artifact{Name: name, Path: path, Size: info.Size()}, nil
}
