package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

type BackupItem struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Destination is where finished archives end up. Implementations never
// replace an existing file: Place on an occupied name fails with an error
// matching fs.ErrExist.
type Destination interface {
	Exists(ctx context.Context, name string) (bool, error)

	// Place moves the local file src to name and returns the final location.
	Place(ctx context.Context, src, name string) (string, error)

	List(ctx context.Context, prefix string) ([]BackupItem, error)

	String() string
}

type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// IsCollision reports whether err means the destination name is taken.
func IsCollision(err error) bool {
	return errors.Is(err, fs.ErrExist)
}

func collision(location string) error {
	return &fs.PathError{Op: "place", Path: location, Err: fs.ErrExist}
}

// Open resolves a --dir value: s3://bucket/prefix or a local directory.
func Open(ctx context.Context, target string, opts S3Options) (Destination, error) {
	if rest, ok := strings.CutPrefix(target, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid S3 destination %q: missing bucket", target)
		}
		return NewS3(ctx, bucket, prefix, opts)
	}
	return NewLocalDir(target)
}
