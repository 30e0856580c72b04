package transfer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

type sftpSession struct {
	client *sftp.Client
}

// NewSession wraps an established SFTP client.
func NewSession(client *sftp.Client) Session {
	return &sftpSession{client: client}
}

func (s *sftpSession) Close() error {
	return s.client.Close()
}

func (s *sftpSession) Fetch(ctx context.Context, remotePath, localDir string) error {
	remotePath = path.Clean(remotePath)

	info, err := s.client.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", remotePath, err)
	}

	name := path.Base(remotePath)
	if name == "/" || name == "." {
		name = "root"
	}
	return s.fetch(ctx, remotePath, filepath.Join(localDir, name), info)
}

func (s *sftpSession) fetch(ctx context.Context, src, dst string, info fs.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return s.fetchLink(src, dst)
	case info.IsDir():
		return s.fetchDir(ctx, src, dst, info)
	case info.Mode().IsRegular():
		return s.fetchFile(ctx, src, dst, info)
	default:
		return nil
	}
}

func (s *sftpSession) fetchDir(ctx context.Context, src, dst string, info fs.FileInfo) error {
	if err := os.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	entries, err := s.client.ReadDir(src)
	if err != nil {
		return fmt.Errorf("list %s: %w", src, err)
	}

	for _, entry := range entries {
		if err := s.fetch(ctx, path.Join(src, entry.Name()), filepath.Join(dst, entry.Name()), entry); err != nil {
			return err
		}
	}

	os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// fetchLink recreates a link found inside a fetched tree as a local link.
// Links are never descended into, so a link back to an ancestor cannot
// make the fetch recurse.
func (s *sftpSession) fetchLink(src, dst string) error {
	target, err := s.client.ReadLink(src)
	if err != nil {
		return fmt.Errorf("readlink %s: %w", src, err)
	}
	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("create link %s: %w", dst, err)
	}
	return nil
}

func (s *sftpSession) fetchFile(ctx context.Context, src, dst string, info fs.FileInfo) error {
	remote, err := s.client.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer remote.Close()

	local, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(local, &ctxReader{ctx: ctx, r: remote}); err != nil {
		local.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := local.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
