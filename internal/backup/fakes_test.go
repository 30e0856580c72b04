package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/sftpbackup/sftpbackup/internal/config"
	"github.com/sftpbackup/sftpbackup/internal/transfer"
)

// fakeServer serves remote files from memory. Keys are remote paths, values
// are file contents.
type fakeServer struct {
	files   map[string]string
	dialErr error

	mu       sync.Mutex
	dials    int
	sessions int
	fetched  []string
	closed   int
}

func (s *fakeServer) Dial(ctx context.Context, params config.SFTPConfig) (transfer.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	return &fakeConn{server: s}, nil
}

type fakeConn struct {
	server *fakeServer
}

func (c *fakeConn) StartSession() (transfer.Session, error) {
	c.server.mu.Lock()
	c.server.sessions++
	c.server.mu.Unlock()
	return &fakeSession{server: c.server}, nil
}

func (c *fakeConn) Close() error {
	c.server.mu.Lock()
	c.server.closed++
	c.server.mu.Unlock()
	return nil
}

type fakeSession struct {
	server *fakeServer
}

func (s *fakeSession) Fetch(ctx context.Context, remotePath, localDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.server.mu.Lock()
	content, ok := s.server.files[remotePath]
	if ok {
		s.server.fetched = append(s.server.fetched, remotePath)
	}
	s.server.mu.Unlock()

	if !ok {
		return &fs.PathError{Op: "stat", Path: remotePath, Err: fs.ErrNotExist}
	}
	return os.WriteFile(filepath.Join(localDir, path.Base(remotePath)), []byte(content), 0644)
}

func (s *fakeSession) Close() error {
	return nil
}

func (s *fakeServer) fetchedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

func errDial(msg string) error {
	return fmt.Errorf("%w: %s", transfer.ErrConnection, msg)
}
