// Package transfer pulls remote files over SFTP.
//
// The backup pipeline only sees the Dialer, Conn and Session interfaces, so the
// SSH implementation here can be swapped for a fake in tests.
package transfer

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/sftpbackup/sftpbackup/internal/config"
)

var (
	// ErrConnection covers name resolution, TCP and SSH handshake failures.
	ErrConnection = errors.New("connection failed")
	// ErrPermission means the server rejected our credentials.
	ErrPermission = errors.New("permission denied")
)

type Dialer interface {
	Dial(ctx context.Context, params config.SFTPConfig) (Conn, error)
}

// Conn is one authenticated connection to the server.
type Conn interface {
	StartSession() (Session, error)
	Close() error
}

type Session interface {
	// Fetch mirrors remotePath (file or directory, recursively) into
	// localDir/<base name of remotePath>. A missing remote path reports
	// fs.ErrNotExist.
	Fetch(ctx context.Context, remotePath, localDir string) error
	Close() error
}

var permissionPatterns = []string{
	"unable to authenticate",
	"no supported methods remain",
	"permission denied",
}

type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, ErrPermission) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &classifiedError{kind: ErrConnection, err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &classifiedError{kind: ErrConnection, err: err}
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range permissionPatterns {
		if strings.Contains(lower, pattern) {
			return &classifiedError{kind: ErrPermission, err: err}
		}
	}
	return &classifiedError{kind: ErrConnection, err: err}
}
