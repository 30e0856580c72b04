package backup

import (
	"context"
	"errors"
	"io/fs"

	"go.uber.org/zap"

	"github.com/sftpbackup/sftpbackup/internal/cache"
	"github.com/sftpbackup/sftpbackup/internal/config"
	"github.com/sftpbackup/sftpbackup/internal/transfer"
)

// Retrieve downloads every target, in order, into the cache area over a
// single connection and session. The first failing target ends the stage.
func Retrieve(ctx context.Context, dialer transfer.Dialer, params config.SFTPConfig, targets []string, area *cache.Area, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Connecting", zap.String("host", params.Host), zap.Int("port", params.Port))

	conn, err := dialer.Dial(ctx, params)
	if err != nil {
		return connectionError(ctx, params.Address(), err)
	}
	defer conn.Close()

	session, err := conn.StartSession()
	if err != nil {
		return connectionError(ctx, params.Address(), err)
	}
	defer session.Close()

	logger.Info("Retrieving data (this might take a while)", zap.Int("targets", len(targets)))

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return newError(StateRetrieving, ErrInterrupted, target, err, "")
		}

		logger.Info("Retrieving", zap.String("target", target))
		if err := session.Fetch(ctx, target, area.Path()); err != nil {
			return fetchError(ctx, target, err)
		}
	}
	return nil
}

func connectionError(ctx context.Context, addr string, err error) error {
	switch {
	case ctx.Err() != nil:
		return newError(StateRetrieving, ErrInterrupted, addr, err, "")
	case errors.Is(err, transfer.ErrPermission):
		return newError(StateRetrieving, ErrPermissionDenied, addr, err,
			"Check username, password and client_keys in sftp_config")
	default:
		return newError(StateRetrieving, ErrConnectionFailed, addr, err,
			"Check host and port in sftp_config and that the server is reachable")
	}
}

func fetchError(ctx context.Context, target string, err error) error {
	switch {
	case ctx.Err() != nil:
		return newError(StateRetrieving, ErrInterrupted, target, err, "")
	case errors.Is(err, fs.ErrNotExist):
		return newError(StateRetrieving, ErrNotFound, target, err,
			"Check the path in data; remote paths are case sensitive")
	case errors.Is(err, fs.ErrPermission):
		return newError(StateRetrieving, ErrPermissionDenied, target, err, "")
	default:
		return newError(StateRetrieving, ErrTransferFailed, target, err, "")
	}
}
