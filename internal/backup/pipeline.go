package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/sftpbackup/sftpbackup/internal/archive"
	"github.com/sftpbackup/sftpbackup/internal/cache"
	"github.com/sftpbackup/sftpbackup/internal/config"
	"github.com/sftpbackup/sftpbackup/internal/storage"
	"github.com/sftpbackup/sftpbackup/internal/transfer"
)

type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateArchiving
	StatePlacing
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateArchiving:
		return "archiving"
	case StatePlacing:
		return "placing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	// Config is borrowed for the duration of Run and never modified.
	Config      *config.Config
	CacheDir    string
	Destination storage.Destination
	RetryLimit  int

	Dialer   transfer.Dialer
	Archiver archive.Archiver
	Clock    clock.Clock
	Logger   *zap.Logger

	// Verify inspects the placed archive when it is a local file. A failed
	// check is only logged; the archive stays where it is.
	Verify bool
	Tester archive.Tester

	OnTransition func(from, to State)
}

type Result struct {
	RunID       string
	ArchiveName string
	ArchivePath string
	Attempts    int
	Size        int64
	Duration    time.Duration
	State       State
}

// Pipeline runs one backup: retrieve, archive, place, clean up. A Pipeline
// is single use.
type Pipeline struct {
	opts   Options
	logger *zap.Logger
	clock  clock.Clock
	state  State
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	if opts.RetryLimit == 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	return &Pipeline{opts: opts, logger: logger, clock: clk}
}

func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) transition(to State) {
	from := p.state
	p.state = to
	p.logger.Debug("State change", zap.Stringer("from", from), zap.Stringer("to", to))
	if p.opts.OnTransition != nil {
		p.opts.OnTransition(from, to)
	}
}

// Run executes the backup. The cache area it creates is removed exactly
// once before Run returns, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context) (result *Result, err error) {
	if p.state != StateIdle {
		return nil, errors.New("pipeline has already run")
	}
	if err := p.validate(); err != nil {
		p.transition(StateFailed)
		return nil, newError(StateIdle, ErrConfig, "", err, "")
	}

	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run", runID))
	start := p.clock.Now()
	cfg := p.opts.Config

	area, err := cache.Create(p.opts.CacheDir)
	if err != nil {
		p.transition(StateFailed)
		err = newError(StateIdle, ErrCacheCreation, p.opts.CacheDir, err, "Remove or empty the cache directory")
		logger.Error("Could not create cache", zap.Error(err))
		return nil, err
	}
	logger.Debug("Created cache", zap.String("path", area.Path()))

	defer func() {
		logger.Info("Clearing cache", zap.Bool("success", err == nil))
		if derr := area.Destroy(); derr != nil {
			logger.Error("Could not remove cache", zap.String("path", area.Path()), zap.Error(derr))
		}
	}()

	p.transition(StateRetrieving)
	if err := Retrieve(ctx, p.opts.Dialer, cfg.SFTP, cfg.Data, area, logger); err != nil {
		return nil, p.fail(logger, err)
	}

	p.transition(StateArchiving)
	logger.Info("Creating archive")
	artifact, err := archive.NewBuilder(p.opts.Archiver, p.clock).Build(ctx, area, cfg.ArchiveName)
	if err != nil {
		var toolErr *archive.ToolError
		if errors.As(err, &toolErr) {
			logger.Debug("Archiver output", zap.String("output", toolErr.Output))
		}
		kind := ErrArchive
		if ctx.Err() != nil {
			kind = ErrInterrupted
		}
		return nil, p.fail(logger, newError(StateArchiving, kind, "", err, ""))
	}

	p.transition(StatePlacing)
	logger.Info("Moving backup", zap.String("archive", artifact.FileName()), zap.Stringer("destination", p.opts.Destination))
	placed, err := Place(ctx, artifact, p.opts.Destination, p.opts.RetryLimit, logger)
	if err != nil {
		return nil, p.fail(logger, err)
	}

	if p.opts.Verify {
		p.verify(ctx, logger, placed.Path)
	}

	p.transition(StateSucceeded)
	return &Result{
		RunID:       runID,
		ArchiveName: placed.Name,
		ArchivePath: placed.Path,
		Attempts:    placed.Attempts,
		Size:        artifact.Size,
		Duration:    p.clock.Now().Sub(start),
		State:       StateSucceeded,
	}, nil
}

func (p *Pipeline) validate() error {
	switch {
	case p.opts.Config == nil:
		return errors.New("no configuration")
	case p.opts.CacheDir == "":
		return errors.New("no cache directory")
	case p.opts.Destination == nil:
		return errors.New("no destination")
	case p.opts.Dialer == nil:
		return errors.New("no transfer dialer")
	case p.opts.Archiver == nil:
		return errors.New("no archiver")
	case p.opts.RetryLimit < 1:
		return fmt.Errorf("retry limit must be positive, got %d", p.opts.RetryLimit)
	}
	return nil
}

func (p *Pipeline) fail(logger *zap.Logger, err error) error {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		fields := []zap.Field{zap.Stringer("stage", backupErr.Phase)}
		if backupErr.Target != "" {
			fields = append(fields, zap.String("target", backupErr.Target))
		}
		if backupErr.Err != nil {
			fields = append(fields, zap.NamedError("cause", backupErr.Err))
		}
		logger.Error(capitalize(backupErr.Kind.Error()), fields...)
		if backupErr.Suggestion != "" {
			logger.Info(backupErr.Suggestion)
		}
	} else {
		logger.Error("Backup failed", zap.Error(err))
	}
	p.transition(StateFailed)
	return err
}

func (p *Pipeline) verify(ctx context.Context, logger *zap.Logger, path string) {
	if _, ok := p.opts.Destination.(*storage.LocalDir); !ok {
		logger.Debug("Skipping verification of remote archive", zap.String("path", path))
		return
	}
	result := VerifyArchive(ctx, path, p.opts.Tester)
	if !result.Verified {
		logger.Warn("Archive verification failed", zap.String("path", path), zap.String("reason", result.ErrorMessage))
		return
	}
	logger.Info("Archive verified", zap.Strings("checks", result.ChecksPerformed))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
