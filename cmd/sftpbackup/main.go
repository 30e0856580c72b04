package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sftpbackup/sftpbackup/internal/archive"
	"github.com/sftpbackup/sftpbackup/internal/backup"
	"github.com/sftpbackup/sftpbackup/internal/config"
	"github.com/sftpbackup/sftpbackup/internal/logging"
	"github.com/sftpbackup/sftpbackup/internal/storage"
	"github.com/sftpbackup/sftpbackup/internal/transfer"
)

var version = "1.1.0"

// errReported marks failures that were already logged.
var errReported = errors.New("backup failed")

var errNoDir = errors.New("output directory not specified: pass --dir <path or s3://bucket/prefix>")

type options struct {
	dir        string
	retries    int
	configPath string
	cacheDir   string
	archiver   string
	logDir     string
	verify     bool
	debug      bool
	noColor    bool

	s3Region    string
	s3Endpoint  string
	s3AccessKey string
	s3SecretKey string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "sftpbackup",
		Short:         "Pull files from an SFTP server into a timestamped 7z archive",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd.Context(), opts)
		},
	}

	addCommonFlags(rootCmd, opts)
	rootCmd.Flags().IntVar(&opts.retries, "retries", config.DefaultRetries, "How many numbered suffixes to try when the archive name is taken")
	rootCmd.Flags().StringVar(&opts.logDir, "log-dir", "logs", "Directory for per-run log files (empty disables file logging)")
	rootCmd.Flags().BoolVar(&opts.verify, "verify", false, "Check the archive after it has been placed")

	rootCmd.AddCommand(preflightCmd(opts))
	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(verifyCmd(opts))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func addCommonFlags(cmd *cobra.Command, opts *options) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.dir, "dir", "", "Directory or s3://bucket/prefix to save backups to (required)")
	flags.StringVar(&opts.configPath, "config", config.DefaultConfigFile, "Path to the JSON or YAML config file")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "Staging directory for downloaded files (default ./cache)")
	flags.StringVar(&opts.archiver, "archiver", "", "Path to the 7-Zip executable")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable coloured console output")

	flags.StringVar(&opts.s3Region, "s3-region", "", "AWS region (overrides s3.region in the config)")
	flags.StringVar(&opts.s3Endpoint, "s3-endpoint", "", "S3 endpoint URL (for LocalStack/MinIO)")
	flags.StringVar(&opts.s3AccessKey, "s3-access-key", "", "AWS Access Key ID")
	flags.StringVar(&opts.s3SecretKey, "s3-secret-key", "", "AWS Secret Access Key")
}

func printBanner() {
	fmt.Fprintf(os.Stderr, "\n  SFTP Backup v%s\n\n", version)
}

// setup is everything a command needs before it can touch a destination.
type setup struct {
	cfg        *config.Config
	logger     *zap.Logger
	dest       storage.Destination
	cacheDir   string
	executable string
	archErr    error
}

func prepare(ctx context.Context, opts *options, logDir string) (*setup, error) {
	if opts.dir == "" {
		return nil, errNoDir
	}

	logger, logFile, err := logging.New(logging.Options{
		LogDir:  logDir,
		Debug:   opts.debug,
		NoColor: opts.noColor,
	})
	if err != nil {
		return nil, err
	}
	if logFile != "" {
		logger.Debug("Logging to file", zap.String("path", logFile))
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("Could not load configuration", zap.String("path", opts.configPath), zap.Error(err))
		return nil, errReported
	}

	cacheDir := opts.cacheDir
	if cacheDir == "" {
		if cacheDir, err = cfg.ResolveCacheDir(); err != nil {
			return nil, err
		}
	}

	target := opts.dir

	s3opts := storage.S3Options{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	}
	if opts.s3Region != "" {
		s3opts.Region = opts.s3Region
	}
	if opts.s3Endpoint != "" {
		s3opts.Endpoint = opts.s3Endpoint
	}
	if opts.s3AccessKey != "" {
		s3opts.AccessKey = opts.s3AccessKey
		s3opts.SecretKey = opts.s3SecretKey
	}

	dest, err := storage.Open(ctx, target, s3opts)
	if err != nil {
		logger.Error("Could not open destination", zap.String("dir", target), zap.Error(err))
		return nil, errReported
	}

	configured := opts.archiver
	if configured == "" {
		configured = cfg.Archiver.Executable
	}
	executable, archErr := archive.ResolveExecutable(configured, config.BundledArchiver(executableDir()))

	return &setup{
		cfg:        cfg,
		logger:     logger,
		dest:       dest,
		cacheDir:   cacheDir,
		executable: executable,
		archErr:    archErr,
	}, nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func runBackup(ctx context.Context, opts *options) error {
	if opts.retries < 1 {
		return fmt.Errorf("--retries must be a positive integer, got %d", opts.retries)
	}
	if opts.dir == "" {
		return errNoDir
	}

	printBanner()

	s, err := prepare(ctx, opts, opts.logDir)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	check := backup.PreflightChecks(backup.PreflightOptions{
		Context:            ctx,
		Config:             s.cfg,
		CacheDir:           s.cacheDir,
		Destination:        s.dest,
		RetryLimit:         opts.retries,
		ArchiverExecutable: s.executable,
		ArchiverErr:        s.archErr,
	})
	logWarnings(s.logger, check)
	if !check.CanProceed {
		s.logger.Error("Preflight checks failed, not starting backup")
		return errReported
	}

	sevenZip := archive.NewSevenZip(s.executable)
	pipeline := backup.New(backup.Options{
		Config:      s.cfg,
		CacheDir:    s.cacheDir,
		Destination: s.dest,
		RetryLimit:  opts.retries,
		Dialer:      transfer.NewSSHDialer(),
		Archiver:    sevenZip,
		Logger:      s.logger,
		Verify:      opts.verify,
		Tester:      sevenZip,
	})

	result, err := pipeline.Run(ctx)
	if err != nil {
		return errReported
	}

	s.logger.Info("Finished",
		zap.String("size", humanize.Bytes(uint64(result.Size))),
		zap.Duration("took", result.Duration.Round(time.Second)),
		zap.Int("attempts", result.Attempts))
	fmt.Printf("\nBackup saved: %q\n", result.ArchivePath)
	return nil
}

func logWarnings(logger *zap.Logger, result *backup.PreflightResult) {
	for _, w := range result.Warnings {
		fields := []zap.Field{zap.String("fix", w.Fix)}
		switch w.Severity {
		case "error":
			logger.Error(w.Message, fields...)
		case "warning":
			logger.Warn(w.Message, fields...)
		default:
			logger.Info(w.Message, fields...)
		}
	}
}

func preflightCmd(opts *options) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check configuration, destination and 7-Zip without running a backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := prepare(cmd.Context(), opts, "")
			if err != nil {
				return err
			}
			defer s.logger.Sync()

			result := backup.PreflightChecks(backup.PreflightOptions{
				Context:            cmd.Context(),
				Config:             s.cfg,
				CacheDir:           s.cacheDir,
				Destination:        s.dest,
				RetryLimit:         retries,
				ArchiverExecutable: s.executable,
				ArchiverErr:        s.archErr,
			})

			if len(result.Warnings) == 0 {
				fmt.Println(" All checks passed")
			}
			for _, w := range result.Warnings {
				fmt.Printf(" [%s] %s\n", w.Severity, w.Message)
				if w.Fix != "" {
					fmt.Printf("   Fix: %s\n", w.Fix)
				}
			}
			if s.archErr == nil {
				fmt.Printf("\n 7-Zip: %s\n", s.executable)
			}
			fmt.Printf(" Destination: %s\n", s.dest)

			if !result.CanProceed {
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&retries, "retries", config.DefaultRetries, "Retry limit to validate")
	return cmd
}

func listCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list [archive-name]",
		Short: "List archives in the destination",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := prepare(cmd.Context(), opts, "")
			if err != nil {
				return err
			}
			defer s.logger.Sync()

			prefix := s.cfg.ArchiveName
			if len(args) == 1 {
				prefix = args[0]
			}

			items, err := s.dest.List(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", s.dest, err)
			}
			if len(items) == 0 {
				fmt.Printf(" No backups found in %s\n", s.dest)
				return nil
			}

			fmt.Printf(" Backups in %s:\n", s.dest)
			for _, item := range items {
				fmt.Printf("  • %s  %s  %s\n", item.Key, humanize.Bytes(uint64(item.Size)), humanize.Time(item.LastModified))
			}
			return nil
		},
	}
}

func verifyCmd(opts *options) *cobra.Command {
	var deep bool

	cmd := &cobra.Command{
		Use:   "verify <archive>",
		Short: "Check that a local backup archive is intact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tester archive.Tester
			if deep {
				executable, err := archive.ResolveExecutable(opts.archiver, config.BundledArchiver(executableDir()))
				if err != nil {
					return err
				}
				tester = archive.NewSevenZip(executable)
			}

			result := backup.VerifyArchive(cmd.Context(), args[0], tester)
			for _, check := range result.ChecksPerformed {
				fmt.Printf("  ✓ %s\n", check)
			}
			if !result.Verified {
				return fmt.Errorf("verification failed: %s", result.ErrorMessage)
			}
			fmt.Printf(" %s is intact (format %s)\n", result.ArchivePath, result.Version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "Also run 7-Zip's own integrity test")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sftpbackup", version)
		},
	}
}
