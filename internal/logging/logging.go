package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/lumberjack/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const LoggerName = "SFTP-Backup"

type Options struct {
	// LogDir receives one log file per run. Empty disables file logging.
	LogDir  string
	Debug   bool
	NoColor bool
	Now     time.Time
}

// FilePath derives the per-run log file name.
func FilePath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("sftp-backup-%s.log", now.Format("02.01.06-150405")))
}

// New builds a logger writing coloured lines to stderr and plain lines to
// the run's log file.
func New(opts Options) (*zap.Logger, string, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("02-01-06 15:04:05")
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if opts.NoColor {
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	consoleCfg.CallerKey = ""

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	var logFile string
	if opts.LogDir != "" {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, "", fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile = FilePath(opts.LogDir, now)

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		fileCfg.CallerKey = ""

		writer := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50,
			MaxBackups: 0,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileCfg), zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...)).Named(LoggerName), logFile, nil
}
