package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/sftpbackup/sftpbackup/internal/config"
	"github.com/sftpbackup/sftpbackup/internal/storage"
)

type PreflightWarning struct {
	Severity string
	Message  string
	Fix      string
}

type PreflightResult struct {
	Warnings   []PreflightWarning
	CanProceed bool
}

type PreflightOptions struct {
	Context     context.Context
	Config      *config.Config
	CacheDir    string
	Destination storage.Destination
	RetryLimit  int

	// ArchiverErr is the result of resolving the 7-Zip binary.
	ArchiverExecutable string
	ArchiverErr        error
}

// minFreeSpace is what the cache volume should have before a run starts.
// The real need depends on the remote data, which is unknown until it is
// downloaded.
const minFreeSpace = 1 << 30

func PreflightChecks(opts PreflightOptions) *PreflightResult {
	result := &PreflightResult{
		Warnings:   []PreflightWarning{},
		CanProceed: true,
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Config == nil {
		result.errorf("No configuration loaded", "Pass --config with a valid configuration file")
		return result
	}

	seen := make(map[string]bool, len(opts.Config.Data))
	for _, target := range opts.Config.Data {
		if seen[target] {
			result.Warnings = append(result.Warnings, PreflightWarning{
				Severity: "warning",
				Message:  fmt.Sprintf("Remote path %q is listed more than once", target),
				Fix:      "Remove the duplicate entry from data",
			})
		}
		seen[target] = true
	}

	if opts.RetryLimit < 1 {
		result.errorf(fmt.Sprintf("Invalid retry limit: %d", opts.RetryLimit), "Pass --retries with a positive number")
	}

	if opts.ArchiverErr != nil {
		result.errorf("7-Zip not available: "+opts.ArchiverErr.Error(),
			"Install 7-Zip, put 7zz next to the binary or set archiver.executable")
	}

	if opts.CacheDir != "" {
		checkCacheDir(result, opts.CacheDir)
	}

	if opts.Destination != nil {
		if _, err := opts.Destination.List(ctx, ""); err != nil {
			result.errorf(fmt.Sprintf("Destination %s not reachable: %v", opts.Destination, err),
				"Check that the directory exists or that the S3 credentials and bucket are correct")
		}
	}

	return result
}

func (r *PreflightResult) errorf(message, fix string) {
	r.Warnings = append(r.Warnings, PreflightWarning{
		Severity: "error",
		Message:  message,
		Fix:      fix,
	})
	r.CanProceed = false
}

func checkCacheDir(result *PreflightResult, dir string) {
	entries, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		result.errorf("Cache directory not usable: "+err.Error(), "Pass --cache-dir with a writable directory")
		return
	case len(entries) > 0:
		result.errorf(fmt.Sprintf("Cache directory %s is not empty", dir),
			"A previous run may have been killed; remove the directory and try again")
		return
	}

	available, err := freeSpace(existingParent(dir))
	if err != nil {
		return
	}
	if available < minFreeSpace {
		result.Warnings = append(result.Warnings, PreflightWarning{
			Severity: "warning",
			Message: fmt.Sprintf("Low disk space: %s available for the cache, at least %s recommended",
				humanize.IBytes(available), humanize.IBytes(minFreeSpace)),
			Fix: "Free up disk space or use a different --cache-dir",
		})
	} else if available < 2*minFreeSpace {
		result.Warnings = append(result.Warnings, PreflightWarning{
			Severity: "info",
			Message:  fmt.Sprintf("Disk space is adequate but tight: %s available", humanize.IBytes(available)),
			Fix:      "Consider freeing up more space for safety",
		})
	}
}

func existingParent(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
