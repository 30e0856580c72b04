package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sftpbackup/sftpbackup/internal/archive"
)

type VerificationResult struct {
	ArchivePath     string    `json:"archive_path"`
	Verified        bool      `json:"verified"`
	TestedAt        time.Time `json:"tested_at"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Size            int64     `json:"size"`
	Version         string    `json:"version,omitempty"`
	ChecksPerformed []string  `json:"checks_performed"`
}

// VerifyArchive checks a placed archive. The signature header is always
// inspected; when tester is set the archiver also tests every entry.
// Problems are reported in the result, not as an error.
func VerifyArchive(ctx context.Context, path string, tester archive.Tester) *VerificationResult {
	result := &VerificationResult{
		ArchivePath:     path,
		TestedAt:        time.Now(),
		ChecksPerformed: []string{},
	}

	info, err := archive.Inspect(path)
	if info != nil {
		result.Size = info.Size
		result.Version = fmt.Sprintf("%d.%d", info.MajorVersion, info.MinorVersion)
	}
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Signature header: %v", err)
		return result
	}
	result.ChecksPerformed = append(result.ChecksPerformed,
		"Signature header",
		fmt.Sprintf("Size: %s", humanize.Bytes(uint64(info.Size))))

	if tester != nil {
		if err := tester.Test(ctx, path); err != nil {
			result.ErrorMessage = fmt.Sprintf("Archive test: %v", err)
			return result
		}
		result.ChecksPerformed = append(result.ChecksPerformed, "Archive test")
	}

	result.Verified = true
	return result
}
