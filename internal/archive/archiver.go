// Package archive turns the staged files into a single 7z container.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Archiver compresses inputs (paths relative to workDir) into archiveFile,
// also relative to workDir.
type Archiver interface {
	Build(ctx context.Context, workDir, archiveFile string, inputs []string) error
}

// ArchiverFunc adapts a function to the Archiver interface.
type ArchiverFunc func(ctx context.Context, workDir, archiveFile string, inputs []string) error

func (f ArchiverFunc) Build(ctx context.Context, workDir, archiveFile string, inputs []string) error {
	return f(ctx, workDir, archiveFile, inputs)
}

var ErrArchiverNotFound = errors.New("7-Zip executable not found")

var searchNames = []string{"7zz", "7z", "7za"}

// ResolveExecutable picks the 7-Zip binary: an explicit setting wins, then the
// copy bundled under bundledDir, then whatever is on PATH.
func ResolveExecutable(configured, bundled string) (string, error) {
	if configured != "" {
		if !strings.ContainsRune(configured, filepath.Separator) {
			p, err := exec.LookPath(configured)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrArchiverNotFound, err)
			}
			return p, nil
		}
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("%w: %v", ErrArchiverNotFound, err)
		}
		return configured, nil
	}

	if bundled != "" {
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled, nil
		}
	}

	for _, name := range searchNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (looked for %s and %s on PATH)", ErrArchiverNotFound, bundled, strings.Join(searchNames, ", "))
}

// SevenZip runs the 7-Zip command line tool.
type SevenZip struct {
	Executable string

	permOnce sync.Once
	permErr  error
}

func NewSevenZip(executable string) *SevenZip {
	return &SevenZip{Executable: executable}
}

// ensureExecutable sets the execute bit on the binary. Bundled copies lose it
// when unpacked from some archive formats.
func (s *SevenZip) ensureExecutable() error {
	s.permOnce.Do(func() {
		if runtime.GOOS == "windows" {
			return
		}
		info, err := os.Stat(s.Executable)
		if err != nil {
			s.permErr = err
			return
		}
		if info.Mode().Perm()&0111 == 0111 {
			return
		}
		s.permErr = os.Chmod(s.Executable, info.Mode().Perm()|0111)
	})
	return s.permErr
}

func (s *SevenZip) Build(ctx context.Context, workDir, archiveFile string, inputs []string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs to archive")
	}
	if err := s.ensureExecutable(); err != nil {
		return fmt.Errorf("failed to make %s executable: %w", s.Executable, err)
	}

	// -snl stores links as links and -spd turns off wildcards. "--" ends
	// switch parsing, and the "./" prefix keeps names starting with "-" or "@"
	// from being read as switches or list files.
	args := []string{"a", "-t7z", "-snl", "-spd", "--", archiveFile}
	for _, in := range inputs {
		args = append(args, "./"+in)
	}
	cmd := exec.CommandContext(ctx, s.Executable, args...)
	cmd.Dir = workDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return &ToolError{Err: err, Output: output.String()}
	}
	return nil
}

// ToolError is a failed 7-Zip run. Output holds what the tool printed; it is
// kept for debug logging and left out of Error().
type ToolError struct {
	Err    error
	Output string
}

func (e *ToolError) Error() string {
	return "7-Zip failed: " + e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Tester checks the integrity of an existing archive.
type Tester interface {
	Test(ctx context.Context, archivePath string) error
}

// Test runs "7z t" against archivePath.
func (s *SevenZip) Test(ctx context.Context, archivePath string) error {
	if err := s.ensureExecutable(); err != nil {
		return fmt.Errorf("failed to make %s executable: %w", s.Executable, err)
	}

	cmd := exec.CommandContext(ctx, s.Executable, "t", archivePath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return &ToolError{Err: err, Output: output.String()}
	}
	return nil
}
