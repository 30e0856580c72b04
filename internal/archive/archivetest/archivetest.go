// Package archivetest provides a stand-in for the 7-Zip binary.
package archivetest

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/sftpbackup/sftpbackup/internal/archive"
)

// WriteStub writes a file with a valid 7z signature header followed by payload
// and an empty next header.
func WriteStub(path string, payload []byte) error {
	header := make([]byte, 32)
	copy(header, archive.Signature)
	header[6] = 0
	header[7] = 4
	binary.LittleEndian.PutUint64(header[12:20], uint64(len(payload)))
	binary.LittleEndian.PutUint64(header[20:28], 0)
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(header[12:32]))

	return os.WriteFile(path, append(header, payload...), 0644)
}

// Archiver records its calls and writes stub archives. Err, when set, is
// returned instead of writing anything.
type Archiver struct {
	Err error

	mu    sync.Mutex
	Calls []Call
}

type Call struct {
	WorkDir     string
	ArchiveFile string
	Inputs      []string
}

func (a *Archiver) Build(ctx context.Context, workDir, archiveFile string, inputs []string) error {
	a.mu.Lock()
	a.Calls = append(a.Calls, Call{WorkDir: workDir, ArchiveFile: archiveFile, Inputs: append([]string(nil), inputs...)})
	a.mu.Unlock()

	if a.Err != nil {
		return a.Err
	}
	var payload []byte
	for _, in := range inputs {
		payload = append(payload, in...)
	}
	return WriteStub(filepath.Join(workDir, archiveFile), payload)
}

var _ archive.Archiver = (*Archiver)(nil)
