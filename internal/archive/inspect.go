package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

const signatureHeaderSize = 32

var (
	Signature = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

	ErrNotArchive = errors.New("not a 7z archive")
	ErrTruncated  = errors.New("7z archive is truncated")
)

type Info struct {
	Path             string
	Size             int64
	MajorVersion     byte
	MinorVersion     byte
	NextHeaderOffset uint64
	NextHeaderSize   uint64
}

// Inspect checks the 7z signature header: magic bytes, start header CRC and
// that the file is long enough to hold the header it points at.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	header := make([]byte, signatureHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrNotArchive
		}
		return nil, err
	}

	if !bytes.Equal(header[:6], Signature) {
		return nil, ErrNotArchive
	}

	wantCRC := binary.LittleEndian.Uint32(header[8:12])
	if got := crc32.ChecksumIEEE(header[12:32]); got != wantCRC {
		return nil, fmt.Errorf("%w: start header CRC mismatch (%08x != %08x)", ErrNotArchive, got, wantCRC)
	}

	info := &Info{
		Path:             path,
		Size:             stat.Size(),
		MajorVersion:     header[6],
		MinorVersion:     header[7],
		NextHeaderOffset: binary.LittleEndian.Uint64(header[12:20]),
		NextHeaderSize:   binary.LittleEndian.Uint64(header[20:28]),
	}

	end := uint64(signatureHeaderSize) + info.NextHeaderOffset + info.NextHeaderSize
	if uint64(stat.Size()) < end {
		return info, fmt.Errorf("%w: %d bytes, header ends at %d", ErrTruncated, stat.Size(), end)
	}
	return info, nil
}
