package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"
)

// StagePrefix starts the name of every temporary content file. Providers
// hide entries carrying it from listings.
const StagePrefix = ".treefs-"

const stagePattern = StagePrefix + "*.tmp"

// ChecksumAlgorithm names the content hash reported in File.Checksum.
const ChecksumAlgorithm = "sha1"

// Staged is content spooled to a temporary file while its checksum and
// content type are computed. It must be committed or discarded.
type Staged struct {
	file        *os.File
	path        string
	size        int64
	checksum    string
	contentType string
	done        bool
}

// Stage copies r into a temporary file in dir (os.TempDir when empty).
// contentType is kept when non-empty, otherwise sniffed from the first 512
// bytes.
func Stage(r io.Reader, dir, contentType string) (*Staged, error) {
	tmp, err := os.CreateTemp(dir, stagePattern)
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}

	hasher := sha1.New()
	sniff := &sniffer{buf: make([]byte, 0, 512)}
	n, err := io.Copy(io.MultiWriter(tmp, hasher, sniff), r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("sync temp: %w", err)
	}

	if contentType == "" {
		contentType = http.DetectContentType(sniff.buf)
	}

	return &Staged{
		file:        tmp,
		path:        tmp.Name(),
		size:        n,
		checksum:    hexSum(hasher),
		contentType: contentType,
	}, nil
}

// Size is the number of bytes staged.
func (s *Staged) Size() int64 { return s.size }

// Checksum is the lower-case hex SHA-1 of the staged bytes.
func (s *Staged) Checksum() string { return s.checksum }

// ContentType is the supplied or detected MIME type.
func (s *Staged) ContentType() string { return s.contentType }

// Verify compares the computed checksum with expected. An empty expected
// checksum always passes.
func (s *Staged) Verify(expected string) error {
	if expected == "" || strings.EqualFold(strings.TrimSpace(expected), s.checksum) {
		return nil
	}
	return fmt.Errorf("expected %s %s, computed %s", ChecksumAlgorithm, expected, s.checksum)
}

// Reader rewinds the staged file and returns it for reading. The caller
// must not close it; Discard does.
func (s *Staged) Reader() (io.ReadSeeker, error) {
	if s.done {
		return nil, os.ErrClosed
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.file, nil
}

// CommitTo renames the staged file to dst. dst must be on the same
// filesystem as the staging directory.
func (s *Staged) CommitTo(dst string) error {
	if s.done {
		return os.ErrClosed
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.path)
		s.done = true
		return fmt.Errorf("close temp: %w", err)
	}
	s.done = true
	if err := os.Rename(s.path, dst); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("rename temp to %s: %w", dst, err)
	}
	return nil
}

// Discard removes the staged file. It is a no-op after CommitTo.
func (s *Staged) Discard() {
	if s.done {
		return
	}
	s.done = true
	s.file.Close()
	os.Remove(s.path)
}

// IsStagingName reports whether name is a temporary staging file name.
func IsStagingName(name string) bool {
	return strings.HasPrefix(name, StagePrefix)
}

// Checksum returns the hex SHA-1 of everything read from r.
func Checksum(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hexSum(h), nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// sniffer keeps the first bytes written for content type detection.
type sniffer struct {
	buf []byte
}

func (s *sniffer) Write(p []byte) (int, error) {
	if room := cap(s.buf) - len(s.buf); room > 0 {
		if room > len(p) {
			room = len(p)
		}
		s.buf = append(s.buf, p[:room]...)
	}
	return len(p), nil
}
