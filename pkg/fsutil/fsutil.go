// Package fsutil implements the small, bounded filesystem operations
// that the cgroup and rlimit layers need: creating and removing
// directories, and writing/reading control files that are never more
// than a few KiB. Every operation reports the underlying errno so
// callers can build a precise DomainError.
package fsutil

import (
	"io"
	"os"

	"github.com/sandboxrun/bwrapbox/pkg/errors"
)

const chunkSize = 4096

// Mkdir creates path with mode 0775, matching the cgroup v2 directory
// convention. It is not an error if path already exists.
func Mkdir(path string) error {
	if err := os.Mkdir(path, 0775); err != nil && !os.IsExist(err) {
		return errors.NewIOError("mkdir failed", err).WithContext("path", path)
	}
	return nil
}

// Rmdir removes an empty directory. It is not an error if path is
// already gone.
func Rmdir(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("rmdir failed", err).WithContext("path", path)
	}
	return nil
}

// WriteFile truncates (or creates, mode 0664) path and writes contents
// in 4 KiB chunks, retrying on short writes, guaranteeing the file is
// closed on every exit path.
func WriteFile(path string, contents []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0664)
	if err != nil {
		return errors.NewIOError("open for write failed", err).WithContext("path", path)
	}
	defer f.Close()

	for written := 0; written < len(contents); {
		end := written + chunkSize
		if end > len(contents) {
			end = len(contents)
		}
		n, err := f.Write(contents[written:end])
		if err != nil {
			return errors.NewIOError("write failed", err).WithContext("path", path)
		}
		written += n
	}
	return nil
}

// ReadFile reads path in 4 KiB chunks into an extensible buffer until a
// short read signals EOF.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIOError("open for read failed", err).WithContext("path", path)
	}
	defer f.Close()

	var buf []byte
	chunk := make([]byte, chunkSize)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewIOError("read failed", err).WithContext("path", path)
		}
		if n < chunkSize {
			// A short, non-EOF read still means there's nothing more
			// buffered right now for these control files; treat it the
			// same as EOF rather than spinning.
			break
		}
	}
	return buf, nil
}

// IsDir reports whether path exists and is a directory. Used to gate
// cgroup teardown so that repeated or concurrent cleanup calls are
// idempotent.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
