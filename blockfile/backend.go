// Package blockfile provides the pluggable storage back-end behind the I/O
// engine and block iterators, grounded on the teacher repository's file
// package (file.File, file/localfile.go, file/s3file) and on spec §9's
// design note that "the concrete kernel interface is replaceable". A
// Backend is a fixed-size collection of bytes supporting random-access
// reads (every engine and iterator needs this) plus, for locally writable
// backends, random-access writes and truncation (only the streaming writer
// needs this).
package blockfile

import (
	"io"
	"os"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// Backend is the read side every component depends on: a ReaderAt plus a
// known size. Matches spec's "the I/O primitive itself... is specified as a
// capability the core consumes; the concrete kernel interface is
// replaceable".
type Backend interface {
	io.ReaderAt
	// Size returns the current length of the backend in bytes.
	Size() (int64, error)
	// Close releases any resources held by the backend.
	Close() error
}

// WritableBackend is additionally writable and truncatable: only the
// streaming writer (C3) needs this, since the file is immutable once
// closed (spec §1 Non-goals: "mutation after construction").
type WritableBackend interface {
	Backend
	io.WriterAt
	Truncate(size int64) error
	Sync() error
}

// Local wraps an *os.File. This is the default backend and the one every
// engine test in this module exercises directly.
type Local struct {
	f *os.File
}

// OpenLocal opens path for reading.
func OpenLocal(path string) (*Local, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "blockfile.OpenLocal", err)
	}
	return &Local{f: f}, nil
}

// CreateLocal creates (or truncates) path for writing.
func CreateLocal(path string) (*Local, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "blockfile.CreateLocal", err)
	}
	return &Local{f: f}, nil
}

// File returns the underlying *os.File, e.g. so ioengine.Open can attach a
// kernel-AIO or io_uring back-end to it.
func (l *Local) File() *os.File { return l.f }

func (l *Local) ReadAt(p []byte, off int64) (int, error) { return l.f.ReadAt(p, off) }
func (l *Local) WriteAt(p []byte, off int64) (int, error) { return l.f.WriteAt(p, off) }
func (l *Local) Truncate(size int64) error                { return l.f.Truncate(size) }
func (l *Local) Sync() error                               { return l.f.Sync() }
func (l *Local) Close() error                               { return l.f.Close() }

func (l *Local) Size() (int64, error) {
	info, err := l.f.Stat()
	if err != nil {
		return 0, pacherrors.New(pacherrors.IoError, "blockfile.Local.Size", err)
	}
	return info.Size(), nil
}
