// Package ioengine implements C2: a small completion-queue-style interface
// over an open block file, with at least three interchangeable back-ends
// (spec §4.2). The rest of the system (writer, iterator, engines, query
// pipeline) depends only on the Engine interface below; see sync.go,
// aio.go, and uring.go for the concrete back-ends, grounded respectively on
// original_source/include/IoManager.h's PosixIO, LinuxIoSubmit, and UringIO.
package ioengine

import (
	"os"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// Tag identifies one in-flight request to its submitter. 0 is reserved to
// mean "no completion" and must never be used as a real tag (spec §4.2).
type Tag uint64

// Engine is the capability set the rest of this module depends on. A tag of
// 0 must never be enqueued. Any short read, EIO, or submission failure is
// fatal: back-ends report it as an *pacherrors.E of Kind IoError rather than
// retrying (spec §4.2, §7).
type Engine interface {
	// EnqueueRead queues a read of len(dst) bytes at fileOffset, to be
	// reported as completed under tag once Submit has been called and the
	// read finishes. dst and fileOffset must be block-aligned when the
	// engine was opened with direct I/O.
	EnqueueRead(dst []byte, fileOffset int64, tag Tag) error

	// EnqueueWrite is the write-direction analog of EnqueueRead.
	EnqueueWrite(src []byte, fileOffset int64, tag Tag) error

	// Submit releases all queued requests to the kernel. Does not block for
	// completion.
	Submit() error

	// AwaitAny blocks until at least one request completes, returning its
	// tag. Never returns 0.
	AwaitAny() (Tag, error)

	// PeekAny returns the tag of a completed request without blocking, or 0
	// if none is ready.
	PeekAny() (Tag, error)

	// Close releases the engine's resources. The backing file descriptor is
	// not closed; the caller owns it.
	Close() error
}

// Backend selects which Engine implementation Open constructs.
type Backend int

const (
	// Sync performs each read/write synchronously via os.File's ReadAt/
	// WriteAt as soon as it is enqueued, and completes it immediately;
	// Submit is a no-op and AwaitAny/PeekAny simply drain an already-full
	// completion slice. Grounded on IoManager.h's PosixIO.
	Sync Backend = iota
	// AIO submits each request to the kernel with io_submit as soon as it is
	// enqueued and reaps completions with io_getevents. Grounded on
	// IoManager.h's LinuxIoSubmit.
	AIO
	// Uring batches requests through an io_uring submission/completion
	// ring. Grounded on IoManager.h's UringIO.
	Uring
)

// Open constructs an Engine of the given backend over file, with a
// submission queue sized for depth simultaneously in-flight requests.
func Open(backend Backend, file *os.File, depth int) (Engine, error) {
	switch backend {
	case Sync:
		return newSyncEngine(file, depth), nil
	case AIO:
		return newAIOEngine(file, depth)
	case Uring:
		return newUringEngine(file, depth)
	default:
		return nil, pacherrors.New(pacherrors.UsageError, "ioengine.Open", "unknown backend")
	}
}

func ioErr(op string, err error) error {
	return pacherrors.New(pacherrors.IoError, op, err)
}
