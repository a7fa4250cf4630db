package ioengine

import (
	"errors"
	"io"
	"os"
)

var (
	errReservedTag  = errors.New("tag 0 is reserved and must not be enqueued")
	errNoCompletion = errors.New("no completion available")
)

// syncEngine is the synchronous per-request back-end: EnqueueRead/
// EnqueueWrite perform the pread/pwrite immediately via os.File's ReadAt/
// WriteAt, and Submit is a no-op. Completions are buffered in FIFO order
// for AwaitAny/PeekAny to drain. Grounded on IoManager.h's PosixIO, the
// simplest of the original's three back-ends.
type syncEngine struct {
	file *os.File
	done []Tag
	err  error
}

func newSyncEngine(file *os.File, depth int) *syncEngine {
	return &syncEngine{file: file, done: make([]Tag, 0, depth)}
}

func (e *syncEngine) EnqueueRead(dst []byte, fileOffset int64, tag Tag) error {
	if tag == 0 {
		return ioErr("ioengine.sync.EnqueueRead", errReservedTag)
	}
	n, err := e.file.ReadAt(dst, fileOffset)
	if n != len(dst) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return ioErr("ioengine.sync.EnqueueRead", err)
	}
	e.done = append(e.done, tag)
	return nil
}

func (e *syncEngine) EnqueueWrite(src []byte, fileOffset int64, tag Tag) error {
	if tag == 0 {
		return ioErr("ioengine.sync.EnqueueWrite", errReservedTag)
	}
	n, err := e.file.WriteAt(src, fileOffset)
	if err != nil || n != len(src) {
		return ioErr("ioengine.sync.EnqueueWrite", err)
	}
	e.done = append(e.done, tag)
	return nil
}

func (e *syncEngine) Submit() error { return nil }

func (e *syncEngine) AwaitAny() (Tag, error) {
	if len(e.done) == 0 {
		return 0, ioErr("ioengine.sync.AwaitAny", errNoCompletion)
	}
	t := e.done[0]
	e.done = e.done[1:]
	return t, nil
}

func (e *syncEngine) PeekAny() (Tag, error) {
	if len(e.done) == 0 {
		return 0, nil
	}
	t := e.done[0]
	e.done = e.done[1:]
	return t, nil
}

func (e *syncEngine) Close() error { return nil }
