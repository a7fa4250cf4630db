package ioengine

import (
	"io"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The kernel-AIO back-end, grounded on IoManager.h's LinuxIoSubmit: each
// enqueued request becomes one iocb submitted on its own with io_submit,
// and completions are reaped with io_getevents. Simpler than the io_uring ring (no shared mmap'd
// queues) but still a true kernel-async submission path, distinct from the
// synchronous back-end.

const (
	sysIOSetup  = 206
	sysIOSubmit = 209
	sysIOGetevents = 208
	sysIODestroy = 207

	iocbCmdPread  = 0
	iocbCmdPwrite = 1
)

type aioContext uintptr

type iocb struct {
	Data     uint64
	Key      uint32
	RWFlags  uint32
	LioOpcode uint16
	ReqPrio  int16
	FD       int32
	Buf      uint64
	NBytes   uint64
	Offset   int64
	Reserved2 uint64
	Flags    uint32
	ResFD    uint32
}

type ioEvent struct {
	Data uint64
	Obj  uint64
	Res  int64
	Res2 int64
}

type aioEngine struct {
	file *os.File
	ctx  aioContext
	mu   sync.Mutex
	inflight map[*iocb]struct{}
}

func newAIOEngine(file *os.File, depth int) (*aioEngine, error) {
	if depth < 1 {
		depth = 1
	}
	var ctx aioContext
	_, _, errno := unix.Syscall(sysIOSetup, uintptr(depth), uintptr(unsafe.Pointer(&ctx)), 0)
	if errno != 0 {
		return nil, ioErr("ioengine.aio.setup", errno)
	}
	return &aioEngine{file: file, ctx: ctx, inflight: make(map[*iocb]struct{}, depth)}, nil
}

func (e *aioEngine) submitOne(opcode uint16, buf []byte, fileOffset int64, tag Tag) error {
	if tag == 0 {
		return ioErr("ioengine.aio.submit", errReservedTag)
	}
	cb := &iocb{
		Data:      uint64(tag),
		LioOpcode: opcode,
		FD:        int32(e.file.Fd()),
		Buf:       uint64(uintptr(unsafe.Pointer(&buf[0]))),
		NBytes:    uint64(len(buf)),
		Offset:    fileOffset,
	}
	cbs := [1]*iocb{cb}
	e.mu.Lock()
	e.inflight[cb] = struct{}{}
	e.mu.Unlock()
	_, _, errno := unix.Syscall(sysIOSubmit, uintptr(e.ctx), 1, uintptr(unsafe.Pointer(&cbs[0])))
	if errno != 0 {
		return ioErr("ioengine.aio.submit", errno)
	}
	return nil
}

func (e *aioEngine) EnqueueRead(dst []byte, fileOffset int64, tag Tag) error {
	return e.submitOne(iocbCmdPread, dst, fileOffset, tag)
}

func (e *aioEngine) EnqueueWrite(src []byte, fileOffset int64, tag Tag) error {
	return e.submitOne(iocbCmdPwrite, src, fileOffset, tag)
}

// Submit is a no-op: unlike io_uring's two-phase enqueue/submit, io_submit
// issues requests to the kernel immediately. Kept to satisfy the Engine
// interface uniformly.
func (e *aioEngine) Submit() error { return nil }

func (e *aioEngine) getEvents(minEvents, maxEvents int, block bool) (Tag, error) {
	events := make([]ioEvent, maxEvents)
	var timeout unsafe.Pointer
	if !block {
		zero := unix.Timespec{}
		timeout = unsafe.Pointer(&zero)
	}
	n, _, errno := unix.Syscall6(sysIOGetevents, uintptr(e.ctx), uintptr(minEvents), uintptr(maxEvents),
		uintptr(unsafe.Pointer(&events[0])), uintptr(timeout), 0)
	if errno != 0 {
		return 0, ioErr("ioengine.aio.getevents", errno)
	}
	if n == 0 {
		return 0, nil
	}
	ev := events[0]
	if ev.Res < 0 {
		return 0, ioErr("ioengine.aio.getevents", unix.Errno(-ev.Res))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for cb := range e.inflight {
		if uint64(uintptr(unsafe.Pointer(cb))) == ev.Obj && uint64(ev.Res) != cb.NBytes {
			return 0, ioErr("ioengine.aio.getevents", io.ErrUnexpectedEOF)
		}
	}
	return Tag(ev.Data), nil
}

func (e *aioEngine) AwaitAny() (Tag, error) {
	tag, err := e.getEvents(1, 1, true)
	if err != nil {
		return 0, err
	}
	if tag == 0 {
		return 0, ioErr("ioengine.aio.await", errNoCompletion)
	}
	return tag, nil
}

func (e *aioEngine) PeekAny() (Tag, error) {
	return e.getEvents(0, 1, false)
}

func (e *aioEngine) Close() error {
	_, _, errno := unix.Syscall(sysIODestroy, uintptr(e.ctx), 0, 0)
	if errno != 0 {
		return ioErr("ioengine.aio.destroy", errno)
	}
	return nil
}
