package iterator

import (
	"os"

	"golang.org/x/sys/unix"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// Mmap is the simplest forward iterator: the whole file is mapped once and
// advised MADV_SEQUENTIAL, letting the kernel's readahead do the work.
// Grounded on BlockIterator.h's mmap-backed iterator.
type Mmap struct {
	data       []byte
	blockSize  int
	numBlocks  uint64
	cur        uint64 // 1-based count of blocks visited so far
	err        error
}

// OpenMmap maps file, which must contain numBlocks data blocks (block 0
// included: it carries StoreMetadata as a pseudo-object but may also hold
// real records packed after it) followed by one terminator block, and
// advises the kernel for sequential access.
func OpenMmap(file *os.File, blockSize int, numBlocks uint64) (*Mmap, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "iterator.OpenMmap", err)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "iterator.OpenMmap", err)
	}
	if err := unix.Madvise(data, unix.MADV_SEQUENTIAL); err != nil {
		unix.Munmap(data)
		return nil, pacherrors.New(pacherrors.IoError, "iterator.OpenMmap", err)
	}
	return &Mmap{data: data, blockSize: blockSize, numBlocks: numBlocks}, nil
}

func (m *Mmap) Next() bool {
	if m.err != nil || m.cur >= m.numBlocks {
		return false
	}
	m.cur++
	return true
}

// BlockNumber returns the 0-based index of the current block in the file
// (block 0 is the one holding the metadata record).
func (m *Mmap) BlockNumber() uint64 { return m.cur - 1 }

func (m *Mmap) BlockContent() []byte {
	start := int(m.cur-1) * m.blockSize
	return m.data[start : start+m.blockSize]
}

func (m *Mmap) Err() error { return m.err }

func (m *Mmap) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return pacherrors.New(pacherrors.IoError, "iterator.Mmap.Close", err)
	}
	return nil
}
