// Package writer implements C3: the dense streaming packer shared by all
// three engines' construction paths, grounded on
// original_source/include/LinearObjectWriter.h. Records must already be
// presented in each engine's desired on-disk order (sorted by hash bin for
// PaCHash; pre-bucketed per block for separator/cuckoo).
package writer

import (
	"github.com/packedstore/pachash/block"
	pacherrors "github.com/packedstore/pachash/internal/errors"
	"github.com/packedstore/pachash/storeconfig"
)

// blockFlush is the number of blocks accumulated in one buffer before it is
// flushed to the backend, matching LinearObjectWriter.h's BLOCK_FLUSH.
const blockFlush = 250

// Backend is the minimal write-side capability the writer needs. A plain
// blockfile.Local satisfies this; so would any WritableBackend.
type Backend interface {
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
}

// Writer packs (key, value) records into the block layout, writing through
// to backend as blocks fill. Not safe for concurrent use; exactly one
// writer owns a file during construction (spec §3 Ownership).
type Writer struct {
	backend   Backend
	blockSize int

	buf          []byte // staging buffer, up to blockFlush blocks
	bufBaseBlock int64  // file block index of buf[0]
	blockInBuf   int    // index of the block currently being filled within buf

	spaceLeftInBlock int // bytes still free for object payload in the current block
	keyOffsets       []keyOffset

	totalBlocks int64
	maxSize     uint64
}

type keyOffset struct {
	key    uint64
	offset int
}

// New returns a Writer over backend, reserving block 0's leading bytes for
// the StoreMetadata record that Close will stamp in.
func New(backend Backend, cfg storeconfig.Config) *Writer {
	w := &Writer{
		backend:   backend,
		blockSize: cfg.BlockSize,
	}
	w.buf = make([]byte, blockFlush*cfg.BlockSize)
	w.startBlock()
	w.reserveMetadataSlot()
	return w
}

func (w *Writer) currentBlock() []byte {
	start := w.blockInBuf * w.blockSize
	return w.buf[start : start+w.blockSize]
}

func (w *Writer) startBlock() {
	w.spaceLeftInBlock = w.blockSize - storeconfig.OverheadPerBlock
	w.keyOffsets = w.keyOffsets[:0]
}

// reserveMetadataSlot writes the key-0 pseudo-object placeholder at the
// front of block 0 (spec §3: "the metadata slot is itself a pseudo-object
// with key 0"). Its bytes are overwritten with the real StoreMetadata by
// Close. Routed through writeObject so the reserved bytes are accounted
// for in the block's forward-growth budget exactly like a real object.
func (w *Writer) reserveMetadataSlot() {
	if err := w.writeObject(storeconfig.MetadataKey, make([]byte, block.MetadataSize)); err != nil {
		// Only fails if a block can't even hold the metadata record, which
		// would make this configuration unusable regardless.
		panic(err)
	}
	w.maxSize = 0 // don't let the placeholder pollute the observed max object size
}

func (w *Writer) appendEntry(key uint64, offset int) {
	w.keyOffsets = append(w.keyOffsets, keyOffset{key: key, offset: offset})
}

// Write appends one (key, value) record, spanning as many subsequent
// blocks as needed (spec §4.3).
func (w *Writer) Write(key uint64, value []byte) error {
	if key == storeconfig.MetadataKey {
		return pacherrors.New(pacherrors.BadInput, "writer.Write", "key 0 is reserved")
	}
	return w.writeObject(key, value)
}

// writeObject is Write's implementation, minus the reserved-key check, so
// Close can emit the zero-length key-0 terminator object itself.
func (w *Writer) writeObject(key uint64, value []byte) error {
	if len(value) > int(w.maxSize) {
		w.maxSize = uint64(len(value))
	}

	remaining := value
	first := true
	for {
		if w.spaceLeftInBlock <= storeconfig.OverheadPerObject {
			if err := w.flushBlock(w.spaceLeftInBlock); err != nil {
				return err
			}
		}
		blk := w.currentBlock()
		writeOffset := w.blockSize - storeconfig.OverheadPerBlock - w.spaceLeftInBlock
		if first {
			w.appendEntry(key, writeOffset)
			w.spaceLeftInBlock -= storeconfig.OverheadPerObject
			first = false
		}
		n := len(remaining)
		if n > w.spaceLeftInBlock {
			n = w.spaceLeftInBlock
		}
		copy(blk[writeOffset:writeOffset+n], remaining[:n])
		w.spaceLeftInBlock -= n
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return nil
		}
		if err := w.flushBlock(0); err != nil {
			return err
		}
	}
}

// flushBlock finalizes the current block (stamping its trailer and table)
// and advances to the next, flushing the staging buffer to the backend
// once it fills. emptySpace is the number of unused payload bytes to
// record as the block's empty gap.
func (w *Writer) flushBlock(emptySpace int) error {
	blk := w.currentBlock()
	emptyPageEnd := w.blockSize - storeconfig.OverheadPerBlock - emptySpace
	for i, ko := range w.keyOffsets {
		block.PutTableEntry(blk, len(w.keyOffsets), i, ko.key, ko.offset)
	}
	block.Init(blk, len(w.keyOffsets), emptyPageEnd)

	w.totalBlocks++
	w.blockInBuf++
	if w.blockInBuf == blockFlush {
		if err := w.flushBuffer(); err != nil {
			return err
		}
	}
	w.startBlock()
	return nil
}

func (w *Writer) flushBuffer() error {
	if w.blockInBuf == 0 {
		return nil
	}
	n, err := w.backend.WriteAt(w.buf[:w.blockInBuf*w.blockSize], w.bufBaseBlock*int64(w.blockSize))
	if err != nil || n != w.blockInBuf*w.blockSize {
		return pacherrors.New(pacherrors.IoError, "writer.flushBuffer", err)
	}
	w.bufBaseBlock += int64(w.blockInBuf)
	w.blockInBuf = 0
	return nil
}

// Close finalizes the tail block, truncates the file, and stamps the final
// StoreMetadata into block 0 (spec §4.3). Returns the total number of data
// blocks (excluding the terminator) and the largest object size observed.
func (w *Writer) Close(storeType storeconfig.StoreType) (numBlocks uint64, maxSize uint64, err error) {
	// Pad or terminate the tail block per spec §4.3: if <=128B free, pad
	// with zeros; otherwise emit a zero-length terminator object.
	if w.spaceLeftInBlock > 128 {
		if err := w.writeObject(0, nil); err != nil {
			return 0, 0, err
		}
	}
	if err := w.flushBlock(w.spaceLeftInBlock); err != nil {
		return 0, 0, err
	}
	// Trailing empty terminator block (spec §3: "the file ends with one
	// additional empty block as terminator").
	w.startBlock()
	if err := w.flushBlock(w.blockSize - storeconfig.OverheadPerBlock); err != nil {
		return 0, 0, err
	}
	if err := w.flushBuffer(); err != nil {
		return 0, 0, err
	}

	fileSize := w.totalBlocks * int64(w.blockSize)
	if err := w.backend.Truncate(fileSize); err != nil {
		return 0, 0, pacherrors.New(pacherrors.IoError, "writer.Close", err)
	}

	meta := block.Metadata{
		Type:      storeType,
		NumBlocks: uint64(w.totalBlocks - 1), // exclude the terminator block
		MaxSize:   w.maxSize,
	}
	metaBytes := make([]byte, block.MetadataSize)
	block.PutMetadata(metaBytes, meta)
	n, err := w.backend.WriteAt(metaBytes, 0)
	if err != nil || n != len(metaBytes) {
		return 0, 0, pacherrors.New(pacherrors.IoError, "writer.Close", err)
	}
	return meta.NumBlocks, meta.MaxSize, nil
}
