package iterator

import (
	"github.com/packedstore/pachash/ioengine"
)

// batchBlocks is the number of blocks read per buffer swap, matching the
// writer's own blockFlush granularity so construction and rescan passes
// move the same amount of data per round trip.
const batchBlocks = 250

// DoubleBuffer is the ordered iterator: while the caller consumes one
// batch-sized buffer, the next is already in flight on the other buffer.
// Deterministic block order. Grounded on BlockIterator.h's double-buffered
// uring iterator, generalized to any ioengine.Engine back-end (sync, AIO,
// or uring all work identically from here).
type DoubleBuffer struct {
	engine    ioengine.Engine
	blockSize int
	numBlocks uint64

	buffers    [2][]byte
	cur        int // which buffer is currently being consumed
	nextQueued bool

	batchStart   uint64 // first data-block index covered by buffers[cur]
	posInBatch   int    // blocks consumed so far from buffers[cur]
	batchLen     int    // blocks actually present in buffers[cur]
	nextBatchLen int

	cursor uint64 // 0-based data-block index most recently returned
	err    error
}

// OpenDoubleBuffer starts an ordered scan of numBlocks data blocks (block 0
// included; only the trailing terminator block is excluded).
func OpenDoubleBuffer(engine ioengine.Engine, blockSize int, numBlocks uint64) (*DoubleBuffer, error) {
	d := &DoubleBuffer{
		engine:    engine,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}
	d.buffers[0] = make([]byte, batchBlocks*blockSize)
	d.buffers[1] = make([]byte, batchBlocks*blockSize)
	if err := d.enqueueBatch(0, 0); err != nil {
		return nil, err
	}
	return d, nil
}

// enqueueBatch submits a read for up to batchBlocks blocks starting at
// data-block start into buffers[buf], tagged buf+1 (tags must be nonzero).
func (d *DoubleBuffer) enqueueBatch(buf int, start uint64) error {
	n := d.numBlocks - start
	if n > batchBlocks {
		n = batchBlocks
	}
	if n == 0 {
		return nil
	}
	fileOffset := int64(start) * int64(d.blockSize)
	if err := d.engine.EnqueueRead(d.buffers[buf][:int(n)*d.blockSize], fileOffset, ioengine.Tag(buf+1)); err != nil {
		return err
	}
	return d.engine.Submit()
}

func (d *DoubleBuffer) Next() bool {
	if d.err != nil {
		return false
	}
	if d.posInBatch == 0 && d.batchLen == 0 && d.batchStart >= d.numBlocks {
		return false
	}
	if d.posInBatch == 0 {
		// First use of this buffer: await its completion and compute its
		// length, and kick off the other buffer's read concurrently.
		if _, err := d.engine.AwaitAny(); err != nil {
			d.err = err
			return false
		}
		remaining := d.numBlocks - d.batchStart
		if remaining > batchBlocks {
			remaining = batchBlocks
		}
		d.batchLen = int(remaining)
		if d.batchLen == 0 {
			return false
		}
		other := 1 - d.cur
		nextStart := d.batchStart + uint64(d.batchLen)
		if nextStart < d.numBlocks {
			if err := d.enqueueBatch(other, nextStart); err != nil {
				d.err = err
				return false
			}
		}
	}
	if d.posInBatch >= d.batchLen {
		// Swap to the other (already in-flight, now awaited) buffer.
		d.batchStart += uint64(d.batchLen)
		if d.batchStart >= d.numBlocks {
			return false
		}
		d.cur = 1 - d.cur
		d.posInBatch = 0
		d.batchLen = 0
		return d.Next()
	}
	d.cursor = d.batchStart + uint64(d.posInBatch)
	d.posInBatch++
	return true
}

func (d *DoubleBuffer) BlockNumber() uint64 { return d.cursor }

func (d *DoubleBuffer) BlockContent() []byte {
	idx := int(d.cursor - d.batchStart)
	start := idx * d.blockSize
	return d.buffers[d.cur][start : start+d.blockSize]
}

func (d *DoubleBuffer) Err() error { return d.err }

func (d *DoubleBuffer) Close() error { return nil }
