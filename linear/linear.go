// Package linear implements C11: a forward, ordered scan over a store's
// blocks (LinearObjectReader) and a k-way merge of sorted PaCHash files,
// grounded on original_source/include/VariableSizeObjectStore.h's
// LinearObjectReader and Merge.h.
package linear

import (
	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/engine/pachash"
	pacherrors "github.com/packedstore/pachash/internal/errors"
	"github.com/packedstore/pachash/internal/readerat"
	"github.com/packedstore/pachash/storeconfig"
	"github.com/packedstore/pachash/writer"
)

// readAheadBytes sizes the internal sequential-scan buffer; a handful of
// blocks is enough to amortize ReadAt syscalls for forward-only access.
const readAheadBytes = 64 * 1024

// Object is one (key, value) pair yielded by a LinearObjectReader scan, in
// on-disk order.
type Object struct {
	Key   uint64
	Value []byte
}

// LinearObjectReader performs a forward-only scan of a store file block by
// block, reconstructing spanning objects as it goes and skipping the
// reserved metadata pseudo-object at block 0. Not safe for concurrent use.
type LinearObjectReader struct {
	r         *readerat.Buffered
	blockSize int
	numBlocks uint64

	curBlock uint64
	buf      []byte
	view     block.View
	loaded   bool
	curIdx   int
	err      error
}

// OpenLinearObjectReader opens a forward scan over backend, a store with
// the given block size and block count (numBlocks real data blocks, as
// recorded in StoreMetadata; the file has one further terminator block).
func OpenLinearObjectReader(backend blockfile.Backend, blockSize int, numBlocks uint64) *LinearObjectReader {
	return &LinearObjectReader{
		r:         readerat.NewBuffered(backend, readAheadBytes),
		blockSize: blockSize,
		numBlocks: numBlocks,
		buf:       make([]byte, blockSize),
	}
}

func (lr *LinearObjectReader) readBlock(b uint64, dst []byte) bool {
	if _, err := lr.r.ReadAt(dst, int64(b)*int64(lr.blockSize)); err != nil {
		lr.err = pacherrors.New(pacherrors.IoError, "linear.LinearObjectReader", err)
		return false
	}
	return true
}

func (lr *LinearObjectReader) ensureLoaded() bool {
	if lr.loaded {
		return true
	}
	if lr.curBlock >= lr.numBlocks {
		return false
	}
	if !lr.readBlock(lr.curBlock, lr.buf) {
		return false
	}
	lr.view = block.Parse(lr.buf)
	lr.curIdx = 0
	lr.loaded = true
	return true
}

// Next advances to and returns the next object in the file, or (Object{},
// false) at end of file or on error (check Err). Objects spanning multiple
// blocks are reconstructed transparently.
func (lr *LinearObjectReader) Next() (Object, bool) {
	for lr.err == nil {
		if !lr.ensureLoaded() {
			return Object{}, false
		}
		if lr.curIdx >= lr.view.NumObjects() {
			lr.curBlock++
			lr.loaded = false
			continue
		}

		idx := lr.curIdx
		lr.curIdx++
		key := lr.view.Key(idx)
		offset := lr.view.Offset(idx)
		isLast := idx == lr.view.NumObjects()-1
		var length int
		if isLast {
			length = lr.view.EmptyPageEnd() - offset
		} else {
			length = lr.view.Offset(idx+1) - offset
		}
		value := append([]byte{}, lr.buf[offset:offset+length]...)

		if isLast && offset+length == lr.blockSize-storeconfig.OverheadPerBlock {
			value = lr.followSpan(value)
			if lr.err != nil {
				return Object{}, false
			}
		}

		if key == storeconfig.MetadataKey {
			continue
		}
		return Object{Key: key, Value: value}, true
	}
	return Object{}, false
}

// followSpan reads forward from the block after the current one, appending
// each subsequent block's leading continuation bytes to value, until it
// reaches a block whose table holds at least one entry (the continuation
// ends at that entry's offset) or a block with no entries whose
// continuation stops short of the trailer (the object ends inside it). On return,
// lr.curBlock/lr.loaded/lr.curIdx are positioned at the first unconsumed
// table entry, ready for the next Next() call.
func (lr *LinearObjectReader) followSpan(value []byte) []byte {
	nb := make([]byte, lr.blockSize)
	for {
		next := lr.curBlock + 1
		if next >= lr.numBlocks+1 {
			lr.curBlock = next
			lr.loaded = false
			return value
		}
		if !lr.readBlock(next, nb) {
			return value
		}
		nv := block.Parse(nb)
		var contEnd int
		if nv.NumObjects() == 0 {
			contEnd = nv.EmptyPageEnd()
		} else {
			contEnd = nv.Offset(0)
		}
		value = append(value, nb[:contEnd]...)
		lr.curBlock = next

		if nv.NumObjects() > 0 {
			copy(lr.buf, nb)
			lr.view = nv
			lr.curIdx = 0
			lr.loaded = true
			return value
		}
		if contEnd < lr.blockSize-storeconfig.OverheadPerBlock {
			lr.loaded = false
			return value
		}
		// This block, too, is entirely continuation; keep walking forward.
	}
}

// Err returns the first error encountered during the scan, if any.
func (lr *LinearObjectReader) Err() error { return lr.err }

// Source is one input file to Merge: its backend plus the block geometry
// recorded in its own StoreMetadata.
type Source struct {
	Backend   blockfile.Backend
	BlockSize int
	NumBlocks uint64
}

// Merge performs a k-way merge of several PaCHash-type store files into
// dst, reporting the number of objects written
// (original_source/include/Merge.h additionally reports this count; spec
// §8 scenario 6 exercises it over two disjoint-key files). Each source's
// LinearObjectReader scan already yields objects in the file's own on-disk
// order, which for a PaCHash store is hashed-key order (spec §4.7); Merge
// compares on that same HashedKey so the merged output stays in the order
// pachash.BuildIndex's rescan requires, and the caller must call
// pachash.BuildIndex over dst afterward to query the merged file.
func Merge(dst writer.Backend, cfg storeconfig.Config, sources []Source) (int, error) {
	readers := make([]*LinearObjectReader, len(sources))
	heads := make([]*Object, len(sources))
	for i, s := range sources {
		readers[i] = OpenLinearObjectReader(s.Backend, s.BlockSize, s.NumBlocks)
		if obj, ok := readers[i].Next(); ok {
			o := obj
			heads[i] = &o
		} else if err := readers[i].Err(); err != nil {
			return 0, err
		}
	}

	w := writer.New(dst, cfg)
	count := 0
	for {
		minIdx := -1
		for i, h := range heads {
			if h == nil {
				continue
			}
			if minIdx == -1 || pachash.HashedKey(h.Key) < pachash.HashedKey(heads[minIdx].Key) {
				minIdx = i
			}
		}
		if minIdx == -1 {
			break
		}
		if err := w.Write(heads[minIdx].Key, heads[minIdx].Value); err != nil {
			return count, err
		}
		count++
		if obj, ok := readers[minIdx].Next(); ok {
			o := obj
			heads[minIdx] = &o
		} else {
			if err := readers[minIdx].Err(); err != nil {
				return count, err
			}
			heads[minIdx] = nil
		}
	}

	if _, _, err := w.Close(storeconfig.TypePaCHashBase); err != nil {
		return count, err
	}
	return count, nil
}
