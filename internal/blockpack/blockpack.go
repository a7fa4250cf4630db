// Package blockpack lays out a fixed, externally-decided list of items
// into one block's bytes. Unlike the streaming writer (package writer),
// which auto-decides block boundaries as it packs a sorted stream, the
// separator and cuckoo engines must place each item in a specific,
// hash-routed block; blockpack is the shared primitive both use to turn
// "these items go in this block" into the on-disk byte layout.
package blockpack

import (
	"github.com/packedstore/pachash/block"
	pacherrors "github.com/packedstore/pachash/internal/errors"
	"github.com/packedstore/pachash/storeconfig"
)

// Item is one (key, value) entry to place in a block. Key 0 is reserved
// for the metadata placeholder, which callers pass explicitly as items[0]
// when packing block 0.
type Item struct {
	Key   uint64
	Value []byte
}

// Capacity returns the number of payload bytes available in a block
// holding numItems entries.
func Capacity(blockSize, numItems int) int {
	return blockSize - storeconfig.OverheadPerBlock - numItems*storeconfig.OverheadPerObject
}

// Pack lays out items forward from offset 0 and writes their table entries
// backward from the tail, returning the finished block bytes. Returns a
// BadInput error if items do not fit.
func Pack(blockSize int, items []Item) ([]byte, error) {
	buf := make([]byte, blockSize)
	capacity := Capacity(blockSize, len(items))
	offset := 0
	offsets := make([]int, len(items))
	for i, it := range items {
		offsets[i] = offset
		offset += len(it.Value)
		if offset > capacity {
			return nil, pacherrors.New(pacherrors.BadInput, "blockpack.Pack", "items exceed block capacity")
		}
		copy(buf[offsets[i]:offset], it.Value)
	}
	for i, it := range items {
		block.PutTableEntry(buf, len(items), i, it.Key, offsets[i])
	}
	block.Init(buf, len(items), offset)
	return buf, nil
}

// Empty returns a zero-object block with no payload, used for the
// trailing terminator block.
func Empty(blockSize int) []byte {
	buf := make([]byte, blockSize)
	block.Init(buf, 0, 0)
	return buf
}
