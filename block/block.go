// Package block implements C1: the on-disk representation of a single fixed
// size block, parsed and built in place with zero allocation. Grounded on
// original_source/include/VariableSizeObjectStore.h's BlockStorage inner
// class.
//
// Layout (spec §3, §6), little-endian throughout:
//
//	offset 0                       objects region, growing forward
//	...
//	tableStart                     N * (key u64, offset u16), growing backward
//	len(b) - overheadPerBlock       emptyPageEnd : u8
//	len(b) - 2                     numObjects : u16
package block

import (
	"encoding/binary"

	pacherrors "github.com/packedstore/pachash/internal/errors"
	"github.com/packedstore/pachash/storeconfig"
)

func errFormat(msg string) error {
	return pacherrors.New(pacherrors.FormatError, "block.ParseMetadata", msg)
}

// View is a parsed, read-only view over a block's trailer and table. It
// holds no copy of the block bytes; all accessors index directly into the
// backing slice passed to Parse.
type View struct {
	data []byte
}

// Parse reads the trailer fields of data (a full block) and returns a View.
// Pure; performs no allocation beyond the returned struct.
func Parse(data []byte) View {
	return View{data: data}
}

// NumObjects returns the number of objects whose table entry lives in this
// block (i.e. that *start* in this block).
func (v View) NumObjects() int {
	n := len(v.data)
	return int(binary.LittleEndian.Uint16(v.data[n-2:]))
}

// EmptyPageEnd returns the byte offset, within this block, past which the
// trailing gap between the objects region and the table begins. It is the
// byte count actually used by object payloads in this block when the table
// is present (i.e. the high end of the "holes are accounted to
// emptyPageEnd" invariant from spec §3).
func (v View) EmptyPageEnd() int {
	n := len(v.data)
	return int(v.data[n-storeconfig.OverheadPerBlock])
}

// TableStart returns the byte offset at which the key/offset table begins.
func (v View) TableStart() int {
	n := len(v.data)
	return n - storeconfig.OverheadPerBlock - v.NumObjects()*storeconfig.OverheadPerObject
}

// Key returns the key of the i-th object whose entry starts in this block,
// 0 <= i < NumObjects().
func (v View) Key(i int) uint64 {
	off := v.TableStart() + i*storeconfig.KeySize
	return binary.LittleEndian.Uint64(v.data[off:])
}

// Offset returns the in-block starting byte offset of the i-th object's
// payload, 0 <= i < NumObjects().
func (v View) Offset(i int) int {
	off := v.TableStart() + v.NumObjects()*storeconfig.KeySize + i*storeconfig.OffsetSize
	return int(binary.LittleEndian.Uint16(v.data[off:]))
}

// Bytes returns the backing block bytes.
func (v View) Bytes() []byte { return v.data }

// Len returns the block size.
func (v View) Len() int { return len(v.data) }

// Init writes the trailer fields (emptyPageEnd, numObjects) into data,
// which must be exactly one block long. The caller is responsible for
// having already written the objects region and the key/offset table; Init
// only stamps the two trailer fields, mirroring the original's
// BlockStorage::init, which takes the table as already populated by the
// writer and only needs to record its bounds.
func Init(data []byte, numObjects int, emptyPageEnd int) {
	n := len(data)
	data[n-storeconfig.OverheadPerBlock] = byte(emptyPageEnd)
	binary.LittleEndian.PutUint16(data[n-2:], uint16(numObjects))
}

// PutTableEntry writes the i-th table entry (key, offset) into data's
// table region, given the block will ultimately hold numObjects entries.
// Called by the writer while still accumulating objects, before Init
// stamps the trailer.
func PutTableEntry(data []byte, numObjects, i int, key uint64, offset int) {
	n := len(data)
	tableStart := n - storeconfig.OverheadPerBlock - numObjects*storeconfig.OverheadPerObject
	keyOff := tableStart + i*storeconfig.KeySize
	binary.LittleEndian.PutUint64(data[keyOff:], key)
	offOff := tableStart + numObjects*storeconfig.KeySize + i*storeconfig.OffsetSize
	binary.LittleEndian.PutUint16(data[offOff:], uint16(offset))
}

// FindKey performs a linear scan of a non-overlapping block's table for
// key, returning its index and true, or (0, false) if absent. Grounded on
// VariableSizeObjectStore::findKeyWithinNonOverlappingBlock.
func FindKey(v View, key uint64) (index int, ok bool) {
	n := v.NumObjects()
	for i := 0; i < n; i++ {
		if v.Key(i) == key {
			return i, true
		}
	}
	return 0, false
}

// ObjectLength returns the byte length of object i, assuming it does not
// span into the next block: for i < NumObjects()-1 this is the difference
// between consecutive offsets; for the last object it is bounded by
// EmptyPageEnd (spec §4.7 "Hit" case).
func (v View) ObjectLength(i int) int {
	n := v.NumObjects()
	if i < n-1 {
		return v.Offset(i+1) - v.Offset(i)
	}
	return v.EmptyPageEnd() - v.Offset(i)
}

// Metadata is the StoreMetadata record stored at block 0, offset 0 (spec
// §6). It occupies a pseudo-object with key 0 and is skipped by readers.
type Metadata struct {
	Type      storeconfig.StoreType
	NumBlocks uint64
	MaxSize   uint64
}

// MetadataSize is the encoded byte length of a Metadata record.
const MetadataSize = storeconfig.MagicSize + 1 + 2 + 8 + 8

// PutMetadata encodes m into dst, which must be at least MetadataSize bytes.
func PutMetadata(dst []byte, m Metadata) {
	copy(dst, storeconfig.Magic)
	dst[storeconfig.MagicSize] = storeconfig.FormatVersion
	binary.LittleEndian.PutUint16(dst[storeconfig.MagicSize+1:], uint16(m.Type))
	binary.LittleEndian.PutUint64(dst[storeconfig.MagicSize+3:], m.NumBlocks)
	binary.LittleEndian.PutUint64(dst[storeconfig.MagicSize+11:], m.MaxSize)
}

// ParseMetadata decodes a Metadata record from src, validating the magic
// and version. Returns a FormatError-kind error on mismatch.
func ParseMetadata(src []byte) (Metadata, error) {
	magic := string(src[:storeconfig.MagicSize])
	if magic != storeconfig.Magic {
		return Metadata{}, errFormat("bad magic")
	}
	if src[storeconfig.MagicSize] != storeconfig.FormatVersion {
		return Metadata{}, errFormat("unsupported version")
	}
	return Metadata{
		Type:      storeconfig.StoreType(binary.LittleEndian.Uint16(src[storeconfig.MagicSize+1:])),
		NumBlocks: binary.LittleEndian.Uint64(src[storeconfig.MagicSize+3:]),
		MaxSize:   binary.LittleEndian.Uint64(src[storeconfig.MagicSize+11:]),
	}, nil
}
