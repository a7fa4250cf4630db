// Package pachash implements C7: the predecessor-index retrieval engine,
// grounded on original_source/include/PaCHashObjectStore.h. Construction
// sorts records by hashed key, streams them densely through the writer,
// then rescans the written file to build a PaCHash index over each
// block's first bin; queries use that index to bound a single contiguous
// read to the blocks that could hold the key.
package pachash

import (
	"runtime"

	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/hash"
	"github.com/packedstore/pachash/internal/humanize"
	"github.com/packedstore/pachash/internal/log"
	"github.com/packedstore/pachash/internal/psort"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/iterator"
	"github.com/packedstore/pachash/pachashindex"
	"github.com/packedstore/pachash/query"
	"github.com/packedstore/pachash/storeconfig"
	"github.com/packedstore/pachash/writer"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// Record is one input (key, value) pair presented to Build.
type Record struct {
	Key   uint64
	Value []byte
}

// HashedKey is the uniformly-distributed value key2bin operates on, and the
// order a PaCHash file's objects are actually laid out in on disk; the
// original keys stored in the block table stay the caller's raw keys so
// query-time FindKey equality checks remain exact. Exported so callers
// that must produce or merge PaCHash-ordered input (package linear) use
// the identical ordering.
func HashedKey(key uint64) uint64 { return hash.Murmur64A(key, 0) }

// key2bin maps a hashed key into [0, numBins) via a 128-bit multiply-high
// (spec §4.7: "no division on the hot path").
func key2bin(key uint64, numBins uint64) uint64 {
	return hash.Fastrange64(HashedKey(key), numBins)
}

// Build sorts records by hashed key, streams them into backend via the
// streaming writer, and rescans the result to build the predecessor
// index. newIndexBuilder selects which pachashindex.Builder constructor to
// use (pachashindex.NewEliasFanoBuilder and friends).
func Build(backend writer.Backend, cfg storeconfig.Config, records []Record, newIndexBuilder func(numBlocks int, numBins uint64) pachashindex.Builder) (block.Metadata, pachashindex.Index, error) {
	var totalBytes int
	for _, r := range records {
		totalBytes += storeconfig.OverheadPerObject + len(r.Value)
	}
	log.Debug.Printf("pachash: sorting %d records (%s) by hashed key", len(records), humanize.Bytes(uint64(totalBytes)))

	perm := psort.Slice(len(records), func(i, j int) bool {
		return HashedKey(records[i].Key) < HashedKey(records[j].Key)
	}, runtime.NumCPU())

	w := writer.New(backend, cfg)
	for i, p := range perm {
		r := records[p]
		if err := w.Write(r.Key, r.Value); err != nil {
			return block.Metadata{}, nil, err
		}
		if i%65536 == 0 {
			log.Debug.Printf("pachash: wrote %d/%d records", i, len(records))
		}
	}
	numBlocks, maxSize, err := w.Close(storeconfig.TypePaCHashBase)
	if err != nil {
		return block.Metadata{}, nil, err
	}

	numBins := numBlocks * uint64(cfg.ObjectsPerBin)
	if numBins == 0 {
		numBins = 1
	}
	idx, err := BuildIndex(backend, cfg.BlockSize, numBlocks, numBins, newIndexBuilder)
	if err != nil {
		return block.Metadata{}, nil, err
	}

	log.Debug.Printf("pachash: built index over %d blocks, %s index space", numBlocks, humanize.Bytes(uint64(idx.Space()/8)))
	return block.Metadata{Type: storeconfig.TypePaCHashBase, NumBlocks: numBlocks, MaxSize: maxSize}, idx, nil
}

// BuildIndex rescans an already-written, hashed-key-ordered PaCHash file
// block by block (spec §4.7 step 3), pushing each block's effective first
// bin into idx, applying the "gap" optimization: a block that opens
// mid-span (or whose leading object's bin doesn't exceed the running last
// bin) simply repeats the previous value, keeping the sequence
// non-decreasing without wasting a distinct index entry on an empty bin
// range. Exported so callers that wrote a PaCHash file without going
// through Build (package linear's Merge) can build its index afterward.
func BuildIndex(backend writer.Backend, blockSize int, numBlocks uint64, numBins uint64, newIndexBuilder func(int, uint64) pachashindex.Builder) (pachashindex.Index, error) {
	local, ok := backend.(*blockfile.Local)
	if !ok {
		return nil, pacherrors.New(pacherrors.UsageError, "pachash.BuildIndex", "backend must be a *blockfile.Local for the rescan pass")
	}
	engine, err := ioengine.Open(ioengine.Sync, local.File(), 4)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	it, err := iterator.OpenDoubleBuffer(engine, blockSize, numBlocks)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	b := newIndexBuilder(int(numBlocks), numBins)
	var runningLastBin uint64
	for it.Next() {
		v := block.Parse(it.BlockContent())
		firstBin, lastBin, hasReal := scanRealBins(v, numBins)

		blockBin := runningLastBin
		if hasReal && v.NumObjects() > 0 && firstRealOffsetIsZero(v) && firstBin > runningLastBin {
			blockBin = firstBin
		}
		b.PushBack(blockBin)
		if hasReal {
			runningLastBin = lastBin
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// firstRealOffsetIsZero reports whether the first non-metadata table
// entry in v starts at byte offset 0, i.e. a new object begins at the very
// front of the block rather than the block opening with a spanning
// continuation.
func firstRealOffsetIsZero(v block.View) bool {
	n := v.NumObjects()
	for i := 0; i < n; i++ {
		if v.Key(i) == storeconfig.MetadataKey {
			continue
		}
		return v.Offset(i) == 0
	}
	return false
}

// scanRealBins returns the bin of the first and last non-metadata object
// whose table entry starts in v, and whether any such object exists.
func scanRealBins(v block.View, numBins uint64) (first, last uint64, ok bool) {
	n := v.NumObjects()
	for i := 0; i < n; i++ {
		key := v.Key(i)
		if key == storeconfig.MetadataKey {
			continue
		}
		bin := key2bin(key, numBins)
		if !ok {
			first = bin
			ok = true
		}
		last = bin
	}
	return first, last, ok
}
