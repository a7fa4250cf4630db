// Package separator implements C8: the probe-chain hash table with a
// per-block separator threshold, grounded on
// original_source/include/SeparatorObjectStore.h.
package separator

import (
	"math"
	"sort"

	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/hash"
	"github.com/packedstore/pachash/internal/blockpack"
	"github.com/packedstore/pachash/internal/humanize"
	"github.com/packedstore/pachash/internal/log"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/iterator"
	"github.com/packedstore/pachash/storeconfig"
	"github.com/packedstore/pachash/writer"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// Record is one input (key, value) pair presented to Build.
type Record struct {
	Key   uint64
	Value []byte
}

// chainBlock is the hash-family function routing key to a candidate block
// on probe i (spec §4.8).
func chainBlock(key uint64, probe uint64, numBlocks uint64) uint64 {
	return hash.Fastrange64(hash.Seeded(key+1, probe), numBlocks)
}

// sep computes the s-bit separator value for key within candidate block b.
func sep(key, b uint64, s int) uint64 {
	return hash.Fastrange64(hash.Murmur64A(key, b), (uint64(1)<<uint(s))-1)
}

type queuedItem struct {
	key   uint64
	value []byte
	probe uint64
}

type bucketItem struct {
	key   uint64
	value []byte
	sep   uint64
	probe uint64
}

// Build constructs a separator store with s separator bits and the given
// load factor bound, returning ConstructionFailure if any item exceeds
// cfg.MaxProbes displacements (spec §7, §9 Open Questions: the probe
// ceiling is left configurable rather than hardcoded). The returned
// separators table is the frozen per-block threshold a QueryEngine replays
// at query time. It is not stored in the file; RebuildSeparators re-derives
// a query-equivalent table from the file when the store is reopened.
func Build(backend writer.Backend, cfg storeconfig.Config, records []Record) (block.Metadata, []uint64, error) {
	s := cfg.SeparatorBits
	if cfg.LoadFactor <= 0 {
		return block.Metadata{}, nil, pacherrors.New(pacherrors.BadInput, "separator.Build", "load factor must be positive")
	}

	var totalBytes int
	for _, r := range records {
		totalBytes += storeconfig.OverheadPerObject + len(r.Value)
	}
	capacityPerBlock := float64(cfg.BlockSize - storeconfig.OverheadPerBlock)
	numBlocks := uint64(math.Ceil(float64(totalBytes) / (capacityPerBlock * cfg.LoadFactor)))
	if numBlocks == 0 {
		numBlocks = 1
	}
	log.Debug.Printf("separator: placing %d records (%s) across %d blocks, s=%d bits", len(records), humanize.Bytes(uint64(totalBytes)), numBlocks, s)

	buckets := make([][]bucketItem, numBlocks)
	separators := make([]uint64, numBlocks)
	maxSep := (uint64(1) << uint(s)) // strictly above any real sep value: "nothing bumped yet"
	for i := range separators {
		separators[i] = maxSep
	}

	queue := make([]queuedItem, 0, len(records))
	for _, r := range records {
		if r.Key == storeconfig.MetadataKey {
			return block.Metadata{}, nil, pacherrors.New(pacherrors.BadInput, "separator.Build", "key 0 is reserved")
		}
		queue = append(queue, queuedItem{key: r.Key, value: r.Value, probe: 0})
	}

	var maxSize uint64
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.probe > uint64(cfg.MaxProbes) {
			return block.Metadata{}, nil, pacherrors.New(pacherrors.ConstructionFailure, "separator.Build", "exceeded max probes; reduce load factor")
		}
		b := chainBlock(it.key, it.probe, numBlocks)
		itemSep := sep(it.key, b, s)
		if itemSep >= separators[b] {
			queue = append(queue, queuedItem{key: it.key, value: it.value, probe: it.probe + 1})
			continue
		}
		if uint64(len(it.value)) > maxSize {
			maxSize = uint64(len(it.value))
		}
		buckets[b] = append(buckets[b], bucketItem{key: it.key, value: it.value, sep: itemSep, probe: it.probe})

		payloadCapacity := realItemPayloadCapacity(cfg.BlockSize, len(buckets[b]), b == 0)
		if bucketBytes(buckets[b]) > payloadCapacity {
			kept, requeue, cutSep := handleOverflow(buckets[b], payloadCapacity)
			buckets[b] = kept
			separators[b] = cutSep
			for _, ri := range requeue {
				queue = append(queue, queuedItem{key: ri.key, value: ri.value, probe: ri.probe + 1})
			}
		}
	}

	if err := writeBlocks(backend, cfg.BlockSize, numBlocks, buckets); err != nil {
		return block.Metadata{}, nil, err
	}
	log.Debug.Printf("separator: wrote %d blocks, max object size %d bytes", numBlocks, maxSize)

	meta := block.Metadata{Type: storeconfig.SeparatorType(s), NumBlocks: numBlocks, MaxSize: maxSize}
	metaBytes := make([]byte, block.MetadataSize)
	block.PutMetadata(metaBytes, meta)
	n, err := backend.WriteAt(metaBytes, 0)
	if err != nil || n != len(metaBytes) {
		return block.Metadata{}, nil, pacherrors.New(pacherrors.IoError, "separator.Build", err)
	}
	return meta, separators, nil
}

// realItemPayloadCapacity returns how many payload bytes numRealItems real
// entries may occupy in a block, after reserving table-entry overhead for
// all of them (plus the metadata pseudo-entry's table slot and payload on
// block 0).
func realItemPayloadCapacity(blockSize, numRealItems int, isBlockZero bool) int {
	numEntries := numRealItems
	reserve := 0
	if isBlockZero {
		numEntries++
		reserve = block.MetadataSize
	}
	return blockpack.Capacity(blockSize, numEntries) - reserve
}

// bucketBytes sums payload-only bytes; table-entry overhead is already
// subtracted out of payloadCapacity by realItemPayloadCapacity.
func bucketBytes(items []bucketItem) int {
	total := 0
	for _, it := range items {
		total += len(it.value)
	}
	return total
}

// handleOverflow sorts items by separator, keeps the largest prefix that
// fits capacity (bytes, excluding table overhead already accounted for by
// the caller's numItems-aware capacity check), trims any trailing items
// sharing the cut separator value (so the new threshold cleanly excludes
// them all), and returns the kept items, the requeued excluded items, and
// the new separator threshold for this block.
func handleOverflow(items []bucketItem, payloadCapacity int) ([]bucketItem, []bucketItem, uint64) {
	sorted := make([]bucketItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].sep < sorted[j].sep })

	bytesSoFar := 0
	cut := len(sorted)
	for i, it := range sorted {
		need := len(it.value)
		if bytesSoFar+need > payloadCapacity {
			cut = i
			break
		}
		bytesSoFar += need
	}
	if cut == len(sorted) {
		// Capacity check at the call site guarantees this path isn't
		// taken in practice, but guard against a no-op overflow call.
		return sorted, nil, (uint64(1) << 62)
	}
	cutSep := sorted[cut].sep
	keepEnd := cut
	for keepEnd > 0 && sorted[keepEnd-1].sep == cutSep {
		keepEnd--
	}
	return sorted[:keepEnd], sorted[keepEnd:], cutSep
}

// RebuildSeparators rescans an already-written separator file and
// reconstructs its per-block threshold table, grounded on
// original_source/include/SeparatorObjectStore.h's reloadFromFile: a
// block's separators[] entry is never persisted, only re-derived as one
// more than the largest separator value actually present among the keys
// stored in that block (or 0 if the block holds no real keys). This
// matches the threshold construction would have settled on, because the
// per-block threshold only ever decreases during construction and the
// tie-trimming in handleOverflow guarantees every excluded item's
// separator strictly exceeds every kept item's — so a key rejected from a
// block at construction time still computes as rejected against the
// rebuilt, possibly tighter, threshold.
func RebuildSeparators(backend blockfile.Backend, blockSize int, numBlocks uint64, s int) ([]uint64, error) {
	local, ok := backend.(*blockfile.Local)
	if !ok {
		return nil, pacherrors.New(pacherrors.UsageError, "separator.RebuildSeparators", "backend must be a *blockfile.Local for the rescan pass")
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

	separators := make([]uint64, numBlocks)
	for it.Next() {
		b := it.BlockNumber()
		v := block.Parse(it.BlockContent())
		var maxSep int64 = -1
		for i := 0; i < v.NumObjects(); i++ {
			key := v.Key(i)
			if key == storeconfig.MetadataKey {
				continue
			}
			if sv := int64(sep(key, b, s)); sv > maxSep {
				maxSep = sv
			}
		}
		separators[b] = uint64(maxSep + 1)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return separators, nil
}

func writeBlocks(backend writer.Backend, blockSize int, numBlocks uint64, buckets [][]bucketItem) error {
	for b := uint64(0); b < numBlocks; b++ {
		var items []blockpack.Item
		if b == 0 {
			items = append(items, blockpack.Item{Key: storeconfig.MetadataKey, Value: make([]byte, block.MetadataSize)})
		}
		for _, it := range buckets[b] {
			items = append(items, blockpack.Item{Key: it.key, Value: it.value})
		}
		buf, err := blockpack.Pack(blockSize, items)
		if err != nil {
			return err
		}
		if _, err := backend.WriteAt(buf, int64(b)*int64(blockSize)); err != nil {
			return pacherrors.New(pacherrors.IoError, "separator.writeBlocks", err)
		}
	}
	term := blockpack.Empty(blockSize)
	if _, err := backend.WriteAt(term, int64(numBlocks)*int64(blockSize)); err != nil {
		return pacherrors.New(pacherrors.IoError, "separator.writeBlocks", err)
	}
	if err := backend.Truncate(int64(numBlocks+1) * int64(blockSize)); err != nil {
		return pacherrors.New(pacherrors.IoError, "separator.writeBlocks", err)
	}
	return nil
}
