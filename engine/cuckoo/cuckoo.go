// Package cuckoo implements C9: the parallel two-candidate-block cuckoo
// hashing engine, grounded on original_source/include/CuckooHashObjectStore.h.
// Two independent hash functions route every key to a pair of candidate
// blocks; construction displaces colliding items between their own pair of
// candidates (never widening past 2), and queries read both candidates in
// parallel, relying on the invariant that a stored key always sits in one
// of the two blocks its own hashes name.
package cuckoo

import (
	"math"
	"math/rand"
	"sort"

	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/hash"
	"github.com/packedstore/pachash/internal/blockpack"
	"github.com/packedstore/pachash/internal/humanize"
	"github.com/packedstore/pachash/internal/log"
	"github.com/packedstore/pachash/storeconfig"
	"github.com/packedstore/pachash/writer"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// Record is one input (key, value) pair presented to Build.
type Record struct {
	Key   uint64
	Value []byte
}

// candidateBlock is the hash family routing key to its hf-th (hf in {0,1})
// candidate block.
func candidateBlock(key uint64, hf int, numBlocks uint64) uint64 {
	return hash.Fastrange64(hash.Seeded(key, uint64(hf)), numBlocks)
}

type queuedItem struct {
	key           uint64
	value         []byte
	hf            int
	displacements int
}

type bucketItem struct {
	key   uint64
	value []byte
	hf    int // which of the item's two candidates this bucket is
}

// Build constructs a cuckoo store at the given load factor bound, evicting
// a uniformly random occupant on overflow and flipping its candidate slot
// before requeueing it. Returns ConstructionFailure if any single item
// accumulates more than cfg.MaxProbes displacements.
func Build(backend writer.Backend, cfg storeconfig.Config, records []Record, rng *rand.Rand) (block.Metadata, error) {
	if cfg.LoadFactor <= 0 {
		return block.Metadata{}, pacherrors.New(pacherrors.BadInput, "cuckoo.Build", "load factor must be positive")
	}

	var totalBytes int
	for _, r := range records {
		totalBytes += storeconfig.OverheadPerObject + len(r.Value)
	}
	capacityPerBlock := float64(cfg.BlockSize - storeconfig.OverheadPerBlock)
	numBlocks := uint64(math.Ceil(float64(totalBytes) / (capacityPerBlock * cfg.LoadFactor)))
	if numBlocks < 2 {
		numBlocks = 2
	}
	log.Debug.Printf("cuckoo: placing %d records (%s) across %d blocks", len(records), humanize.Bytes(uint64(totalBytes)), numBlocks)

	buckets := make([][]bucketItem, numBlocks)

	queue := make([]queuedItem, 0, len(records))
	for _, r := range records {
		if r.Key == storeconfig.MetadataKey {
			return block.Metadata{}, pacherrors.New(pacherrors.BadInput, "cuckoo.Build", "key 0 is reserved")
		}
		queue = append(queue, queuedItem{key: r.Key, value: r.Value, hf: 0})
	}

	var maxSize uint64
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if it.displacements > cfg.MaxProbes {
			return block.Metadata{}, pacherrors.New(pacherrors.ConstructionFailure, "cuckoo.Build", "exceeded max displacements; reduce load factor")
		}
		if uint64(len(it.value)) > maxSize {
			maxSize = uint64(len(it.value))
		}
		b := candidateBlock(it.key, it.hf, numBlocks)

		candidate := append(buckets[b], bucketItem{key: it.key, value: it.value, hf: it.hf})
		payloadCapacity := realItemPayloadCapacity(cfg.BlockSize, len(candidate), b == 0)
		if bucketBytes(candidate) <= payloadCapacity {
			buckets[b] = candidate
			continue
		}

		// Evict a uniformly random current occupant to make room, then
		// requeue it against its other candidate block.
		victimIdx := rng.Intn(len(buckets[b]))
		victim := buckets[b][victimIdx]
		replaced := make([]bucketItem, 0, len(buckets[b]))
		replaced = append(replaced, buckets[b][:victimIdx]...)
		replaced = append(replaced, buckets[b][victimIdx+1:]...)
		replaced = append(replaced, bucketItem{key: it.key, value: it.value, hf: it.hf})
		buckets[b] = replaced

		queue = append(queue, queuedItem{
			key:           victim.key,
			value:         victim.value,
			hf:            1 - victim.hf,
			displacements: it.displacements + 1,
		})
	}

	if err := writeBlocks(backend, cfg.BlockSize, numBlocks, buckets); err != nil {
		return block.Metadata{}, err
	}
	log.Debug.Printf("cuckoo: wrote %d blocks, max object size %d bytes", numBlocks, maxSize)

	meta := block.Metadata{Type: storeconfig.TypeCuckoo, NumBlocks: numBlocks, MaxSize: maxSize}
	metaBytes := make([]byte, block.MetadataSize)
	block.PutMetadata(metaBytes, meta)
	n, err := backend.WriteAt(metaBytes, 0)
	if err != nil || n != len(metaBytes) {
		return block.Metadata{}, pacherrors.New(pacherrors.IoError, "cuckoo.Build", err)
	}
	return meta, nil
}

// realItemPayloadCapacity returns how many payload bytes numRealItems real
// entries may occupy in a block, mirroring engine/separator's helper of the
// same name: table overhead for all numRealItems is reserved, plus the
// metadata pseudo-entry's table slot and payload on block 0.
func realItemPayloadCapacity(blockSize, numRealItems int, isBlockZero bool) int {
	numEntries := numRealItems
	reserve := 0
	if isBlockZero {
		numEntries++
		reserve = block.MetadataSize
	}
	return blockpack.Capacity(blockSize, numEntries) - reserve
}

func bucketBytes(items []bucketItem) int {
	total := 0
	for _, it := range items {
		total += len(it.value)
	}
	return total
}

func writeBlocks(backend writer.Backend, blockSize int, numBlocks uint64, buckets [][]bucketItem) error {
	for b := uint64(0); b < numBlocks; b++ {
		bucket := buckets[b]
		sorted := make([]bucketItem, len(bucket))
		copy(sorted, bucket)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].key < sorted[j].key })

		var items []blockpack.Item
		if b == 0 {
			items = append(items, blockpack.Item{Key: storeconfig.MetadataKey, Value: make([]byte, block.MetadataSize)})
		}
		for _, it := range sorted {
			items = append(items, blockpack.Item{Key: it.key, Value: it.value})
		}
		buf, err := blockpack.Pack(blockSize, items)
		if err != nil {
			return err
		}
		if _, err := backend.WriteAt(buf, int64(b)*int64(blockSize)); err != nil {
			return pacherrors.New(pacherrors.IoError, "cuckoo.writeBlocks", err)
		}
	}
	term := blockpack.Empty(blockSize)
	if _, err := backend.WriteAt(term, int64(numBlocks)*int64(blockSize)); err != nil {
		return pacherrors.New(pacherrors.IoError, "cuckoo.writeBlocks", err)
	}
	if err := backend.Truncate(int64(numBlocks+1) * int64(blockSize)); err != nil {
		return pacherrors.New(pacherrors.IoError, "cuckoo.writeBlocks", err)
	}
	return nil
}
