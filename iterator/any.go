package iterator

import (
	"math/rand"

	"github.com/packedstore/pachash/ioengine"
)

// anyDepth is the number of reads kept simultaneously in flight, matching
// BlockIterator.h's choice of "enough requests that the device queue never
// drains between completions".
const anyDepth = 32

// Any is the unordered iterator: a pool of reads stays in flight and Next
// returns whichever completes first, so callers that tolerate any block
// order (the sorting pass's initial read, for instance) never stall behind
// a single slow block. Order across calls is unspecified by design (spec
// §9: "tests must not depend on it").
type Any struct {
	engine    ioengine.Engine
	blockSize int
	numBlocks uint64

	slots     [][]byte // per-slot single-block buffer, indexed by tag-1
	slotBlock []uint64 // which data-block index each slot currently holds

	blockOrder  []uint64 // issue order (identity, or a random permutation)
	nextIssue   int      // index into blockOrder of the next block to enqueue
	outstanding int      // number of reads currently in flight

	cur     uint64
	curSlot int
	err     error

	reissueSlot int // slot to re-issue at the top of the next Next() call, -1 if none
}

// OpenAny starts an unordered scan. If randomized is true, blocks are
// issued in a random permutation instead of file order, so the device
// queue stays saturated with disjoint ranges rather than one hot region
// (spec §4.4: "randomized (3x depth disjoint ranges)").
func OpenAny(engine ioengine.Engine, blockSize int, numBlocks uint64, randomized bool, rng *rand.Rand) (*Any, error) {
	a := &Any{
		engine:    engine,
		blockSize: blockSize,
		numBlocks: numBlocks,
		slots:       make([][]byte, anyDepth),
		slotBlock:   make([]uint64, anyDepth),
		reissueSlot: -1,
	}
	for i := range a.slots {
		a.slots[i] = make([]byte, blockSize)
	}

	a.blockOrder = make([]uint64, numBlocks)
	if randomized && numBlocks > 0 {
		perm := rng.Perm(int(numBlocks))
		for i, v := range perm {
			a.blockOrder[i] = uint64(v)
		}
	} else {
		for i := range a.blockOrder {
			a.blockOrder[i] = uint64(i)
		}
	}

	depth := anyDepth
	if uint64(depth) > numBlocks {
		depth = int(numBlocks)
	}
	for slot := 0; slot < depth; slot++ {
		if err := a.issue(slot); err != nil {
			return nil, err
		}
	}
	if depth > 0 {
		if err := a.engine.Submit(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// issue enqueues a read of the next not-yet-issued block into slot.
func (a *Any) issue(slot int) error {
	blockIdx := a.blockOrder[a.nextIssue]
	a.nextIssue++
	a.slotBlock[slot] = blockIdx
	fileOffset := int64(blockIdx) * int64(a.blockSize)
	if err := a.engine.EnqueueRead(a.slots[slot], fileOffset, ioengine.Tag(slot+1)); err != nil {
		return err
	}
	a.outstanding++
	return nil
}

func (a *Any) Next() bool {
	if a.err != nil {
		return false
	}
	// Re-issue the slot returned by the previous call only now: the caller
	// has had a full Next()/BlockContent() cycle to consume it, so it's
	// safe to let a synchronous backend overwrite it during this Submit.
	if a.reissueSlot >= 0 {
		if a.nextIssue < len(a.blockOrder) {
			if err := a.issue(a.reissueSlot); err != nil {
				a.err = err
				return false
			}
			if err := a.engine.Submit(); err != nil {
				a.err = err
				return false
			}
		}
		a.reissueSlot = -1
	}
	if a.outstanding == 0 {
		return false
	}
	tag, err := a.engine.AwaitAny()
	if err != nil {
		a.err = err
		return false
	}
	slot := int(tag) - 1
	a.outstanding--
	a.cur = a.slotBlock[slot]
	a.curSlot = slot
	a.reissueSlot = slot
	return true
}

func (a *Any) BlockNumber() uint64 { return a.cur }

func (a *Any) BlockContent() []byte { return a.slots[a.curSlot] }

func (a *Any) Err() error { return a.err }

func (a *Any) Close() error { return nil }
