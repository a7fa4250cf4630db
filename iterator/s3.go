package iterator

import (
	"github.com/packedstore/pachash/blockfile"
	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// s3PrefetchBlocks is how many blocks one ranged GetObject call fetches at
// a time, amortizing S3's per-request latency the way a local double
// buffer amortizes a syscall.
const s3PrefetchBlocks = 64

// S3 is the enrichment iterator for a blockfile.S3-backed store: since S3
// objects aren't mappable and don't expose a completion-ring interface,
// scanning instead issues successive ranged reads through the
// blockfile.Backend abstraction (spec §9: "the concrete kernel interface
// is replaceable").
type S3 struct {
	backend   blockfile.Backend
	blockSize int
	numBlocks uint64

	buf        []byte
	batchStart uint64
	batchLen   int
	posInBatch int
	cursor     uint64
	err        error
}

// OpenS3 starts a sequential scan of numBlocks data blocks over backend.
func OpenS3(backend blockfile.Backend, blockSize int, numBlocks uint64) *S3 {
	return &S3{
		backend:   backend,
		blockSize: blockSize,
		numBlocks: numBlocks,
		buf:       make([]byte, s3PrefetchBlocks*blockSize),
	}
}

func (s *S3) Next() bool {
	if s.err != nil {
		return false
	}
	if s.posInBatch >= s.batchLen {
		s.batchStart += uint64(s.batchLen)
		if s.batchStart >= s.numBlocks {
			return false
		}
		n := s.numBlocks - s.batchStart
		if n > s3PrefetchBlocks {
			n = s3PrefetchBlocks
		}
		want := int(n) * s.blockSize
		read, err := s.backend.ReadAt(s.buf[:want], int64(s.batchStart)*int64(s.blockSize))
		if err != nil || read != want {
			if err == nil {
				err = pacherrors.New(pacherrors.IoError, "iterator.S3.Next", "short read")
			}
			s.err = err
			return false
		}
		s.batchLen = int(n)
		s.posInBatch = 0
	}
	s.cursor = s.batchStart + uint64(s.posInBatch)
	s.posInBatch++
	return true
}

func (s *S3) BlockNumber() uint64 { return s.cursor }

func (s *S3) BlockContent() []byte {
	idx := int(s.cursor - s.batchStart)
	start := idx * s.blockSize
	return s.buf[start : start+s.blockSize]
}

func (s *S3) Err() error { return s.err }

func (s *S3) Close() error { return nil }
