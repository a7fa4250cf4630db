// Package iterator implements C4: three interchangeable forward scans over
// a block file, grounded on original_source/include/BlockIterator.h. All
// three expose the same minimal contract so construction code (sorting
// pass, rescan pass for buildIndex, the k-way merge in package linear) can
// be written once and handed whichever concrete iterator fits the
// available kernel interface.
package iterator

// Iterator is a lazy forward scan over a block file's data blocks. Block 0
// is included (it carries StoreMetadata as a pseudo-object but may also
// hold real records); only the trailing terminator block is excluded.
type Iterator interface {
	// Next advances to the next block, returning false once the scan is
	// exhausted (or on a fatal I/O error, retrievable via Err).
	Next() bool
	// BlockNumber returns the 0-based data-block index of the block Next
	// most recently advanced to.
	BlockNumber() uint64
	// BlockContent returns the current block's raw bytes. Valid only until
	// the next call to Next.
	BlockContent() []byte
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases the iterator's resources (it does not close the
	// underlying file or engine, which the caller owns).
	Close() error
}
