// Package store ties together the block/blockfile/ioengine/writer/query
// layers and the three retrieval engines into the single entry point a
// caller actually uses: build a file once with one of the Create
// functions, or Open an existing one, then hand the result's retrieval
// engine to as many per-thread query.Views as needed (spec §4.10:
// "distinct threads use distinct views over the same engine file; each
// view has its own file descriptor and submission queue").
package store

import (
	"math/rand"
	"os"

	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/engine/cuckoo"
	"github.com/packedstore/pachash/engine/pachash"
	"github.com/packedstore/pachash/engine/separator"
	pacherrors "github.com/packedstore/pachash/internal/errors"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/pachashindex"
	"github.com/packedstore/pachash/query"
	"github.com/packedstore/pachash/storeconfig"
)

// Store is an immutable, opened key-value file plus the in-memory index
// its engine type needs to answer queries. The Store itself owns only the
// file descriptor used to build or rebuild that index; each concurrent
// reader should call OpenView for its own file descriptor and submission
// queue (spec §5 "each view owns an I/O submission ring; the ring is not
// thread-safe").
type Store struct {
	path    string
	cfg     storeconfig.Config
	meta    block.Metadata
	engine  query.RetrievalEngine
	bufSize int
	backend *blockfile.Local
}

// Path returns the file path the store was opened from.
func (s *Store) Path() string { return s.path }

// Metadata returns the store's parsed StoreMetadata record.
func (s *Store) Metadata() block.Metadata { return s.meta }

// BufferSize returns the QueryHandle buffer size this store's engine
// requires (varies: one block for separator, two for cuckoo, one sized to
// the largest object's span for PaCHash).
func (s *Store) BufferSize() int { return s.bufSize }

// RetrievalEngine returns the query.RetrievalEngine backing this store,
// shareable read-only across any number of views and threads (spec §5:
// "the in-memory index is immutable after buildIndex; shared across
// views").
func (s *Store) RetrievalEngine() query.RetrievalEngine { return s.engine }

// Close releases the file descriptor the Store itself holds. It does not
// affect any views opened via OpenView, which own independent descriptors.
func (s *Store) Close() error { return s.backend.Close() }

// View is one thread's query pipeline over a Store: its own file
// descriptor, I/O engine, and query.View.
type View struct {
	file  *os.File
	ioeng ioengine.Engine
	*query.View
}

// Close releases the view's I/O engine and file descriptor.
func (v *View) Close() error {
	ioErr := v.ioeng.Close()
	fileErr := v.file.Close()
	if ioErr != nil {
		return ioErr
	}
	return fileErr
}

// OpenView opens a new, independent query.View over s: its own file
// descriptor and I/O engine of the given backend kind, driving depth
// simultaneously in-flight handles.
func (s *Store) OpenView(backend ioengine.Backend, depth int) (*View, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "store.OpenView", err)
	}
	ioeng, err := ioengine.Open(backend, f, depth)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &View{file: f, ioeng: ioeng, View: query.NewView(ioeng, s.engine, depth)}, nil
}

func readMetadata(backend *blockfile.Local) (block.Metadata, error) {
	buf := make([]byte, block.MetadataSize)
	if _, err := backend.ReadAt(buf, 0); err != nil {
		return block.Metadata{}, pacherrors.New(pacherrors.IoError, "store.Open", err)
	}
	return block.ParseMetadata(buf)
}

// Open opens an existing store file at path, dispatching on its
// StoreMetadata.Type to rebuild whichever in-memory index that engine
// needs (spec §4: "built during buildIndex and destroyed with the
// engine"): PaCHash rescans to rebuild its predecessor index, separator
// rescans to rebuild its per-block threshold table, cuckoo needs no index
// at all. cfg must match the geometry the file was built with (BlockSize,
// ObjectsPerBin, MaxProbes); NumBlocks and MaxSize are read from the file
// itself and need not be supplied.
func Open(path string, cfg storeconfig.Config, newIndexBuilder func(numBlocks int, numBins uint64) pachashindex.Builder) (*Store, error) {
	backend, err := blockfile.OpenLocal(path)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "store.Open", err)
	}
	meta, err := readMetadata(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	switch {
	case meta.Type == storeconfig.TypeCuckoo:
		qe := cuckoo.NewQueryEngine(meta.NumBlocks, cfg.BlockSize)
		return &Store{path: path, cfg: cfg, meta: meta, engine: qe, bufSize: cuckoo.BufferSize(cfg.BlockSize), backend: backend}, nil

	case meta.Type == storeconfig.TypePaCHashBase:
		numBins := meta.NumBlocks * uint64(cfg.ObjectsPerBin)
		if numBins == 0 {
			numBins = 1
		}
		if newIndexBuilder == nil {
			newIndexBuilder = pachashindex.NewEliasFanoBuilder
		}
		idx, err := pachash.BuildIndex(backend, cfg.BlockSize, meta.NumBlocks, numBins, newIndexBuilder)
		if err != nil {
			backend.Close()
			return nil, err
		}
		qe := pachash.NewQueryEngine(idx, cfg.BlockSize, numBins)
		return &Store{path: path, cfg: cfg, meta: meta, engine: qe, bufSize: pachash.BufferSize(cfg.BlockSize, meta.MaxSize), backend: backend}, nil

	case meta.Type >= storeconfig.TypeSeparatorBase:
		s := int(meta.Type - storeconfig.TypeSeparatorBase)
		seps, err := separator.RebuildSeparators(backend, cfg.BlockSize, meta.NumBlocks, s)
		if err != nil {
			backend.Close()
			return nil, err
		}
		qe := separator.NewQueryEngine(seps, cfg.BlockSize, s, cfg.MaxProbes)
		return &Store{path: path, cfg: cfg, meta: meta, engine: qe, bufSize: separator.BufferSize(cfg.BlockSize), backend: backend}, nil

	default:
		backend.Close()
		return nil, pacherrors.New(pacherrors.FormatError, "store.Open", "unrecognized store type")
	}
}

// CreatePaCHash builds a new PaCHash store at path from records and opens
// it for querying, reusing the index Build already computed in memory
// rather than rescanning.
func CreatePaCHash(path string, cfg storeconfig.Config, records []pachash.Record, newIndexBuilder func(numBlocks int, numBins uint64) pachashindex.Builder) (*Store, error) {
	backend, err := blockfile.CreateLocal(path)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "store.CreatePaCHash", err)
	}
	if newIndexBuilder == nil {
		newIndexBuilder = pachashindex.NewEliasFanoBuilder
	}
	meta, idx, err := pachash.Build(backend, cfg, records, newIndexBuilder)
	if err != nil {
		backend.Close()
		return nil, err
	}
	numBins := meta.NumBlocks * uint64(cfg.ObjectsPerBin)
	if numBins == 0 {
		numBins = 1
	}
	qe := pachash.NewQueryEngine(idx, cfg.BlockSize, numBins)
	return &Store{path: path, cfg: cfg, meta: meta, engine: qe, bufSize: pachash.BufferSize(cfg.BlockSize, meta.MaxSize), backend: backend}, nil
}

// CreateSeparator builds a new separator store at path from records and
// opens it for querying.
func CreateSeparator(path string, cfg storeconfig.Config, records []separator.Record) (*Store, error) {
	backend, err := blockfile.CreateLocal(path)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "store.CreateSeparator", err)
	}
	meta, seps, err := separator.Build(backend, cfg, records)
	if err != nil {
		backend.Close()
		return nil, err
	}
	qe := separator.NewQueryEngine(seps, cfg.BlockSize, cfg.SeparatorBits, cfg.MaxProbes)
	return &Store{path: path, cfg: cfg, meta: meta, engine: qe, bufSize: separator.BufferSize(cfg.BlockSize), backend: backend}, nil
}

// CreateCuckoo builds a new cuckoo store at path from records and opens
// it for querying.
func CreateCuckoo(path string, cfg storeconfig.Config, records []cuckoo.Record, rng *rand.Rand) (*Store, error) {
	backend, err := blockfile.CreateLocal(path)
	if err != nil {
		return nil, pacherrors.New(pacherrors.IoError, "store.CreateCuckoo", err)
	}
	meta, err := cuckoo.Build(backend, cfg, records, rng)
	if err != nil {
		backend.Close()
		return nil, err
	}
	qe := cuckoo.NewQueryEngine(meta.NumBlocks, cfg.BlockSize)
	return &Store{path: path, cfg: cfg, meta: meta, engine: qe, bufSize: cuckoo.BufferSize(cfg.BlockSize), backend: backend}, nil
}
