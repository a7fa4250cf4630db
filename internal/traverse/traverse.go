// Package traverse provides bounded concurrent/parallel fan-out over an
// index range, adapted from the teacher repository's traverse package. The
// Reporter/status progress-printing machinery is dropped (construction
// progress here goes through internal/log instead); the core Range/Each
// shape is preserved because internal/psort's parallel merge sort depends
// on it.
package traverse

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

type panicErr struct {
	v     interface{}
	stack []byte
}

func (p panicErr) Error() string { return fmt.Sprint(p.v) }

// T is a bounded traversal of a given length.
type T struct {
	n, maxConcurrent int
}

// Each creates a traversal of length n with unlimited concurrency.
func Each(n int) T { return T{n, n} }

// Parallel creates a traversal of length n limited to runtime.NumCPU().
func Parallel(n int) T { return Each(n).Limit(runtime.NumCPU()) }

// Limit caps the concurrency of the traversal.
func (t T) Limit(maxConcurrent int) T {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	t.maxConcurrent = maxConcurrent
	return t
}

// Do invokes op for each index in [0, t.n), stopping early and returning the
// first non-nil error. Panics inside op are converted to errors and
// re-panicked in the calling goroutine with the original stack attached.
func (t T) Do(op func(i int) error) error {
	if t.n == 0 {
		return nil
	}
	maxConcurrent := t.maxConcurrent
	if maxConcurrent > t.n {
		maxConcurrent = t.n
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		firstMu sync.Mutex
		first   error
		x       int64 = -1
	)
	setErr := func(err error) {
		errOnce.Do(func() {
			firstMu.Lock()
			first = err
			firstMu.Unlock()
		})
	}
	wg.Add(maxConcurrent)
	for w := 0; w < maxConcurrent; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&x, 1))
				if i >= t.n {
					return
				}
				firstMu.Lock()
				stop := first != nil
				firstMu.Unlock()
				if stop {
					return
				}
				if err := call(op, i); err != nil {
					setErr(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if p, ok := first.(panicErr); ok {
		panic(fmt.Sprintf("traverse child: %v\n%s", p.v, p.stack))
	}
	return first
}

func call(op func(i int) error, i int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicErr{p, debug.Stack()}
		}
	}()
	return op(i)
}

// Range invokes op once per shard of [0, n), sharding the range into at
// most t.maxConcurrent contiguous pieces. Useful when per-element overhead
// dominates and amortizing setup across a shard matters (e.g. one freelist
// buffer reused across a contiguous range of blocks).
func (t T) Range(n int, op func(start, end int) error) error {
	if n == 0 {
		return nil
	}
	shards := t.maxConcurrent
	if shards > n {
		shards = n
	}
	if shards < 1 {
		shards = 1
	}
	shardSize := (n + shards - 1) / shards
	return T{n: shards, maxConcurrent: shards}.Do(func(i int) error {
		start := i * shardSize
		end := start + shardSize
		if end > n {
			end = n
		}
		if start >= end {
			return nil
		}
		return op(start, end)
	})
}
