// Package psort provides a parallel merge sort over a permutation of
// indices, adapted from the teacher repository's psort package. It is the
// Go analog of the original store's use of ips2ra::sort to presort records
// by hashed key before streaming them into the block writer (spec §4.7
// step 1).
package psort

import (
	"sort"
	"sync"

	"github.com/packedstore/pachash/internal/traverse"
)

const serialThreshold = 128

// Slice sorts perm, a permutation of [0, n), according to less, using up to
// parallelism goroutines. Callers apply the resulting permutation to their
// own parallel slices (key, length, value) since Go generics were avoided
// here in favor of the teacher's original reflection-free index-permutation
// approach, specialized to []int instead of interface{} since every caller
// in this module already sorts by an integer key.
func Slice(n int, less func(i, j int) bool, parallelism int) []int {
	if parallelism < 1 {
		parallelism = 1
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if n < 2 {
		return perm
	}
	scratch := make([]int, n)
	mergeSort(perm, less, parallelism, scratch)
	return perm
}

func mergeSort(perm []int, less func(i, j int) bool, parallelism int, scratch []int) {
	if parallelism == 1 || len(perm) < serialThreshold {
		sortSerial(perm, less)
		return
	}
	left := perm[:len(perm)/2]
	right := perm[len(perm)/2:]
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		mergeSort(left, less, (parallelism+1)/2, scratch[:len(perm)/2])
		wg.Done()
	}()
	mergeSort(right, less, parallelism/2, scratch[len(perm)/2:])
	wg.Wait()

	merge(left, right, less, parallelism, scratch)
	parallelCopy(perm, scratch, parallelism)
}

func parallelCopy(dst, src []int, parallelism int) {
	_ = traverse.T{}.Limit(parallelism).Range(len(dst), func(start, end int) error {
		copy(dst[start:end], src[start:end])
		return nil
	})
}

func sortSerial(perm []int, less func(i, j int) bool) {
	sort.Slice(perm, func(i, j int) bool { return less(perm[i], perm[j]) })
}

func merge(perm1, perm2 []int, less func(i, j int) bool, parallelism int, out []int) {
	if parallelism == 1 || len(perm1)+len(perm2) < serialThreshold {
		mergeSerial(perm1, perm2, less, out)
		return
	}
	if len(perm1) < len(perm2) {
		perm1, perm2 = perm2, perm1
	}
	r := len(perm1) / 2
	s := sort.Search(len(perm2), func(i int) bool { return !less(perm2[i], perm1[r]) })
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		merge(perm1[:r], perm2[:s], less, (parallelism+1)/2, out[:r+s])
		wg.Done()
	}()
	merge(perm1[r:], perm2[s:], less, parallelism/2, out[r+s:])
	wg.Wait()
}

func mergeSerial(perm1, perm2 []int, less func(i, j int) bool, out []int) {
	var i1, i2, iOut int
	for i1 < len(perm1) && i2 < len(perm2) {
		if less(perm1[i1], perm2[i2]) {
			out[iOut] = perm1[i1]
			i1++
		} else {
			out[iOut] = perm2[i2]
			i2++
		}
		iOut++
	}
	for i1 < len(perm1) {
		out[iOut] = perm1[i1]
		i1++
		iOut++
	}
	for i2 < len(perm2) {
		out[iOut] = perm2[i2]
		i2++
		iOut++
	}
}
