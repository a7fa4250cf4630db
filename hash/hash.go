// Package hash provides the hash primitives shared by all three engines:
// MurmurHash64A and the fastrange reduction, grounded on
// original_source/include/Hash.h and Util.h.
package hash

import "math/bits"

const (
	murmurSeed = 0xc70f6907
	murmurM    = 0xc6a4a7935bd1e995
	murmurR    = 47
)

// Murmur64A implements Austin Appleby's MurmurHash64A over an 8-byte key,
// matching the original store's MurmurHash64A(const void*, int, uint64).
func Murmur64A(key uint64, seed uint64) uint64 {
	m := uint64(murmurM)
	h := seed ^ (8 * m)

	k := key
	k *= murmurM
	k ^= k >> murmurR
	k *= murmurM

	h ^= k
	h *= murmurM

	h ^= h >> murmurR
	h *= murmurM
	h ^= h >> murmurR
	return h
}

// Seeded combines a key with a probe/hash-function index the way the
// separator and cuckoo engines do: MurmurHash64Seeded(key, index).
func Seeded(key uint64, index uint64) uint64 {
	return Murmur64A(key, murmurSeed+index)
}

// Fastrange64 maps a uniformly distributed 64-bit word into [0, p) via the
// top 64 bits of a 128-bit multiply, avoiding a division on the hot path.
// Unbiased in the sense used by the original store (Lemire's "fast range").
func Fastrange64(word uint64, p uint64) uint64 {
	hi, _ := bits.Mul64(word, p)
	return hi
}
