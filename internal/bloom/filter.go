// Package bloom implements the probabilistic membership filter used by the
// sync protocol to advertise "what I have" without shipping full ID lists.
//
// The filter answers definitively-no or possibly-yes: false positives are
// possible, false negatives are not. The protocol leans on exactly that
// asymmetry - a positive answer only ever suppresses a HAVE offer, it never
// drops an absent event from consideration, because the requesting side
// compensates via WANT.
package bloom

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// DefaultHashCount is the number of hash rounds used by sync inventories.
const DefaultHashCount = 3

// MinSizeBits is the floor on filter size. Small filters saturate quickly,
// so inventories never go below this even for near-empty logs.
const MinSizeBits = 1024

// goldenRatio64 is the 64-bit golden ratio constant (2^64 / phi), used to
// derive independent hash rounds from a single hash function.
const goldenRatio64 = 0x9e3779b97f4a7c15

// Filter is a fixed-size bit array with k seeded hash rounds.
// There is no removal operation: filters are rebuilt per sync round.
type Filter struct {
	size      uint32 // size in bits
	hashCount uint32
	bits      []byte
}

// Export is the wire representation of a filter, carried inside INV messages.
type Export struct {
	Size      uint32 `json:"size"`
	HashCount uint32 `json:"hash_count"`
	Bits      []byte `json:"bits"`
}

// New creates a filter with the given size in bits and hash rounds.
// Zero values fall back to MinSizeBits and DefaultHashCount.
func New(sizeBits, hashCount uint32) *Filter {
	if sizeBits == 0 {
		sizeBits = MinSizeBits
	}
	if hashCount == 0 {
		hashCount = DefaultHashCount
	}
	return &Filter{
		size:      sizeBits,
		hashCount: hashCount,
		bits:      make([]byte, (sizeBits+7)/8),
	}
}

// SizeFor returns the filter size in bits for n expected members:
// max(1024, 10n). At 10 bits per member with 3 hash rounds the
// false-positive rate stays low without callers tuning parameters.
func SizeFor(n int) uint32 {
	if n <= 0 {
		return MinSizeBits
	}
	size := uint32(n) * 10
	if size < MinSizeBits {
		return MinSizeBits
	}
	return size
}

// Add sets the bits for item. Never fails.
func (f *Filter) Add(item string) {
	for round := uint32(0); round < f.hashCount; round++ {
		idx := f.bitIndex(item, round)
		f.bits[idx/8] |= 1 << (idx % 8)
	}
}

// MightContain reports whether item may be in the set.
// A false result is definitive; a true result may be a false positive.
func (f *Filter) MightContain(item string) bool {
	for round := uint32(0); round < f.hashCount; round++ {
		idx := f.bitIndex(item, round)
		if f.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// bitIndex computes the bit position for one hash round. Each round seeds
// FNV-64a with round * goldenRatio64 so the rounds behave as independent
// hash functions over the same input.
func (f *Filter) bitIndex(item string, round uint32) uint32 {
	h := fnv.New64a()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], uint64(round)*goldenRatio64)
	h.Write(seed[:])
	h.Write([]byte(item))
	return uint32(h.Sum64() % uint64(f.size))
}

// Size returns the filter size in bits.
func (f *Filter) Size() uint32 { return f.size }

// HashCount returns the number of hash rounds.
func (f *Filter) HashCount() uint32 { return f.hashCount }

// Export snapshots the filter for transmission. The bit array is copied so
// the export is immune to later Add calls.
func (f *Filter) Export() Export {
	bits := make([]byte, len(f.bits))
	copy(bits, f.bits)
	return Export{
		Size:      f.size,
		HashCount: f.hashCount,
		Bits:      bits,
	}
}

// Import reconstructs a filter from its wire representation.
func Import(data Export) (*Filter, error) {
	if data.Size == 0 {
		return nil, fmt.Errorf("bloom import: zero size")
	}
	if data.HashCount == 0 {
		return nil, fmt.Errorf("bloom import: zero hash count")
	}
	want := int((data.Size + 7) / 8)
	if len(data.Bits) != want {
		return nil, fmt.Errorf("bloom import: %d bits field bytes, want %d for size %d", len(data.Bits), want, data.Size)
	}
	bits := make([]byte, len(data.Bits))
	copy(bits, data.Bits)
	return &Filter{
		size:      data.Size,
		hashCount: data.HashCount,
		bits:      bits,
	}, nil
}
