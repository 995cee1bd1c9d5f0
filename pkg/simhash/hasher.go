// Package simhash implements the weighted 128-bit SimHash used to fingerprint
// disassembled functions.
//
// The construction is the standard random-hyperplane LSH: every feature owns a
// fixed pseudo-random 128-bit projection pattern, each bit of which supplies a
// +1/-1 sign. For every output bit the hasher accumulates the signed sum of the
// feature weights and emits 1 when the sum is positive. Functions with similar
// weighted feature multisets therefore land at small Hamming distance with
// high probability, while the projection patterns never need to be stored:
// they are re-derived from the feature identity with seeded xxhash.
package simhash

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// FingerprintBits is the fixed output width of the hasher. The on-disk index
// format encodes this width in its manifest; it is not tunable at runtime.
const FingerprintBits = 128

// Projection seeds for the low and high 64 output bits. Changing either value
// invalidates every fingerprint ever persisted, so they are frozen.
const (
	projectionSeedLo = 0x9ae16a3b2f90404f
	projectionSeedHi = 0xc3a5c85c97cb3127
)

// FeatureKind classifies where a feature came from. The weight table assigns
// a default weight per kind.
type FeatureKind uint8

const (
	// KindGraphlet is a 3-node control-flow subgraph shape.
	KindGraphlet FeatureKind = iota
	// KindMnemonic is an instruction-mnemonic trigram.
	KindMnemonic
	// KindImmediate is an immediate operand value.
	KindImmediate

	numFeatureKinds = 3
)

func (k FeatureKind) String() string {
	switch k {
	case KindGraphlet:
		return "graphlet"
	case KindMnemonic:
		return "mnemonic"
	case KindImmediate:
		return "immediate"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Feature is one element of a function's weighted feature multiset. The ID is
// an opaque 64-bit identity produced by the feature generator; equal IDs are
// the same feature. The same feature may occur multiple times for one
// function, each occurrence contributing its weight again.
type Feature struct {
	ID   uint64
	Kind FeatureKind
}

// Fingerprint is a 128-bit SimHash value. Output bits 0-63 live in A
// (bit i at A>>i&1), bits 64-127 in B. The split is part of the persisted
// index format and must stay stable across versions.
type Fingerprint struct {
	A uint64
	B uint64
}

// Distance returns the Hamming distance between two fingerprints.
func (f Fingerprint) Distance(o Fingerprint) int {
	return bits.OnesCount64(f.A^o.A) + bits.OnesCount64(f.B^o.B)
}

// Similarity maps the Hamming distance to [0,1], 1 meaning identical.
func (f Fingerprint) Similarity(o Fingerprint) float64 {
	return 1 - float64(f.Distance(o))/FingerprintBits
}

func (f Fingerprint) IsZero() bool { return f.A == 0 && f.B == 0 }

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x%016x", f.A, f.B)
}

// projectionWords derives the fixed 128-bit projection pattern for a feature.
// Bit i of lo is the sign for output bit i, bit i of hi the sign for output
// bit 64+i. Deterministic for a given feature ID across processes.
func projectionWords(id uint64) (lo, hi uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)

	dl := xxhash.NewWithSeed(projectionSeedLo)
	dl.Write(buf[:])
	dh := xxhash.NewWithSeed(projectionSeedHi)
	dh.Write(buf[:])
	return dl.Sum64(), dh.Sum64()
}

// Hasher turns weighted feature multisets into fingerprints. It is pure and
// safe for concurrent use; the weight table it holds is immutable after load.
type Hasher struct {
	weights *WeightTable
}

// NewHasher returns a hasher using the given weight table. A nil table means
// the built-in default weights.
func NewHasher(w *WeightTable) *Hasher {
	if w == nil {
		w = DefaultWeights()
	}
	return &Hasher{weights: w}
}

// Hash computes the 128-bit weighted SimHash of a feature multiset.
// Identical multisets always produce identical fingerprints. The empty
// multiset produces the zero fingerprint.
func (h *Hasher) Hash(features []Feature) Fingerprint {
	var sums [FingerprintBits]float64

	for _, ft := range features {
		w := h.weights.Weight(ft)
		if w == 0 {
			continue
		}
		lo, hi := projectionWords(ft.ID)
		for i := 0; i < 64; i++ {
			if lo>>uint(i)&1 == 1 {
				sums[i] += w
			} else {
				sums[i] -= w
			}
			if hi>>uint(i)&1 == 1 {
				sums[64+i] += w
			} else {
				sums[64+i] -= w
			}
		}
	}

	var fp Fingerprint
	for i := 0; i < 64; i++ {
		if sums[i] > 0 {
			fp.A |= 1 << uint(i)
		}
		if sums[64+i] > 0 {
			fp.B |= 1 << uint(i)
		}
	}
	return fp
}
