package simhash_test

import (
	"math/rand"
	"testing"

	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
	"github.com/wwzcrack/functionsimsearch/pkg/testutil"
)

func TestHashDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	feats := testutil.RandomFeatures(t, rng, 200)
	h := simhash.NewHasher(nil)

	first := h.Hash(feats)
	for i := 0; i < 10; i++ {
		if got := h.Hash(feats); got != first {
			t.Fatalf("call %d: fingerprint changed: %v != %v", i, got, first)
		}
	}

	// A second hasher over the same weights must agree: the projection is
	// derived from the feature identity, not from hasher state.
	if got := simhash.NewHasher(nil).Hash(feats); got != first {
		t.Fatalf("fresh hasher disagrees: %v != %v", got, first)
	}
}

func TestHashEmptyMultiset(t *testing.T) {
	h := simhash.NewHasher(nil)
	got := h.Hash(nil)
	if !got.IsZero() {
		t.Fatalf("empty multiset: got %v, want zero fingerprint", got)
	}
	if got2 := h.Hash([]simhash.Feature{}); got2 != got {
		t.Fatalf("empty slice and nil disagree: %v != %v", got2, got)
	}
}

func TestHashOrderIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	feats := testutil.RandomFeatures(t, rng, 64)
	h := simhash.NewHasher(nil)
	want := h.Hash(feats)

	shuffled := append([]simhash.Feature(nil), feats...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if got := h.Hash(shuffled); got != want {
		t.Fatalf("fingerprint depends on feature order: %v != %v", got, want)
	}
}

func TestHashRepeatedFeatureShiftsSums(t *testing.T) {
	// The multiset semantics: three occurrences of one feature behave like
	// one occurrence at triple weight, and a single dominant feature pins
	// the fingerprint to its projection pattern.
	h := simhash.NewHasher(nil)
	one := []simhash.Feature{{ID: 0xfeed, Kind: simhash.KindGraphlet}}
	three := []simhash.Feature{
		{ID: 0xfeed, Kind: simhash.KindGraphlet},
		{ID: 0xfeed, Kind: simhash.KindGraphlet},
		{ID: 0xfeed, Kind: simhash.KindGraphlet},
	}
	if h.Hash(one) != h.Hash(three) {
		t.Fatal("a single-feature multiset must pin the same bits regardless of multiplicity")
	}
}

// TestSimilarityMonotonicity checks the core LSH property statistically: a
// small perturbation of a feature multiset must land closer than a large one,
// averaged over many random multisets.
func TestSimilarityMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := simhash.NewHasher(nil)

	const trials = 60
	wins := 0
	var sumSmall, sumLarge int

	for trial := 0; trial < trials; trial++ {
		base := testutil.RandomFeatures(t, rng, 100)

		// Small perturbation: drop one low-weight (mnemonic) feature.
		small := make([]simhash.Feature, 0, len(base)-1)
		dropped := false
		for _, f := range base {
			if !dropped && f.Kind == simhash.KindMnemonic {
				dropped = true
				continue
			}
			small = append(small, f)
		}

		// Large perturbation: replace half the features.
		large := append([]simhash.Feature(nil), base[:len(base)/2]...)
		large = append(large, testutil.RandomFeatures(t, rng, len(base)/2)...)

		fpBase := h.Hash(base)
		dSmall := fpBase.Distance(h.Hash(small))
		dLarge := fpBase.Distance(h.Hash(large))
		sumSmall += dSmall
		sumLarge += dLarge
		if dSmall < dLarge {
			wins++
		}
	}

	if sumSmall >= sumLarge {
		t.Fatalf("mean distance inverted: small perturbation %d >= large %d over %d trials", sumSmall, sumLarge, trials)
	}
	if wins < trials*8/10 {
		t.Fatalf("small perturbation closer in only %d/%d trials", wins, trials)
	}
}

func TestFingerprintDistance(t *testing.T) {
	a := simhash.Fingerprint{A: 0, B: 0}
	b := simhash.Fingerprint{A: 0xf, B: 1 << 63}
	if d := a.Distance(b); d != 5 {
		t.Fatalf("Distance = %d, want 5", d)
	}
	if d := b.Distance(b); d != 0 {
		t.Fatalf("self distance = %d, want 0", d)
	}
	if s := b.Similarity(b); s != 1 {
		t.Fatalf("self similarity = %v, want 1", s)
	}
}

func TestFingerprintString(t *testing.T) {
	fp := simhash.Fingerprint{A: 0x0123456789abcdef, B: 0xfedcba9876543210}
	want := "0123456789abcdeffedcba9876543210"
	if got := fp.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
