package features_test

import (
	"testing"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
	"github.com/wwzcrack/functionsimsearch/pkg/features"
	"github.com/wwzcrack/functionsimsearch/pkg/flowgraph"
	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
	"github.com/wwzcrack/functionsimsearch/pkg/testutil"
)

func extract(t *testing.T, fn disasm.Function) []simhash.Feature {
	t.Helper()
	g := flowgraph.Build(&fn)
	out := features.NewGenerator().Features(&fn, g)
	cp := make([]simhash.Feature, len(out))
	copy(cp, out)
	return cp
}

func countKind(feats []simhash.Feature, kind simhash.FeatureKind) int {
	n := 0
	for _, f := range feats {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

func TestFeaturesKindCounts(t *testing.T) {
	fn := disasm.Function{
		Address: 0x1000,
		Blocks: []disasm.BasicBlock{
			{Address: 0x1000, Successors: []uint64{0x1010}, Mnemonics: []string{"push", "mov", "cmp"}},
			{Address: 0x1010, Mnemonics: []string{"add", "ret"}, Immediates: []uint64{0x40, 0x1337}},
		},
	}
	feats := extract(t, fn)

	// Five mnemonics across two blocks in address order yield three trigrams:
	// the window slides over block boundaries.
	if got := countKind(feats, simhash.KindMnemonic); got != 3 {
		t.Fatalf("mnemonic trigrams = %d, want 3", got)
	}
	if got := countKind(feats, simhash.KindImmediate); got != 2 {
		t.Fatalf("immediate features = %d, want 2", got)
	}
	// A straight-line two-block function has no 3-node graphlets.
	if got := countKind(feats, simhash.KindGraphlet); got != 0 {
		t.Fatalf("graphlet features = %d, want 0", got)
	}
}

func TestFeaturesDeterministic(t *testing.T) {
	fn := testutil.DiamondFunction(0x4000, 4)
	a := extract(t, fn)
	b := extract(t, fn)
	if len(a) == 0 {
		t.Fatal("no features extracted")
	}
	if len(a) != len(b) {
		t.Fatalf("feature counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("feature %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestFeaturesScratchReuse(t *testing.T) {
	// The returned slice aliases internal scratch; the next call overwrites
	// it. Callers that keep features across calls must copy first.
	gen := features.NewGenerator()

	fn1 := testutil.DiamondFunction(0x1000, 2)
	fn2 := testutil.TrivialFunction(0x2000)

	g1 := flowgraph.Build(&fn1)
	first := gen.Features(&fn1, g1)
	saved := make([]simhash.Feature, len(first))
	copy(saved, first)

	g2 := flowgraph.Build(&fn2)
	gen.Features(&fn2, g2)

	again := gen.Features(&fn1, g1)
	if len(again) != len(saved) {
		t.Fatalf("re-extraction length changed: %d vs %d", len(again), len(saved))
	}
	for i := range again {
		if again[i] != saved[i] {
			t.Fatalf("re-extraction differs at %d: %+v vs %+v", i, again[i], saved[i])
		}
	}
}

func TestFeaturesImmediateSensitivity(t *testing.T) {
	base := testutil.TrivialFunction(0x1000)
	base.Blocks[0].Immediates = []uint64{0x11111111}

	other := testutil.TrivialFunction(0x1000)
	other.Blocks[0].Immediates = []uint64{0x22222222}

	h := simhash.NewHasher(nil)
	if h.Hash(extract(t, base)) == h.Hash(extract(t, other)) {
		t.Fatal("different immediates produced identical fingerprints")
	}
}
