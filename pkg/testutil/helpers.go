// Package testutil provides synthetic disassembly fixtures shared by the
// package tests.
package testutil

import (
	"math/rand"
	"testing"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
)

// DiamondFunction builds a function whose flow graph is a chain of diamonds:
//
//	entry -> (cond -> left/right -> join) x depth -> exit
//
// Every cond block branches, so the graph has exactly depth branching nodes.
func DiamondFunction(addr uint64, depth int) disasm.Function {
	fn := disasm.Function{Address: addr}
	next := addr

	block := func(succs ...uint64) uint64 {
		a := next
		next += 0x10
		fn.Blocks = append(fn.Blocks, disasm.BasicBlock{
			Address:    a,
			Successors: succs,
			Mnemonics:  []string{"mov", "add", "cmp"},
			Immediates: []uint64{uint64(len(fn.Blocks))},
		})
		return a
	}

	// Addresses are assigned before successors exist, so lay out one diamond
	// at a time: cond at base, left/right/join behind it.
	for d := 0; d < depth; d++ {
		base := next
		left := base + 0x10
		right := base + 0x20
		join := base + 0x30

		block(left, right) // cond
		block(join)        // left
		block(join)        // right
		if d == depth-1 {
			block() // join is the exit
		} else {
			block(join + 0x10) // join falls into the next diamond's cond
		}
	}
	return fn
}

// TrivialFunction builds a straight-line function with no branching nodes.
func TrivialFunction(addr uint64) disasm.Function {
	return disasm.Function{
		Address: addr,
		Blocks: []disasm.BasicBlock{
			{Address: addr, Successors: []uint64{addr + 0x10}, Mnemonics: []string{"push", "mov"}},
			{Address: addr + 0x10, Mnemonics: []string{"pop", "ret"}},
		},
	}
}

// Export wraps functions into a loadable export document.
func Export(fileID uint64, fns ...disasm.Function) *disasm.Export {
	return &disasm.Export{
		Executable: "test.bin",
		Format:     "ELF",
		FileID:     fileID,
		Functions:  fns,
	}
}

// RandomFeatures generates n distinct features from a seeded source, so
// statistical tests are reproducible.
func RandomFeatures(t *testing.T, rng *rand.Rand, n int) []simhash.Feature {
	t.Helper()
	feats := make([]simhash.Feature, 0, n)
	seen := make(map[uint64]bool, n)
	for len(feats) < n {
		id := rng.Uint64()
		if seen[id] {
			continue
		}
		seen[id] = true
		feats = append(feats, simhash.Feature{ID: id, Kind: simhash.FeatureKind(len(feats) % 3)})
	}
	return feats
}
