// Package features extracts the weighted feature multiset of a function from
// its disassembly export: 3-node control-flow graphlets, instruction-mnemonic
// trigrams, and immediate operands.
package features

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
	"github.com/wwzcrack/functionsimsearch/pkg/flowgraph"
	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
)

// Salts separating the mnemonic and immediate feature ID spaces from the
// graphlet space. Frozen: they participate in every persisted fingerprint.
const (
	mnemonicSalt  = 0x6d6e656d33677261 // "mnem3gra"
	immediateSalt = 0x696d6d6564696174 // "immediat"
)

// mnemonicNGram is the sliding-window width over the instruction stream.
const mnemonicNGram = 3

// Generator produces feature multisets for exported functions.
//
// A Generator is NOT safe for concurrent use: the returned slice aliases an
// internal scratch buffer that the next call reuses, and the mnemonic window
// state is shared. Callers running extraction from multiple goroutines must
// serialize calls and copy the result before releasing their lock; the
// ingestion pipeline does exactly that.
type Generator struct {
	scratch []simhash.Feature
	window  []string
}

// NewGenerator returns an empty generator.
func NewGenerator() *Generator {
	return &Generator{window: make([]string, 0, mnemonicNGram)}
}

// Features extracts the weighted feature multiset of fn. The flow graph must
// have been built from the same function record. The returned slice is only
// valid until the next call.
func (g *Generator) Features(fn *disasm.Function, graph *flowgraph.Graph) []simhash.Feature {
	g.scratch = g.scratch[:0]

	for _, id := range graph.GraphletIDs() {
		g.scratch = append(g.scratch, simhash.Feature{ID: id, Kind: simhash.KindGraphlet})
	}

	// Mnemonic trigrams slide over the instruction stream in block-address
	// order, continuing across block boundaries the way the blocks are laid
	// out in memory.
	g.window = g.window[:0]
	for _, addr := range graph.Blocks() {
		blk := blockAt(fn, addr)
		if blk == nil {
			continue
		}
		for _, m := range blk.Mnemonics {
			if len(g.window) == mnemonicNGram {
				copy(g.window, g.window[1:])
				g.window = g.window[:mnemonicNGram-1]
			}
			g.window = append(g.window, m)
			if len(g.window) == mnemonicNGram {
				g.scratch = append(g.scratch, simhash.Feature{ID: hashMnemonics(g.window), Kind: simhash.KindMnemonic})
			}
		}
	}

	for _, blk := range fn.Blocks {
		for _, imm := range blk.Immediates {
			g.scratch = append(g.scratch, simhash.Feature{ID: hashImmediate(imm), Kind: simhash.KindImmediate})
		}
	}

	return g.scratch
}

func blockAt(fn *disasm.Function, addr uint64) *disasm.BasicBlock {
	for i := range fn.Blocks {
		if fn.Blocks[i].Address == addr {
			return &fn.Blocks[i]
		}
	}
	return nil
}

func hashMnemonics(window []string) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], mnemonicSalt)

	d := xxhash.New()
	d.Write(buf[:])
	for _, m := range window {
		d.WriteString(m)
		d.Write([]byte{0})
	}
	return d.Sum64()
}

func hashImmediate(imm uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], immediateSalt)
	binary.LittleEndian.PutUint64(buf[8:], imm)
	return xxhash.Sum64(buf[:])
}
