// Package flowgraph builds per-function control-flow graphs from disassembly
// exports and derives the structural properties the fingerprinting core needs:
// the branching-node count used to filter trivial functions, shared-block
// detection, and 3-node graphlet features.
package flowgraph

import (
	"sort"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
)

// Graph is the directed control-flow graph of one function's basic blocks.
// Nodes are block start addresses. Edges to addresses outside the function
// (tail calls, shared thunks) are dropped during construction so the graph is
// closed over its own node set.
type Graph struct {
	blocks []uint64            // node addresses, ascending
	succs  map[uint64][]uint64 // node -> successor nodes, ascending
}

// Build constructs the flow graph of one exported function.
func Build(fn *disasm.Function) *Graph {
	g := &Graph{
		blocks: make([]uint64, 0, len(fn.Blocks)),
		succs:  make(map[uint64][]uint64, len(fn.Blocks)),
	}
	known := make(map[uint64]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		if known[b.Address] {
			continue // duplicate block records collapse to one node
		}
		known[b.Address] = true
		g.blocks = append(g.blocks, b.Address)
	}
	sort.Slice(g.blocks, func(i, j int) bool { return g.blocks[i] < g.blocks[j] })

	for _, b := range fn.Blocks {
		if len(g.succs[b.Address]) > 0 {
			continue
		}
		var out []uint64
		for _, s := range b.Successors {
			if known[s] {
				out = append(out, s)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		g.succs[b.Address] = out
	}
	return g
}

// NumBlocks returns the number of basic blocks in the graph.
func (g *Graph) NumBlocks() int { return len(g.blocks) }

// Blocks returns the node addresses in ascending order. The caller must not
// modify the returned slice.
func (g *Graph) Blocks() []uint64 { return g.blocks }

// Successors returns the successor addresses of a block in ascending order.
func (g *Graph) Successors(addr uint64) []uint64 { return g.succs[addr] }

// BranchingNodes counts the blocks with two or more successors. This is the
// complexity proxy used to skip degenerate functions: straight-line wrappers
// and padding stubs have no branching structure worth indexing.
func (g *Graph) BranchingNodes() uint64 {
	var n uint64
	for _, b := range g.blocks {
		if len(g.succs[b]) >= 2 {
			n++
		}
	}
	return n
}

// SharedBlockAddrs returns the block addresses that appear in more than one
// function of the list. Disassemblers attribute shared thunks and overlapping
// code to every function reaching them; indexing those functions verbatim
// biases the index toward duplicated fragments.
func SharedBlockAddrs(fns []disasm.Function) map[uint64]bool {
	owners := make(map[uint64]int)
	for i := range fns {
		seen := make(map[uint64]bool, len(fns[i].Blocks))
		for _, b := range fns[i].Blocks {
			if !seen[b.Address] {
				seen[b.Address] = true
				owners[b.Address]++
			}
		}
	}
	shared := make(map[uint64]bool)
	for addr, n := range owners {
		if n > 1 {
			shared[addr] = true
		}
	}
	return shared
}

// ContainsSharedBlocks reports whether any block of fn is in the shared set.
func ContainsSharedBlocks(fn *disasm.Function, shared map[uint64]bool) bool {
	for _, b := range fn.Blocks {
		if shared[b.Address] {
			return true
		}
	}
	return false
}
