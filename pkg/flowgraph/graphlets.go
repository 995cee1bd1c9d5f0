package flowgraph

import (
	"github.com/cespare/xxhash/v2"
)

// Graphlet shape tags. Part of every graphlet feature ID, so frozen.
const (
	shapePath   byte = 0x01 // a -> b -> c
	shapeFanout byte = 0x02 // a -> b, a -> c
)

// degreeCap buckets node degrees so that a single extra edge on a huge switch
// dispatcher does not change every graphlet it participates in.
const degreeCap = 15

func capDeg(n int) byte {
	if n > degreeCap {
		return degreeCap
	}
	return byte(n)
}

// GraphletIDs enumerates the 3-node connected subgraph shapes of the flow
// graph and returns one feature identity per occurrence. Each identity hashes
// the shape tag together with the capped in/out degrees of the participating
// nodes, so it depends only on local graph structure, never on addresses.
// The result is deterministic for a given graph.
func (g *Graph) GraphletIDs() []uint64 {
	indeg := make(map[uint64]int, len(g.blocks))
	for _, a := range g.blocks {
		for _, b := range g.succs[a] {
			indeg[b]++
		}
	}

	var ids []uint64
	var buf [1]byte

	hash := func(shape byte, degs ...byte) uint64 {
		d := xxhash.New()
		buf[0] = shape
		d.Write(buf[:])
		d.Write(degs)
		return d.Sum64()
	}

	for _, a := range g.blocks {
		sa := g.succs[a]

		// Directed paths a -> b -> c.
		for _, b := range sa {
			for _, c := range g.succs[b] {
				ids = append(ids, hash(shapePath,
					capDeg(indeg[a]), capDeg(len(sa)),
					capDeg(indeg[b]), capDeg(len(g.succs[b])),
					capDeg(indeg[c]), capDeg(len(g.succs[c]))))
			}
		}

		// Fan-outs a -> {b, c}. Successor lists are sorted, so the pair
		// order is stable.
		for i := 0; i < len(sa); i++ {
			for j := i + 1; j < len(sa); j++ {
				b, c := sa[i], sa[j]
				ids = append(ids, hash(shapeFanout,
					capDeg(indeg[a]), capDeg(len(sa)),
					capDeg(indeg[b]), capDeg(len(g.succs[b])),
					capDeg(indeg[c]), capDeg(len(g.succs[c]))))
			}
		}
	}
	return ids
}
