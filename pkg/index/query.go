package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"

	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
)

const (
	// MaxProbeRadius bounds the per-block pattern expansion: a query probes
	// every pattern within this many bit flips of its own block pattern.
	// Radius 2 over a 32-bit block is 529 probe patterns, which keeps probe
	// cost bounded while widening the recall guarantee.
	MaxProbeRadius = 2

	// MaxGuaranteedDistance is the largest Hamming distance at which Query
	// is guaranteed to find every matching entry. By pigeonhole, an entry at
	// distance d from the query has some block carrying at most d/NumBlocks
	// of the differing bits, so probing each block out to radius r covers
	// every entry with d <= NumBlocks*(r+1)-1. Neighbors beyond this bound
	// may still be found when their differences cluster into few blocks, but
	// are not guaranteed; this is the documented approximation of the
	// structure, not a defect.
	MaxGuaranteedDistance = NumBlocks*(MaxProbeRadius+1) - 1
)

// Match is one query result: an entry plus its exact Hamming distance from
// the query fingerprint.
type Match struct {
	Entry
	Distance int
}

// Query returns the stored entries within maxDistance of fp, ordered by
// ascending distance with ties broken by insertion order, truncated to limit
// when limit > 0. Every call re-scans against a fresh snapshot, so results
// reflect all inserts committed before the call.
func (ix *Index) Query(fp simhash.Fingerprint, maxDistance, limit int) ([]Match, error) {
	if maxDistance < 0 {
		maxDistance = 0
	}
	if maxDistance > simhash.FingerprintBits {
		maxDistance = simhash.FingerprintBits
	}

	probeRadius := maxDistance / NumBlocks
	if probeRadius > MaxProbeRadius {
		probeRadius = MaxProbeRadius
	}

	snap := ix.db.NewSnapshot()
	defer snap.Close()

	candidates := make(map[uint64]struct{})
	for b := 0; b < NumBlocks; b++ {
		for _, pattern := range expandPatterns(blockPattern(fp, b), probeRadius) {
			if err := collectBucket(snap, b, pattern, candidates); err != nil {
				return nil, err
			}
		}
	}

	matches := make([]Match, 0, len(candidates))
	for seq := range candidates {
		val, closer, err := snap.Get(entryKey(seq))
		if err == pebble.ErrNotFound {
			// A posting without its entry cannot happen: both are committed
			// in one batch. Treat it as corruption rather than skipping.
			return nil, fmt.Errorf("%w: dangling posting for entry %d", ErrCorrupt, seq)
		}
		if err != nil {
			return nil, fmt.Errorf("read entry %d: %w", seq, err)
		}
		e, derr := decodeEntry(entryKey(seq), val)
		closer.Close()
		if derr != nil {
			return nil, derr
		}
		if d := fp.Distance(e.Fingerprint); d <= maxDistance {
			matches = append(matches, Match{Entry: e, Distance: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Seq < matches[j].Seq
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// collectBucket adds every entry sequence posted under (block, pattern) to
// the candidate set.
func collectBucket(snap *pebble.Snapshot, block int, pattern uint32, out map[uint64]struct{}) error {
	prefix := make([]byte, 3+4)
	copy(prefix, blockPrefix(block))
	binary.BigEndian.PutUint32(prefix[3:], pattern)

	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: incrementLastByte(prefix),
	})
	if err != nil {
		return fmt.Errorf("posting iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		if len(key) != len(prefix)+8 {
			return fmt.Errorf("%w: posting key length %d", ErrCorrupt, len(key))
		}
		out[binary.BigEndian.Uint64(key[len(prefix):])] = struct{}{}
	}
	return iter.Error()
}

// expandPatterns enumerates every 32-bit pattern within radius bit flips of
// p: p itself, then all single flips, then all pairs. Radius is capped at
// MaxProbeRadius by the caller.
func expandPatterns(p uint32, radius int) []uint32 {
	patterns := []uint32{p}
	if radius >= 1 {
		for i := 0; i < BlockBits; i++ {
			patterns = append(patterns, p^(1<<uint(i)))
		}
	}
	if radius >= 2 {
		for i := 0; i < BlockBits; i++ {
			for j := i + 1; j < BlockBits; j++ {
				patterns = append(patterns, p^(1<<uint(i))^(1<<uint(j)))
			}
		}
	}
	return patterns
}
