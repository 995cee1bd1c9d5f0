// Package ingest drives fingerprinting and index insertion across all
// functions of one executable with bounded parallelism.
//
// Work items are independent: each one builds the function's flow graph,
// filters trivial functions, re-checks index capacity, extracts features
// under the extraction lock, hashes, and inserts. The feature generator is
// the only collaborator that is not reentrant, so extraction is the single
// serialized section besides the index's own internal insert lock; the
// extraction lock is always released before the insert begins, so the two
// can never deadlock against each other.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
	"github.com/wwzcrack/functionsimsearch/pkg/flowgraph"
	"github.com/wwzcrack/functionsimsearch/pkg/index"
	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
)

const (
	// DefaultMinBranchingNodes drops functions whose flow graph has this
	// many branching nodes or fewer.
	DefaultMinBranchingNodes = 5

	// DefaultSafetyMargin is the free-space floor below which no further
	// inserts are attempted. Keeping a margin means a racing worker's insert
	// degrades into a clean skip instead of a half-checked failure.
	DefaultSafetyMargin = 1 << 14
)

// FeatureSource produces the weighted feature multiset of one function.
// Implementations are assumed NOT safe for concurrent use; the pipeline
// serializes all calls and copies the result before releasing its lock.
type FeatureSource interface {
	Features(fn *disasm.Function, graph *flowgraph.Graph) []simhash.Feature
}

// Options configures one ingestion run.
type Options struct {
	// MinBranchingNodes: functions with <= this many branching nodes are
	// skipped. Zero means DefaultMinBranchingNodes.
	MinBranchingNodes uint64
	// SkipSharedBlocks skips functions whose flow graph shares basic blocks
	// with another function of the same executable.
	SkipSharedBlocks bool
	// Workers is the worker pool size. Zero means runtime.NumCPU().
	Workers int
	// SafetyMargin is the free-space floor in bytes. Zero means
	// DefaultSafetyMargin.
	SafetyMargin int64
	// Progress receives one diagnostic line per function. Nil discards.
	Progress io.Writer
}

// Stats carries the live progress counters of a run. The counters are safe
// to read concurrently; their values are advisory until Run returns.
type Stats struct {
	Processed      atomic.Uint64
	Added          atomic.Uint64
	SkippedTrivial atomic.Uint64
	SkippedShared  atomic.Uint64
	SkippedFull    atomic.Uint64
}

// Run fingerprints every function of the export and inserts the results into
// the index. Per-function conditions (trivial function, shared blocks, index
// full) are skips that never abort the run; storage errors do. Run returns
// once every submitted work item has completed.
func Run(ctx context.Context, ix *index.Index, hasher *simhash.Hasher, src FeatureSource, exp *disasm.Export, opts Options) (*Stats, error) {
	if opts.MinBranchingNodes == 0 {
		opts.MinBranchingNodes = DefaultMinBranchingNodes
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.SafetyMargin == 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}

	var shared map[uint64]bool
	if opts.SkipSharedBlocks {
		shared = flowgraph.SharedBlockAddrs(exp.Functions)
	}

	stats := &Stats{}
	total := len(exp.Functions)
	fileID := exp.FileID

	var extractMu sync.Mutex
	var logMu sync.Mutex
	logf := func(format string, args ...any) {
		logMu.Lock()
		fmt.Fprintf(opts.Progress, format, args...)
		logMu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i := range exp.Functions {
		fn := &exp.Functions[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			graph := flowgraph.Build(fn)
			n := stats.Processed.Add(1)

			branching := graph.BranchingNodes()
			if branching <= opts.MinBranchingNodes {
				stats.SkippedTrivial.Add(1)
				logf("[!] (%d/%d) %s FileID %x: Skipping function %x, only %d branching nodes\n",
					n, total, exp.Executable, fileID, fn.Address, branching)
				return nil
			}

			if opts.SkipSharedBlocks && flowgraph.ContainsSharedBlocks(fn, shared) {
				stats.SkippedShared.Add(1)
				logf("[!] (%d/%d) %s FileID %x: Skipping function %x, shares basic blocks\n",
					n, total, exp.Executable, fileID, fn.Address)
				return nil
			}

			if ix.FreeSpace() < opts.SafetyMargin {
				stats.SkippedFull.Add(1)
				logf("[!] (%d/%d) %s FileID %x: Skipping function %x. Index file full.\n",
					n, total, exp.Executable, fileID, fn.Address)
				return nil
			}

			// The feature source is not reentrant and its result aliases
			// internal scratch, so extract and copy under the lock, then
			// hash outside it.
			extractMu.Lock()
			feats := append([]simhash.Feature(nil), src.Features(fn, graph)...)
			extractMu.Unlock()

			fp := hasher.Hash(feats)

			if err := ix.Add(fp, fileID, fn.Address); err != nil {
				if errors.Is(err, index.ErrIndexFull) {
					stats.SkippedFull.Add(1)
					logf("[!] (%d/%d) %s FileID %x: Skipping function %x. Index file full.\n",
						n, total, exp.Executable, fileID, fn.Address)
					return nil
				}
				return fmt.Errorf("add function %x: %w", fn.Address, err)
			}

			stats.Added.Add(1)
			logf("[!] (%d/%d) %s FileID %x: Adding function %x (%d branching nodes)\n",
				n, total, exp.Executable, fileID, fn.Address, branching)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}
