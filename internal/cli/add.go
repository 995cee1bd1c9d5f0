package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
	"github.com/wwzcrack/functionsimsearch/pkg/features"
	"github.com/wwzcrack/functionsimsearch/pkg/index"
	"github.com/wwzcrack/functionsimsearch/pkg/ingest"
	"github.com/wwzcrack/functionsimsearch/pkg/models"
	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
)

// AddOptions carries the add command's flags.
type AddOptions struct {
	Input          string
	IndexPath      string
	WeightsPath    string
	MinSize        uint64
	NoSharedBlocks bool
	Workers        int
}

// RunAdd ingests every sufficiently complex function of a disassembly export
// into the similarity index. Load and open failures are fatal; per-function
// skips are reported on stderr and the run continues.
func RunAdd(opts AddOptions) error {
	exp, err := disasm.LoadExport(opts.Input)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[!] Executable id is %16.16x\n", exp.FileID)

	weights, err := simhash.LoadWeights(opts.WeightsPath)
	if err != nil {
		return err
	}

	ix, err := index.Open(opts.IndexPath, index.Options{})
	if err != nil {
		return err
	}
	defer ix.Close()

	stats, err := ingest.Run(context.Background(), ix, simhash.NewHasher(weights), features.NewGenerator(), exp, ingest.Options{
		MinBranchingNodes: opts.MinSize,
		SkipSharedBlocks:  opts.NoSharedBlocks,
		Workers:           opts.Workers,
		Progress:          os.Stderr,
	})
	if err != nil {
		return err
	}

	return WriteJSON(models.AddOutput{
		Input:          opts.Input,
		Executable:     exp.Executable,
		FileID:         fmt.Sprintf("%16.16x", exp.FileID),
		Index:          opts.IndexPath,
		TotalFunctions: len(exp.Functions),
		Added:          stats.Added.Load(),
		SkippedTrivial: stats.SkippedTrivial.Load(),
		SkippedShared:  stats.SkippedShared.Load(),
		SkippedFull:    stats.SkippedFull.Load(),
		IndexEntries:   ix.Count(),
	})
}
