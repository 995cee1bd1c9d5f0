package cli

import (
	"fmt"

	"github.com/wwzcrack/functionsimsearch/pkg/disasm"
	"github.com/wwzcrack/functionsimsearch/pkg/features"
	"github.com/wwzcrack/functionsimsearch/pkg/flowgraph"
	"github.com/wwzcrack/functionsimsearch/pkg/index"
	"github.com/wwzcrack/functionsimsearch/pkg/models"
	"github.com/wwzcrack/functionsimsearch/pkg/simhash"
)

// MatchOptions carries the match command's flags.
type MatchOptions struct {
	Input       string
	IndexPath   string
	WeightsPath string
	MinSize     uint64
	MaxMatches  int
	MaxDistance int
}

// RunMatch fingerprints every function of an export and reports its nearest
// neighbors in the index.
func RunMatch(opts MatchOptions) error {
	exp, err := disasm.LoadExport(opts.Input)
	if err != nil {
		return err
	}

	weights, err := simhash.LoadWeights(opts.WeightsPath)
	if err != nil {
		return err
	}
	hasher := simhash.NewHasher(weights)
	gen := features.NewGenerator()

	ix, err := index.Open(opts.IndexPath, index.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer ix.Close()

	if opts.MinSize == 0 {
		opts.MinSize = 5
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = 5
	}
	if opts.MaxDistance <= 0 {
		opts.MaxDistance = index.MaxGuaranteedDistance
	}

	out := models.MatchOutput{
		Input:          opts.Input,
		Index:          opts.IndexPath,
		MaxDistance:    opts.MaxDistance,
		TotalFunctions: len(exp.Functions),
		Results:        []models.FunctionMatches{},
	}

	// The generator is single-threaded by contract; matching is read-mostly
	// and fast enough that a sequential walk keeps this simple.
	for i := range exp.Functions {
		fn := &exp.Functions[i]
		graph := flowgraph.Build(fn)
		if graph.BranchingNodes() <= opts.MinSize {
			continue
		}

		fp := hasher.Hash(gen.Features(fn, graph))

		matches, err := ix.Query(fp, opts.MaxDistance, opts.MaxMatches)
		if err != nil {
			return fmt.Errorf("query function %x: %w", fn.Address, err)
		}
		if len(matches) == 0 {
			continue
		}

		fm := models.FunctionMatches{
			Address:     fmt.Sprintf("%x", fn.Address),
			Name:        fn.Name,
			Fingerprint: fp.String(),
		}
		for _, m := range matches {
			fm.Matches = append(fm.Matches, models.MatchInfo{
				FileID:     fmt.Sprintf("%16.16x", m.FileID),
				Address:    fmt.Sprintf("%x", m.Address),
				Distance:   m.Distance,
				Similarity: fp.Similarity(m.Fingerprint),
			})
		}
		out.Results = append(out.Results, fm)
	}

	return WriteJSON(out)
}
