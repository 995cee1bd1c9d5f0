// Command fss maintains and queries a persistent function-similarity index.
//
// An external disassembler turns an executable into a disassembly export;
// fss fingerprints each exported function with a weighted 128-bit SimHash
// and stores or looks up the fingerprints in a capacity-bounded index.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wwzcrack/functionsimsearch/internal/cli"
	"github.com/wwzcrack/functionsimsearch/pkg/index"
	"github.com/wwzcrack/functionsimsearch/pkg/version"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `fss - function similarity search index

Fingerprints disassembled functions with a weighted 128-bit SimHash and
stores them in a persistent similarity index queryable by Hamming distance.

Usage:
  fss create --index <path> [--capacity 512M]        Create a new index
  fss add --input <export> --index <path>            Add an executable's functions
  fss match --input <export> --index <path>          Find similar indexed functions
  fss dump --index <path>                            Dump all index entries
  fss grow --index <path> --capacity <size>          Raise the index capacity
  fss stats --index <path>                           Show index statistics
  fss version                                        Show build version

Commands:
  create  Initialize an empty index with a byte-capacity budget
  add     Fingerprint every function of a disassembly export and insert it.
          Flags:
            --input                     Disassembly export (.fse msgpack or .json). REQUIRED.
            --index                     Index path (default ./similarity.index)
            --weights                   YAML weights configuration
            --minimum_function_size     Skip functions with this many branching nodes or fewer (default 5)
            --no_shared_blocks          Skip functions sharing basic blocks with others
            --workers                   Worker pool size (default: number of CPUs)
  match   Query the index for each function of an export
          Flags:
            --max_matches               Matches reported per function (default 5)
            --max_distance              Hamming distance cutoff (default %d)
  dump    Write every (fingerprint, origin) entry as JSON lines
  grow    Raise the capacity of a full index in place
  stats   Display entry count and space accounting

Examples:
  fss create --index ./similarity.index --capacity 1G
  fss add --input dump.fse --index ./similarity.index --weights weights.yaml
  fss match --input dump.fse --index ./similarity.index --max_matches 10
`, index.MaxGuaranteedDistance)
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	createCmd := flag.NewFlagSet("create", flag.ExitOnError)
	createIndex := createCmd.String("index", "", "Index path")
	createCapacity := createCmd.String("capacity", "", "Capacity budget, e.g. 512M or 2G")

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	addInput := addCmd.String("input", "", "Disassembly export to ingest (required)")
	addIndex := addCmd.String("index", "", "Index path")
	addWeights := addCmd.String("weights", "", "YAML weights configuration")
	addMinSize := addCmd.Uint64("minimum_function_size", 5, "Minimum branching-node count")
	addNoShared := addCmd.Bool("no_shared_blocks", false, "Skip functions with shared basic blocks")
	addWorkers := addCmd.Int("workers", 0, "Worker pool size (0 = number of CPUs)")

	matchCmd := flag.NewFlagSet("match", flag.ExitOnError)
	matchInput := matchCmd.String("input", "", "Disassembly export to match (required)")
	matchIndex := matchCmd.String("index", "", "Index path")
	matchWeights := matchCmd.String("weights", "", "YAML weights configuration")
	matchMinSize := matchCmd.Uint64("minimum_function_size", 5, "Minimum branching-node count")
	matchMax := matchCmd.Int("max_matches", 5, "Matches reported per function")
	matchDist := matchCmd.Int("max_distance", 0, "Hamming distance cutoff (0 = guaranteed-recall radius)")

	dumpCmd := flag.NewFlagSet("dump", flag.ExitOnError)
	dumpIndex := dumpCmd.String("index", "", "Index path")

	growCmd := flag.NewFlagSet("grow", flag.ExitOnError)
	growIndex := growCmd.String("index", "", "Index path")
	growCapacity := growCmd.String("capacity", "", "New capacity budget (required)")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	statsIndex := statsCmd.String("index", "", "Index path")

	switch cmd {
	case "create":
		if err := createCmd.Parse(os.Args[2:]); err != nil {
			cli.ExitError(err)
		}
		if err := cli.RunCreate(cli.ResolveIndexPath(*createIndex), *createCapacity); err != nil {
			cli.ExitError(err)
		}

	case "add":
		if err := addCmd.Parse(os.Args[2:]); err != nil {
			cli.ExitError(err)
		}
		if *addInput == "" {
			fmt.Fprintln(os.Stderr, "error: --input is required")
			addCmd.Usage()
			os.Exit(1)
		}
		err := cli.RunAdd(cli.AddOptions{
			Input:          *addInput,
			IndexPath:      cli.ResolveIndexPath(*addIndex),
			WeightsPath:    *addWeights,
			MinSize:        *addMinSize,
			NoSharedBlocks: *addNoShared,
			Workers:        *addWorkers,
		})
		if err != nil {
			cli.ExitError(err)
		}

	case "match":
		if err := matchCmd.Parse(os.Args[2:]); err != nil {
			cli.ExitError(err)
		}
		if *matchInput == "" {
			fmt.Fprintln(os.Stderr, "error: --input is required")
			matchCmd.Usage()
			os.Exit(1)
		}
		err := cli.RunMatch(cli.MatchOptions{
			Input:       *matchInput,
			IndexPath:   cli.ResolveIndexPath(*matchIndex),
			WeightsPath: *matchWeights,
			MinSize:     *matchMinSize,
			MaxMatches:  *matchMax,
			MaxDistance: *matchDist,
		})
		if err != nil {
			cli.ExitError(err)
		}

	case "dump":
		if err := dumpCmd.Parse(os.Args[2:]); err != nil {
			cli.ExitError(err)
		}
		if err := cli.RunDump(cli.ResolveIndexPath(*dumpIndex)); err != nil {
			cli.ExitError(err)
		}

	case "grow":
		if err := growCmd.Parse(os.Args[2:]); err != nil {
			cli.ExitError(err)
		}
		if *growCapacity == "" {
			growCmd.Usage()
			os.Exit(1)
		}
		if err := cli.RunGrow(cli.ResolveIndexPath(*growIndex), *growCapacity); err != nil {
			cli.ExitError(err)
		}

	case "stats":
		if err := statsCmd.Parse(os.Args[2:]); err != nil {
			cli.ExitError(err)
		}
		if err := cli.RunStats(cli.ResolveIndexPath(*statsIndex)); err != nil {
			cli.ExitError(err)
		}

	case "version":
		fmt.Println("Function Similarity Search")
		fmt.Printf("Build: %s\n", version.EngineVersion())

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		if suggestion := cli.SuggestCommand(cmd); suggestion != "" {
			fmt.Fprintf(os.Stderr, "Did you mean '%s'?\n", suggestion)
		}
		flag.Usage()
		os.Exit(1)
	}
}
