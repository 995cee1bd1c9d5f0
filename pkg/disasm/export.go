// Package disasm defines the boundary with the external disassembly engine.
//
// Control-flow recovery is not performed here: an external tool disassembles
// the executable and emits a disassembly export, a self-contained document
// listing every recovered function with its basic blocks, edges, instruction
// mnemonics, and immediate operands. This package loads and validates those
// exports (msgpack by default, JSON for debugging) and derives the 64-bit
// content identifier of the source executable.
package disasm

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// BasicBlock is one basic block of a recovered function. Successors hold the
// start addresses of the blocks control can fall or branch to.
type BasicBlock struct {
	Address    uint64   `msgpack:"address" json:"address"`
	Successors []uint64 `msgpack:"successors" json:"successors,omitempty"`
	Mnemonics  []string `msgpack:"mnemonics" json:"mnemonics,omitempty"`
	Immediates []uint64 `msgpack:"immediates" json:"immediates,omitempty"`
}

// Function is one recovered function: its entry address and basic blocks.
type Function struct {
	Address uint64       `msgpack:"address" json:"address"`
	Name    string       `msgpack:"name,omitempty" json:"name,omitempty"`
	Blocks  []BasicBlock `msgpack:"blocks" json:"blocks"`
}

// Export is a complete disassembly export for one executable.
type Export struct {
	// Executable is the path of the disassembled binary, carried for
	// diagnostics only.
	Executable string `msgpack:"executable" json:"executable"`
	// Format identifies the container format, "PE" or "ELF".
	Format string `msgpack:"format" json:"format"`
	// FileID is the content-derived identifier of the executable. When the
	// exporting tool leaves it zero, LoadExport recomputes it from the
	// executable path if the file is still reachable.
	FileID    uint64     `msgpack:"file_id" json:"file_id"`
	Functions []Function `msgpack:"functions" json:"functions"`
}

// LoadExport reads a disassembly export from disk. Files ending in .json are
// decoded as JSON, everything else as msgpack. The export must contain at
// least one function.
func LoadExport(path string) (*Export, error) {
	if path == "" {
		return nil, fmt.Errorf("empty input path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export %q: %w", path, err)
	}
	defer f.Close()

	var exp Export
	if strings.HasSuffix(path, ".json") {
		err = json.NewDecoder(f).Decode(&exp)
	} else {
		err = msgpack.NewDecoder(f).Decode(&exp)
	}
	if err != nil {
		return nil, fmt.Errorf("decode export %q: %w", path, err)
	}

	if len(exp.Functions) == 0 {
		return nil, fmt.Errorf("export %q: no functions found", path)
	}

	if exp.FileID == 0 && exp.Executable != "" {
		if id, err := ExecutableID(exp.Executable); err == nil {
			exp.FileID = id
		}
	}
	return &exp, nil
}

// WriteExport writes an export, choosing the encoding from the path the same
// way LoadExport does. Used by test fixtures and exporting tools.
func WriteExport(path string, exp *Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export %q: %w", path, err)
	}
	defer f.Close()

	if strings.HasSuffix(path, ".json") {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(exp); err != nil {
			return fmt.Errorf("encode export %q: %w", path, err)
		}
		return nil
	}
	if err := msgpack.NewEncoder(f).Encode(exp); err != nil {
		return fmt.Errorf("encode export %q: %w", path, err)
	}
	return nil
}

// ExecutableID derives the 64-bit content identifier of an executable by
// streaming its bytes through xxhash. Two byte-identical binaries always get
// the same ID regardless of path or name.
func ExecutableID(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open executable %q: %w", path, err)
	}
	defer f.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, fmt.Errorf("hash executable %q: %w", path, err)
	}
	return d.Sum64(), nil
}
