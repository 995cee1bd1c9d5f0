package simhash

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Default per-kind weights. Structural graphlets carry the base weight,
// mnemonic trigrams are heavily discounted because they are plentiful and
// compiler-sensitive, and immediates are boosted because a shared unusual
// constant is strong evidence of shared code.
const (
	DefaultGraphletWeight  = 1.0
	DefaultMnemonicWeight  = 0.05
	DefaultImmediateWeight = 4.0
)

// WeightTable maps feature identities to weights: a default weight per feature
// kind plus optional per-feature trained overrides. It is loaded once at
// startup and read-only afterwards, so it needs no locking.
type WeightTable struct {
	kind      [numFeatureKinds]float64
	overrides map[uint64]float64
}

// weightConfig is the YAML shape of a weights file. Zero values fall back to
// the built-in defaults.
type weightConfig struct {
	Graphlet  float64 `yaml:"graphlet"`
	Mnemonic  float64 `yaml:"mnemonic"`
	Immediate float64 `yaml:"immediate"`

	// OverridesFile points at a trained per-feature weights file with one
	// "<feature-id-hex> <weight>" pair per line. Relative paths resolve
	// against the directory of the YAML file.
	OverridesFile string `yaml:"overrides_file"`
}

// DefaultWeights returns a table with the built-in per-kind weights and no
// overrides.
func DefaultWeights() *WeightTable {
	t := &WeightTable{overrides: map[uint64]float64{}}
	t.kind[KindGraphlet] = DefaultGraphletWeight
	t.kind[KindMnemonic] = DefaultMnemonicWeight
	t.kind[KindImmediate] = DefaultImmediateWeight
	return t
}

// LoadWeights reads a YAML weights configuration. An empty path yields the
// default table.
func LoadWeights(path string) (*WeightTable, error) {
	t := DefaultWeights()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights config %q: %w", path, err)
	}

	var cfg weightConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse weights config %q: %w", path, err)
	}

	if cfg.Graphlet != 0 {
		t.kind[KindGraphlet] = cfg.Graphlet
	}
	if cfg.Mnemonic != 0 {
		t.kind[KindMnemonic] = cfg.Mnemonic
	}
	if cfg.Immediate != 0 {
		t.kind[KindImmediate] = cfg.Immediate
	}

	if cfg.OverridesFile != "" {
		overridesPath := cfg.OverridesFile
		if !filepath.IsAbs(overridesPath) {
			overridesPath = filepath.Join(filepath.Dir(path), overridesPath)
		}
		if err := t.loadOverrides(overridesPath); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// loadOverrides parses a trained weights file: one "<id-hex> <weight>" pair
// per line, '#' starts a comment. Later lines win on duplicate IDs.
func (t *WeightTable) loadOverrides(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open weight overrides %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("weight overrides %q line %d: expected \"<id> <weight>\", got %q", path, lineNo, line)
		}
		id, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return fmt.Errorf("weight overrides %q line %d: bad feature id %q: %w", path, lineNo, fields[0], err)
		}
		w, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("weight overrides %q line %d: bad weight %q: %w", path, lineNo, fields[1], err)
		}
		t.overrides[id] = w
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read weight overrides %q: %w", path, err)
	}
	return nil
}

// Weight returns the effective weight for a feature: a per-feature override
// when one is loaded, the per-kind default otherwise.
func (t *WeightTable) Weight(f Feature) float64 {
	if w, ok := t.overrides[f.ID]; ok {
		return w
	}
	if int(f.Kind) < len(t.kind) {
		return t.kind[f.Kind]
	}
	return 0
}

// Overrides reports how many per-feature overrides are loaded.
func (t *WeightTable) Overrides() int { return len(t.overrides) }
