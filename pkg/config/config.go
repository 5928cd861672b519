// Package config loads the versioned, data-only extraction tables: keyword
// classes, locale-specific pattern families, canonical ingredient synonyms
// and the confidence thresholds that encode the fallback policy. The tables
// are injected into the ranker, the pattern extractor and the site
// extractors instead of being re-declared per module.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tillskottskollen/extractor/models"
)

//go:embed default.yaml
var defaultTables []byte

// Thresholds are the named confidence constants of the fallback policy.
type Thresholds struct {
	// AcceptConfidence is the "isValid" bar: model, pattern and vision
	// stages are accepted without further fallback at or above this
	// completeness.
	AcceptConfidence int `yaml:"accept_confidence"`
	// CompletenessFloor is the minimum completeness for a standalone site
	// extraction to be reported as a success on its own.
	CompletenessFloor int `yaml:"completeness_floor"`
	// SequentialSkip is the site-extractor confidence above which the
	// legacy pipeline is skipped entirely in sequential mode.
	SequentialSkip int `yaml:"sequential_skip"`
	// PatternFieldCap bounds per-field pattern confidence, leaving room
	// for corroboration by later layers.
	PatternFieldCap int `yaml:"pattern_field_cap"`
	// MacroGramCutoff separates macro data from supplement doses: gram
	// amounts at or above it are treated as macros and excluded.
	MacroGramCutoff float64 `yaml:"macro_gram_cutoff"`
}

// PatternSet holds one locale's regular-expression families as strings;
// the pattern extractor compiles them at startup.
type PatternSet struct {
	Price          []string `yaml:"price"`
	Dosage         []string `yaml:"dosage"`
	Quantity       []string `yaml:"quantity"`
	ServingSize    []string `yaml:"serving_size"`
	Ingredient     []string `yaml:"ingredient"`
	IngredientList []string `yaml:"ingredient_list"`
}

// Synonym maps one display form to a canonical ingredient key.
type Synonym struct {
	Key     string   `yaml:"key"`
	Display string   `yaml:"display"`
	Names   []string `yaml:"names"`
}

// Tables is the full data-only configuration document.
type Tables struct {
	Version    int                            `yaml:"version"`
	Keywords   map[models.Category][]string   `yaml:"keywords"`
	Patterns   map[string]PatternSet          `yaml:"patterns"` // keyed by locale: sv, en
	Synonyms   []Synonym                      `yaml:"synonyms"`
	// CaffeineFractions gives the assumed caffeine mass fraction of
	// caffeine-contributing ingredients (1.0 for direct caffeine).
	CaffeineFractions map[string]float64 `yaml:"caffeine_fractions"`
	// MacroRowKeywords and SupplementRowKeywords are the two disjoint
	// keyword sets used to classify nutrition tables by row-label hits.
	MacroRowKeywords      []string `yaml:"macro_row_keywords"`
	SupplementRowKeywords []string `yaml:"supplement_row_keywords"`
	// DefaultQuantities is the product-type-keyed container-size fallback
	// used when no explicit size is found.
	DefaultQuantities map[string]int `yaml:"default_quantities"`
	Thresholds        Thresholds     `yaml:"thresholds"`
}

// Default returns the embedded tables.
func Default() (*Tables, error) {
	return parse(defaultTables)
}

// Load reads tables from path, falling back to the embedded default when
// path is empty.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extraction tables: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse extraction tables: %w", err)
	}
	if t.Version == 0 {
		return nil, fmt.Errorf("extraction tables missing version")
	}
	if len(t.Keywords) == 0 {
		return nil, fmt.Errorf("extraction tables missing keyword classes")
	}
	if len(t.Patterns) == 0 {
		return nil, fmt.Errorf("extraction tables missing pattern families")
	}
	return &t, nil
}

// KeywordsFor returns the keyword list for a category, nil for "other".
func (t *Tables) KeywordsFor(c models.Category) []string {
	return t.Keywords[c]
}
