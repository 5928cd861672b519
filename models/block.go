// Package models defines the data structures shared across the extraction
// pipeline: semantic blocks, ranked blocks, pattern matches and the canonical
// supplement records.
package models

// BlockKind identifies the semantic unit a block was extracted from.
type BlockKind string

const (
	BlockTable     BlockKind = "table"
	BlockList      BlockKind = "list"
	BlockParagraph BlockKind = "paragraph"
	BlockSpan      BlockKind = "span"
	BlockContainer BlockKind = "container"
	BlockHeading   BlockKind = "heading"
)

// TableGrid holds the row/column cell text of an extracted table.
type TableGrid struct {
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// SemanticBlock is one extractable unit of markup. Immutable once extracted;
// later stages annotate copies, never the original.
type SemanticBlock struct {
	Kind         BlockKind  `json:"kind"`
	Text         string     `json:"text"`
	RawMarkup    string     `json:"raw_markup,omitempty"`
	Attributes   string     `json:"attributes,omitempty"` // concatenated class/id values
	HeadingLevel int        `json:"heading_level,omitempty"`
	Table        *TableGrid `json:"table,omitempty"`
}

// Category buckets a ranked block by the field class it most likely serves.
type Category string

const (
	CategoryPrice       Category = "price"
	CategoryIngredient  Category = "ingredient"
	CategoryDosage      Category = "dosage"
	CategoryQuantity    Category = "quantity"
	CategoryNutritional Category = "nutritional"
	CategoryOther       Category = "other"
)

// CategoryPriority is the fixed tie-break order used when a block matches
// keywords from more than one class. Reproducible categorization depends on
// this ordering, so it is exported for tests.
var CategoryPriority = []Category{
	CategoryPrice,
	CategoryIngredient,
	CategoryDosage,
	CategoryQuantity,
	CategoryNutritional,
}

// ScoreBreakdown records how each scoring feature contributed to a block's
// relevance score.
type ScoreBreakdown struct {
	KindBase       float64 `json:"kind_base"`
	KeywordPoints  float64 `json:"keyword_points"`
	NumericDensity float64 `json:"numeric_density"`
	UnitTokens     float64 `json:"unit_tokens"`
	AttributeHits  float64 `json:"attribute_hits"`
}

// RankedBlock is a SemanticBlock annotated with a relevance score and a
// mutually exclusive category. Produced once by the ranker, never mutated.
type RankedBlock struct {
	SemanticBlock
	Score     float64        `json:"score"`
	Category  Category       `json:"category"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}
