package models

// Field names the record fields the pattern extractor and the validator
// reason about. The six required fields drive the completeness check.
type Field string

const (
	FieldName        Field = "name"
	FieldPrice       Field = "price"
	FieldServings    Field = "total_servings"
	FieldServingSize Field = "serving_size"
	FieldIngredients Field = "ingredients"
	FieldDosage      Field = "dosage"
)

// RequiredFields is the completeness contract: a record is fully valid when
// all six are present and valid.
var RequiredFields = []Field{
	FieldName,
	FieldPrice,
	FieldServings,
	FieldServingSize,
	FieldIngredients,
	FieldDosage,
}

// Candidate is one raw numeric match plus the score of the block it came
// from, so later stages can re-rank without re-scanning markup.
type Candidate struct {
	Raw        string  `json:"raw"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	BlockScore float64 `json:"block_score"`
}

// IngredientCandidate is a name+amount pair matched by the ingredient
// grammar, before canonicalization.
type IngredientCandidate struct {
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	Unit       string  `json:"unit"`
	BlockScore float64 `json:"block_score"`
}

// PatternResult is the typed partial record produced by regex extraction.
// Price is nil when no non-strikethrough price form matched.
type PatternResult struct {
	Price        *float64              `json:"price,omitempty"`
	Dosages      []Candidate           `json:"dosages,omitempty"`
	Quantities   []Candidate           `json:"quantities,omitempty"`
	ServingSizes []Candidate           `json:"serving_sizes,omitempty"`
	Ingredients  []IngredientCandidate `json:"ingredients,omitempty"`
	ProductName  string                `json:"product_name,omitempty"`
	Locale       string                `json:"locale,omitempty"`
	Confidence   map[Field]int         `json:"confidence"` // 0..100 per field
}

// FieldConfidence returns the confidence for a field, zero when unset.
func (p *PatternResult) FieldConfidence(f Field) int {
	if p == nil || p.Confidence == nil {
		return 0
	}
	return p.Confidence[f]
}
