// Package sites implements per-site structured extractors that parse a known
// DOM layout directly into canonical ingredient data, bypassing pattern and
// model inference when the layout is available.
package sites

import (
	"github.com/tillskottskollen/extractor/models"
)

// TableClass labels a classified nutrition table.
type TableClass string

const (
	TableNutritional TableClass = "nutritional" // macro facts, excluded
	TableSupplement  TableClass = "supplement"  // active ingredients
	TableNone        TableClass = ""
)

// QuantityTier records which container-size fallback fired, so the returned
// confidence is explainable.
type QuantityTier string

const (
	TierExplicit QuantityTier = "explicit"
	TierHeader   QuantityTier = "header"
	TierMetadata QuantityTier = "metadata"
	TierDefault  QuantityTier = "default"
)

// Result is the site-extractor-native output before conversion to the
// shared structured format.
type Result struct {
	ProductName          string
	PriceSEK             float64
	ServingSize          string
	ServingsPerContainer int
	Ingredients          map[string]models.IngredientEntry
	Unrecognized         []string
	TotalCaffeineMg      float64
	ProductType          string
	TableFound           bool
	TableClass           TableClass
	QuantityTier         QuantityTier
	Confidence           int
}

// Extractor is implemented once per known site.
type Extractor interface {
	// CanHandle reports whether this extractor knows the site's layout.
	CanHandle(url string) bool
	// Extract parses the site's known DOM layout. It returns an error only
	// for empty input; layout drift degrades confidence instead.
	Extract(markup string) (*Result, error)
	// ToStructuredFormat converts the native result to the shared view.
	ToStructuredFormat(res *Result) *models.StructuredSupplementData
}

// Registry dispatches URLs to extractors. Declaration order is the adapter
// priority: the first extractor whose CanHandle accepts the URL wins.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry with a fixed adapter order.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// Find returns the first matching extractor.
func (r *Registry) Find(url string) (Extractor, bool) {
	for _, e := range r.extractors {
		if e.CanHandle(url) {
			return e, true
		}
	}
	return nil, false
}

// toStructured is the shared Result → StructuredSupplementData mapping.
func toStructured(res *Result) *models.StructuredSupplementData {
	s := &models.StructuredSupplementData{
		ProductName:          res.ProductName,
		PriceSEK:             res.PriceSEK,
		ServingSize:          res.ServingSize,
		ServingsPerContainer: res.ServingsPerContainer,
		Ingredients:          res.Ingredients,
		Unrecognized:         res.Unrecognized,
		TotalCaffeineMg:      res.TotalCaffeineMg,
		ProductType:          res.ProductType,
		Meta: models.ExtractionMeta{
			TableFound:   res.TableFound,
			TableClass:   string(res.TableClass),
			QuantityTier: string(res.QuantityTier),
			Confidence:   res.Confidence,
		},
	}
	if s.Ingredients == nil {
		s.Ingredients = map[string]models.IngredientEntry{}
	}
	return s
}
